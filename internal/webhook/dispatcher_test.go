package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"wabridge/internal/audit"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type askCall struct{ query, session string }

type fakeAsker struct {
	reply string
	calls []askCall
}

func (f *fakeAsker) Ask(_ context.Context, query, sessionID string) string {
	f.calls = append(f.calls, askCall{query, sessionID})
	return f.reply
}

type sendCall struct{ to, body string }

type fakeNotifier struct {
	err   error
	calls []sendCall
}

func (f *fakeNotifier) Send(_ context.Context, to, body string) error {
	f.calls = append(f.calls, sendCall{to, body})
	return f.err
}

type recordedRequest struct {
	env  audit.Envelope
	body []byte
}

type fakeRecorder struct {
	records []recordedRequest
}

func (f *fakeRecorder) Record(_ context.Context, env audit.Envelope, body []byte) {
	f.records = append(f.records, recordedRequest{env, body})
}

type fixture struct {
	dispatcher *Dispatcher
	asker      *fakeAsker
	notifier   *fakeNotifier
	recorder   *fakeRecorder
}

func newFixture(reply string) *fixture {
	f := &fixture{
		asker:    &fakeAsker{reply: reply},
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
	}
	f.dispatcher = NewDispatcher(DispatcherConfig{
		VerifyToken: "SECRET",
		Agent:       f.asker,
		Notifier:    f.notifier,
		Recorder:    f.recorder,
		Logger:      testLogger(),
	})
	return f
}

func (f *fixture) do(method, target string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, reader)
	rr := httptest.NewRecorder()
	f.dispatcher.ServeHTTP(rr, req)
	return rr
}

func jsonField(t *testing.T, rr *httptest.ResponseRecorder, field string) string {
	t.Helper()
	var m map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("response is not a JSON object: %v (%s)", err, rr.Body.String())
	}
	return m[field]
}

func TestVerification_Success(t *testing.T) {
	f := newFixture("")
	rr := f.do("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=SECRET&hub.challenge=XYZ123", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rr.Code)
	}
	if rr.Body.String() != "XYZ123" {
		t.Errorf("body = %q, want raw challenge", rr.Body.String())
	}
}

func TestVerification_WrongToken(t *testing.T) {
	f := newFixture("")
	rr := f.do("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=WRONG&hub.challenge=X", "")

	if rr.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", rr.Code)
	}
	if jsonField(t, rr, "error") != "Invalid verification token" {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestVerification_UniformRejection(t *testing.T) {
	f := newFixture("")
	wrongMode := f.do("GET", "/webhook/whatsapp?hub.mode=unsubscribe&hub.verify_token=SECRET&hub.challenge=X", "")
	wrongToken := f.do("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=X", "")
	missing := f.do("GET", "/webhook/whatsapp", "")

	for name, rr := range map[string]*httptest.ResponseRecorder{
		"wrong mode": wrongMode, "wrong token": wrongToken, "missing params": missing,
	} {
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s: code = %d, want 403", name, rr.Code)
		}
		if rr.Body.String() != wrongMode.Body.String() {
			t.Errorf("%s: rejection body differs, token-guessing oracle", name)
		}
	}
}

func TestVerification_CaseSensitive(t *testing.T) {
	f := newFixture("")
	rr := f.do("GET", "/webhook/whatsapp?hub.mode=Subscribe&hub.verify_token=SECRET&hub.challenge=X", "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("mode comparison must be case-sensitive, got %d", rr.Code)
	}
	rr = f.do("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=X", "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("token comparison must be case-sensitive, got %d", rr.Code)
	}
}

func TestDelivery_UnparseableBody(t *testing.T) {
	f := newFixture("")
	rr := f.do("POST", "/webhook/whatsapp", "not json")

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rr.Code)
	}
	if jsonField(t, rr, "error") == "" {
		t.Error("500 body must carry the parse error description")
	}
	if len(f.asker.calls) != 0 || len(f.notifier.calls) != 0 {
		t.Error("collaborators must not run on parse failure")
	}
}

func TestDelivery_NoMessageObject(t *testing.T) {
	f := newFixture("")
	rr := f.do("POST", "/webhook/whatsapp",
		`{"entry":[{"changes":[{"value":{"messaging_product":"whatsapp"}}]}]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rr.Code)
	}
	if jsonField(t, rr, "message") != "No message object found in webhook" {
		t.Errorf("body = %s", rr.Body.String())
	}
	if len(f.asker.calls) != 0 {
		t.Error("agent must not be invoked without a message")
	}
	if len(f.notifier.calls) != 0 {
		t.Error("notifier must not be invoked without a message")
	}
}

func TestDelivery_MessageProcessed(t *testing.T) {
	f := newFixture("Hello there")
	rr := f.do("POST", "/webhook/whatsapp",
		`{"entry":[{"changes":[{"value":{"messages":[{"from":"15551234567","text":{"body":"hi"}}]}}]}]}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rr.Code)
	}
	if jsonField(t, rr, "message") != "Message processed" {
		t.Errorf("body = %s", rr.Body.String())
	}

	if len(f.asker.calls) != 1 {
		t.Fatalf("agent calls = %d, want 1", len(f.asker.calls))
	}
	if f.asker.calls[0] != (askCall{query: "hi", session: "15551234567"}) {
		t.Errorf("agent call = %+v", f.asker.calls[0])
	}

	if len(f.notifier.calls) != 1 {
		t.Fatalf("notifier calls = %d, want 1", len(f.notifier.calls))
	}
	if f.notifier.calls[0] != (sendCall{to: "15551234567", body: "Hello there"}) {
		t.Errorf("notifier call = %+v", f.notifier.calls[0])
	}
}

func TestDelivery_NotifierFailureStillAcknowledged(t *testing.T) {
	f := newFixture("reply")
	f.notifier.err = errors.New("graph API down")

	rr := f.do("POST", "/webhook/whatsapp",
		`{"entry":[{"changes":[{"value":{"messages":[{"from":"1","text":{"body":"hi"}}]}}]}]}`)

	if rr.Code != http.StatusOK {
		t.Errorf("code = %d, delivery failure must not change the response", rr.Code)
	}
	if jsonField(t, rr, "message") != "Message processed" {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestDelivery_DegradedAgentReplyStillDelivered(t *testing.T) {
	f := newFixture("Error invoking agent: throttled")
	rr := f.do("POST", "/webhook/whatsapp",
		`{"entry":[{"changes":[{"value":{"messages":[{"from":"1","text":{"body":"hi"}}]}}]}]}`)

	if rr.Code != http.StatusOK {
		t.Errorf("code = %d, want 200", rr.Code)
	}
	if len(f.notifier.calls) != 1 || f.notifier.calls[0].body != "Error invoking agent: throttled" {
		t.Errorf("degraded reply must still be sent, got %+v", f.notifier.calls)
	}
}

func TestDelivery_MissingTextBody(t *testing.T) {
	f := newFixture("ok")
	f.do("POST", "/webhook/whatsapp",
		`{"entry":[{"changes":[{"value":{"messages":[{"from":"42"}]}}]}]}`)

	if len(f.asker.calls) != 1 {
		t.Fatalf("agent calls = %d, want 1", len(f.asker.calls))
	}
	if f.asker.calls[0] != (askCall{query: "", session: "42"}) {
		t.Errorf("agent call = %+v, want empty query", f.asker.calls[0])
	}
}

func TestDispatch_MethodNotAllowed(t *testing.T) {
	f := newFixture("")
	for _, method := range []string{"PUT", "DELETE", "PATCH"} {
		rr := f.do(method, "/webhook/whatsapp", "")
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: code = %d, want 405", method, rr.Code)
		}
		if !strings.Contains(jsonField(t, rr, "error"), method) {
			t.Errorf("%s: body must name the rejected method: %s", method, rr.Body.String())
		}
	}
}

func TestDispatch_AuditHappensBeforeBranching(t *testing.T) {
	f := newFixture("")

	f.do("PUT", "/webhook/whatsapp", `{"x":1}`)
	f.do("POST", "/webhook/whatsapp", "not json")
	f.do("GET", "/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=WRONG", "")

	if len(f.recorder.records) != 3 {
		t.Fatalf("records = %d, want one per request including rejected ones", len(f.recorder.records))
	}
	if f.recorder.records[0].env.Method != "PUT" {
		t.Errorf("env method = %q", f.recorder.records[0].env.Method)
	}
	if string(f.recorder.records[1].body) != "not json" {
		t.Errorf("raw body = %q, must be recorded even when unparseable", f.recorder.records[1].body)
	}
	if f.recorder.records[2].env.Query["hub.mode"] != "subscribe" {
		t.Errorf("query not recorded: %+v", f.recorder.records[2].env.Query)
	}
	if f.recorder.records[0].env.RequestID == "" {
		t.Error("request id missing from audit envelope")
	}
}

func TestDispatch_NoRecorderConfigured(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		VerifyToken: "s",
		Agent:       &fakeAsker{},
		Notifier:    &fakeNotifier{},
		Logger:      testLogger(),
	})
	req := httptest.NewRequest("GET", "/webhook/whatsapp", nil)
	rr := httptest.NewRecorder()
	d.ServeHTTP(rr, req) // must not panic
	if rr.Code != http.StatusForbidden {
		t.Errorf("code = %d", rr.Code)
	}
}

type panickingAsker struct{}

func (panickingAsker) Ask(context.Context, string, string) string { panic("boom") }

func TestDispatch_PanicBecomes500(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		VerifyToken: "s",
		Agent:       panickingAsker{},
		Notifier:    &fakeNotifier{},
		Logger:      testLogger(),
	})
	req := httptest.NewRequest("POST", "/webhook/whatsapp",
		bytes.NewBufferString(`{"entry":[{"changes":[{"value":{"messages":[{"from":"1","text":{"body":"hi"}}]}}]}]}`))
	rr := httptest.NewRecorder()
	d.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "boom") {
		t.Errorf("500 body must carry the failure description: %s", rr.Body.String())
	}
}
