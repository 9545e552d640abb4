package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memStore struct {
	puts map[string][]byte
	err  error
}

func newMemStore() *memStore { return &memStore{puts: make(map[string][]byte)} }

func (m *memStore) Put(_ context.Context, key string, body []byte, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.puts[key] = body
	return nil
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
}

func TestRecord_WritesEventAndBody(t *testing.T) {
	store := newMemStore()
	rec := NewRecorder(store, testLogger())
	rec.now = fixedClock

	env := Envelope{Method: "POST", Path: "/webhook/whatsapp", RequestID: "req-1"}
	rec.Record(context.Background(), env, []byte(`{"entry":[]}`))

	if len(store.puts) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(store.puts))
	}

	const ts = "2025-03-14T09:26:53.589793"
	evBody, ok := store.puts["event/"+ts+".json"]
	if !ok {
		t.Fatalf("missing event object, keys: %v", keys(store.puts))
	}
	var decoded Envelope
	if err := json.Unmarshal(evBody, &decoded); err != nil {
		t.Fatalf("event object is not JSON: %v", err)
	}
	if decoded.Method != "POST" || decoded.RequestID != "req-1" {
		t.Errorf("envelope round-trip mismatch: %+v", decoded)
	}

	if string(store.puts["body/"+ts+".json"]) != `{"entry":[]}` {
		t.Errorf("body object mismatch: %s", store.puts["body/"+ts+".json"])
	}
}

func TestRecord_StoreFailureSwallowed(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("bucket gone")
	rec := NewRecorder(store, testLogger())

	// Must not panic or surface anything.
	rec.Record(context.Background(), Envelope{Method: "GET"}, nil)
}

func TestRecord_NilStoreIsNoop(t *testing.T) {
	rec := NewRecorder(nil, testLogger())
	rec.Record(context.Background(), Envelope{Method: "GET"}, []byte("x"))
}

func TestSQLiteStore_PutGet(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/audit.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "event/x.json", []byte(`{"a":1}`), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}

	content, contentType, err := store.Get(ctx, "event/x.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(content) != `{"a":1}` {
		t.Errorf("content = %s", content)
	}
	if contentType != "application/json" {
		t.Errorf("contentType = %s", contentType)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	store, err := NewSQLiteStore(t.TempDir() + "/audit.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if _, _, err := store.Get(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing key")
	}
}

func keys(m map[string][]byte) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}
