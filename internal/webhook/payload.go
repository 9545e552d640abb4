package webhook

import "wabridge/internal/domain"

// Delivery payload shape for the WhatsApp Business webhook. Only the fields
// on the entry[0].changes[0].value.messages[0] path matter here; everything
// else in the event is carried by the audit record.
type deliveryPayload struct {
	Object string          `json:"object"`
	Entry  []deliveryEntry `json:"entry"`
}

type deliveryEntry struct {
	ID      string           `json:"id"`
	Changes []deliveryChange `json:"changes"`
}

type deliveryChange struct {
	Value deliveryValue `json:"value"`
	Field string        `json:"field"`
}

type deliveryValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Messages         []deliveryMessage `json:"messages"`
}

type deliveryMessage struct {
	From string       `json:"from"`
	ID   string       `json:"id"`
	Type string       `json:"type"`
	Text *messageText `json:"text,omitempty"`
}

type messageText struct {
	Body string `json:"body"`
}

// extractMessage walks entry[0].changes[0].value.messages[0]. A missing
// segment anywhere on the path is a normal "no message" outcome (status
// callbacks arrive on the same webhook), never an error. When the messages
// array holds more than one element only the first is processed; deliveries
// are single-message in practice.
func extractMessage(p deliveryPayload) (domain.InboundMessage, bool) {
	if len(p.Entry) == 0 {
		return domain.InboundMessage{}, false
	}
	changes := p.Entry[0].Changes
	if len(changes) == 0 {
		return domain.InboundMessage{}, false
	}
	messages := changes[0].Value.Messages
	if len(messages) == 0 {
		return domain.InboundMessage{}, false
	}

	m := messages[0]
	text := ""
	if m.Text != nil {
		text = m.Text.Body
	}
	return domain.InboundMessage{From: m.From, Text: text}, true
}
