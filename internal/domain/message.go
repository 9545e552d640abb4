package domain

// InboundMessage is the single actionable message extracted from a WhatsApp
// delivery event. From is the sender's wa_id and doubles as the agent session
// key, so one sender maps to one ongoing conversation.
type InboundMessage struct {
	From string
	Text string
}
