package v1

import "time"

// ConnectedPayload confirms the handshake and names both sides of the
// registry mapping.
type ConnectedPayload struct {
	PrincipalID  string `json:"principal_id"`
	ConnectionID string `json:"connection_id"`
}

// ErrorPayload reports a protocol-level failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongPayload answers a ping.
type PongPayload struct {
	TS time.Time `json:"ts"`
}

// MessageSendPayload routes a private message to one principal.
type MessageSendPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// MessageNewPayload is delivered to the recipient of a private message.
type MessageNewPayload struct {
	From   string    `json:"from"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// MessageAckPayload tells the sender whether the recipient was online.
type MessageAckPayload struct {
	To        string `json:"to"`
	Delivered bool   `json:"delivered"`
}

// AssistAskPayload forwards a prompt to the completion provider.
type AssistAskPayload struct {
	Prompt string `json:"prompt"`
}

// AssistReplyPayload carries the provider's answer back to the asker.
type AssistReplyPayload struct {
	Prompt string `json:"prompt"`
	Reply  string `json:"reply"`
}
