// Package v1 defines the Pulse realtime protocol contract.
//
// It is intentionally stable and dependency-light: the envelope and payload
// shapes here are shared between the server and clients, and every realtime
// frame on the wire is one Envelope.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Version is the protocol version embedded into every envelope.
const Version = "v1"

// Server -> client types.
const (
	// TypeConnected confirms a successful authenticated handshake.
	TypeConnected = "connected"
	// TypeError reports a protocol or authentication error.
	TypeError = "error"
	// TypePong answers a client ping.
	TypePong = "pong"
	// TypeMessageNew delivers a private message to its recipient.
	TypeMessageNew = "message.new"
	// TypeMessageAck reports delivery status back to a sender.
	TypeMessageAck = "message.ack"
	// TypeAssistReply delivers a completion-provider answer to the asking principal.
	TypeAssistReply = "assist.reply"
)

// Client -> server types.
const (
	// TypePing is an application-level heartbeat.
	TypePing = "ping"
	// TypeMessageSend asks the server to route a private message to one principal.
	TypeMessageSend = "message.send"
	// TypeAssistAsk forwards a prompt to the completion provider.
	TypeAssistAsk = "assist.ask"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a server-originated envelope with a fresh ID.
func New(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      uuid.NewString(),
		TS:      ts,
		Payload: payload,
	}
}

// ValidateInbound performs strict structural validation for a client envelope.
// Server-originated types are rejected here: clients must not emit them.
func (e Envelope) ValidateInbound() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypePing, TypeMessageSend, TypeAssistAsk:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}
