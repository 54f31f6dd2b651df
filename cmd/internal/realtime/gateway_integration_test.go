package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	v1 "pulse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

// staticVerifier authorizes a fixed token -> principal mapping.
type staticVerifier struct {
	subjects map[string]string
}

func (v staticVerifier) VerifyAccessSubject(token string, _ time.Time) (string, error) {
	if id, ok := v.subjects[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func newTestGateway(t *testing.T, verifier AccessVerifier) (*Gateway, *Registry) {
	t.Helper()
	t.Setenv("PULSE_WS_ORIGIN_REQUIRED", "false")

	log := testLogger()
	reg := NewRegistry()
	disp := NewDispatcher(log, reg)
	return NewGateway(log, disp, verifier, nil), reg
}

func startWSTestServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func dialWS(t *testing.T, baseHTTPURL, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	u, err := url.Parse(baseHTTPURL)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	h := http.Header{}
	if strings.TrimSpace(token) != "" {
		h.Set("Authorization", "Bearer "+token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return websocket.Dial(ctx, u.String(), &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   h,
	})
}

func writeEnvelopeWS(t *testing.T, conn *websocket.Conn, env v1.Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}
}

func readEnvelopeWS(t *testing.T, conn *websocket.Conn) (v1.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, b, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	return env, nil
}

func readUntilType(t *testing.T, conn *websocket.Conn, typ string, maxReads int) v1.Envelope {
	t.Helper()
	for i := 0; i < maxReads; i++ {
		env, err := readEnvelopeWS(t, conn)
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		if env.Type == typ {
			return env
		}
	}
	t.Fatalf("did not receive envelope type %q", typ)
	return v1.Envelope{}
}

func mustJSONRaw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return b
}

func TestGatewayMissingTokenRejectedBeforeUpgrade(t *testing.T) {
	gw, _ := newTestGateway(t, staticVerifier{subjects: map[string]string{"tok-1": "p-1"}})
	ts := startWSTestServer(t, gw)

	conn, resp, err := dialWS(t, ts.URL, "")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		t.Fatalf("expected handshake failure without credentials")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("expected 401, got status=%d err=%v", status, err)
	}
}

func TestGatewayForgedTokenRejectedInSocket(t *testing.T) {
	gw, reg := newTestGateway(t, staticVerifier{subjects: map[string]string{"tok-1": "p-1"}})
	ts := startWSTestServer(t, gw)

	conn, resp, err := dialWS(t, ts.URL, "forged-token")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	env, err := readEnvelopeWS(t, conn)
	if err != nil {
		t.Fatalf("expected error envelope before close, got read error: %v", err)
	}
	if env.Type != v1.TypeError {
		t.Fatalf("first frame type = %q, want %q", env.Type, v1.TypeError)
	}
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if p.Code != "invalid_token" {
		t.Fatalf("error code = %q, want invalid_token", p.Code)
	}

	if _, err := readEnvelopeWS(t, conn); websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy-violation close, got %v", err)
	}

	if n := reg.Count(); n != 0 {
		t.Fatalf("rejected handshake left %d registry entries", n)
	}
}

func TestGatewayConnectedAckAndUnregisterOnClose(t *testing.T) {
	gw, reg := newTestGateway(t, staticVerifier{subjects: map[string]string{"tok-1": "p-1"}})
	ts := startWSTestServer(t, gw)

	conn, resp, err := dialWS(t, ts.URL, "tok-1")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	env := readUntilType(t, conn, v1.TypeConnected, 2)
	var p v1.ConnectedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("decode connected payload: %v", err)
	}
	if p.PrincipalID != "p-1" || p.ConnectionID == "" {
		t.Fatalf("connected payload = %+v", p)
	}

	if got, ok := reg.Resolve("p-1"); !ok || got != p.ConnectionID {
		t.Fatalf("Resolve = %q, %v; want %q", got, ok, p.ConnectionID)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	// Server-side teardown is asynchronous to the peer close.
	deadline := time.Now().Add(3 * time.Second)
	for reg.IsConnected("p-1") {
		if time.Now().After(deadline) {
			t.Fatalf("principal still registered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGatewayNilVerifierFailsClosed(t *testing.T) {
	gw, reg := newTestGateway(t, nil)
	ts := startWSTestServer(t, gw)

	conn, resp, err := dialWS(t, ts.URL, "tok-1")
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	env, err := readEnvelopeWS(t, conn)
	if err != nil || env.Type != v1.TypeError {
		t.Fatalf("expected error envelope, got type=%q err=%v", env.Type, err)
	}
	if n := reg.Count(); n != 0 {
		t.Fatalf("unverified handshake left %d registry entries", n)
	}
}

func TestGatewayPingAndPrivateMessageRoundTrip(t *testing.T) {
	gw, _ := newTestGateway(t, staticVerifier{subjects: map[string]string{
		"tok-a": "principal-a",
		"tok-b": "principal-b",
	}})
	ts := startWSTestServer(t, gw)

	connB, respB, err := dialWS(t, ts.URL, "tok-b")
	if respB != nil && respB.Body != nil {
		_ = respB.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial b: %v", err)
	}
	defer func() { _ = connB.Close(websocket.StatusNormalClosure, "bye") }()
	_ = readUntilType(t, connB, v1.TypeConnected, 2)

	connA, respA, err := dialWS(t, ts.URL, "tok-a")
	if respA != nil && respA.Body != nil {
		_ = respA.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial a: %v", err)
	}
	defer func() { _ = connA.Close(websocket.StatusNormalClosure, "bye") }()
	_ = readUntilType(t, connA, v1.TypeConnected, 2)

	writeEnvelopeWS(t, connA, v1.Envelope{
		V:    v1.Version,
		Type: v1.TypePing,
		ID:   "ping-1",
		TS:   time.Now().UTC(),
	})
	_ = readUntilType(t, connA, v1.TypePong, 2)

	writeEnvelopeWS(t, connA, v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeMessageSend,
		ID:   "send-1",
		TS:   time.Now().UTC(),
		Payload: mustJSONRaw(t, v1.MessageSendPayload{
			To:   "principal-b",
			Text: "hello",
		}),
	})

	ack := readUntilType(t, connA, v1.TypeMessageAck, 4)
	var ackP v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &ackP); err != nil {
		t.Fatalf("decode message ack: %v", err)
	}
	if ackP.To != "principal-b" || !ackP.Delivered {
		t.Fatalf("ack = %+v, want delivered to principal-b", ackP)
	}

	msg := readUntilType(t, connB, v1.TypeMessageNew, 4)
	var msgP v1.MessageNewPayload
	if err := json.Unmarshal(msg.Payload, &msgP); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msgP.From != "principal-a" || msgP.Text != "hello" {
		t.Fatalf("message = %+v", msgP)
	}
}
