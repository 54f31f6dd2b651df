package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"pulse/cmd/internal/assist"
	v1 "pulse/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "pulse.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	wsDefaultAssistTimeout = 30 * time.Second

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// AccessVerifier authenticates the bearer assertion presented at handshake.
type AccessVerifier interface {
	VerifyAccessSubject(token string, now time.Time) (principalID string, err error)
}

// rejectAllVerifier stands in when no verifier is wired. Every handshake
// fails closed instead of panicking on a nil dereference.
type rejectAllVerifier struct{}

func (rejectAllVerifier) VerifyAccessSubject(string, time.Time) (string, error) {
	return "", errors.New("no access verifier configured")
}

// Gateway is the WebSocket entrypoint for Pulse realtime.
//
// It authenticates the handshake, binds the connection into the dispatcher's
// registry, and runs the per-connection read/write/heartbeat loops. Every
// accepted connection maps exactly one principal.
type Gateway struct {
	log        *slog.Logger
	dispatcher *Dispatcher
	verifier   AccessVerifier
	completer  assist.Completer

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but cross-origin requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	assistTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, dispatcher *Dispatcher, verifier AccessVerifier, completer assist.Completer) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if dispatcher == nil {
		dispatcher = NewDispatcher(log, NewRegistry())
	}
	if verifier == nil {
		log.Warn("ws.gateway.no_verifier", "effect", "all handshakes rejected")
		verifier = rejectAllVerifier{}
	}
	if completer == nil {
		completer = assist.Disabled{}
	}

	g := &Gateway{log: log, dispatcher: dispatcher, verifier: verifier, completer: completer}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("PULSE_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("PULSE_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("PULSE_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy: same-host is ok, and
	// cross-origin requires OriginPatterns (host patterns). Derive the
	// patterns from the allowlist so the two layers agree.
	g.originPatterns = originPatternsFromAllowlist(g.allowedOrigins)

	g.writeTimeout = envDurationWS("PULSE_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("PULSE_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("PULSE_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("PULSE_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("PULSE_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.assistTimeout = envDurationWS("PULSE_WS_ASSIST_TIMEOUT", wsDefaultAssistTimeout)

	g.rateEvents = envIntWS("PULSE_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("PULSE_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
//
// Credential handling is split across the upgrade boundary: a missing
// credential is refused as plain HTTP 401 before upgrading, while an invalid
// one is reported inside the socket (error envelope, then close) so browser
// clients can observe the reason.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		metricHandshakes.WithLabelValues(handshakeUnauthorized).Inc()
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		metricHandshakes.WithLabelValues(handshakeRejected).Inc()
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure, // dev-only escape hatch
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		metricHandshakes.WithLabelValues(handshakeRejected).Inc()
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		metricHandshakes.WithLabelValues(handshakeRejected).Inc()
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()

	principalID, err := g.verifier.VerifyAccessSubject(token, now)
	if err != nil {
		metricHandshakes.WithLabelValues(handshakeUnauthorized).Inc()
		g.rejectInSocket(r.Context(), conn, "invalid_token", "credential rejected")
		return
	}

	connID, err := NewConnectionID(now)
	if err != nil {
		g.log.Error("ws.connection_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "id generation failed")
		return
	}

	client := NewClient(principalID, connID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Registry removal happens before client.Close so a concurrent dispatcher
	// sees the principal as offline rather than enqueueing into a dying client.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.dispatcher.Detach(client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Single-connection policy: a reconnecting principal displaces the older
	// session, which is then torn down by its own loops.
	if displaced := g.dispatcher.Attach(client); displaced != nil {
		g.log.Info("ws.displace",
			"principal_id", principalID,
			"old_connection_id", displaced.ConnectionID,
			"new_connection_id", connID,
		)
		displaced.Close()
	}
	metricHandshakes.WithLabelValues(handshakeAccepted).Inc()

	g.log.Info("ws.connect", "principal_id", principalID, "connection_id", connID)

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "connection_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "connection_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	connectedPayload, _ := json.Marshal(v1.ConnectedPayload{
		PrincipalID:  principalID,
		ConnectionID: connID,
	})
	if !g.enqueue(ctx, client, v1.New(v1.TypeConnected, connectedPayload, now)) {
		shutdown(websocket.StatusAbnormalClosure, "connected ack failed")
		return
	}

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "connection_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.ValidateInbound(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypePing:
			pong, _ := json.Marshal(v1.PongPayload{TS: now})
			_ = g.enqueue(ctx, client, v1.New(v1.TypePong, pong, now))

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, client, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeAssistAsk:
			if err := g.onAssistAsk(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "assist_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}

	g.log.Info("ws.disconnect", "principal_id", principalID, "connection_id", connID)
}

// ---- handlers ----

func (g *Gateway) onMessageSend(ctx context.Context, client *Client, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	to := strings.TrimSpace(p.To)
	if to == "" {
		return errors.New("missing to")
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	delivered := g.dispatcher.Send(to, v1.TypeMessageNew, v1.MessageNewPayload{
		From:   client.PrincipalID,
		Text:   text,
		SentAt: now,
	})

	ack, _ := json.Marshal(v1.MessageAckPayload{To: to, Delivered: delivered})
	if !g.enqueue(ctx, client, v1.New(v1.TypeMessageAck, ack, now)) {
		return errors.New("backpressure: ack")
	}
	return nil
}

func (g *Gateway) onAssistAsk(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.AssistAskPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	prompt := strings.TrimSpace(p.Prompt)
	if prompt == "" {
		return errors.New("empty prompt")
	}
	if len([]rune(prompt)) > maxPromptChars {
		return fmt.Errorf("prompt too long: max=%d chars", maxPromptChars)
	}

	// Provider round-trips run outside the read loop so a slow completion
	// never stalls heartbeats or other inbound envelopes.
	go func() {
		askCtx, cancel := context.WithTimeout(ctx, g.assistTimeout)
		defer cancel()

		reply, err := g.completer.Complete(askCtx, prompt)
		if err != nil {
			g.log.Info("ws.assist.fail", "connection_id", client.ConnectionID, "err", err)
			code := "assist_failed"
			if errors.Is(err, assist.ErrDisabled) {
				code = "assist_disabled"
			}
			g.trySendError(ctx, client, code, "completion unavailable")
			return
		}

		out, _ := json.Marshal(v1.AssistReplyPayload{Prompt: prompt, Reply: reply})
		_ = g.enqueue(ctx, client, v1.New(v1.TypeAssistReply, out, time.Now().UTC()))
	}()
	return nil
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, client, v1.New(v1.TypeError, p, time.Now().UTC()))
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// rejectInSocket reports a post-upgrade handshake failure inside the socket,
// then closes it. Best effort: the peer may already be gone.
func (g *Gateway) rejectInSocket(ctx context.Context, conn *websocket.Conn, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := v1.New(v1.TypeError, p, time.Now().UTC())
	_ = writeEnvelope(ctx, conn, env, wsDefaultWriteTimeout)
	_ = conn.Close(websocket.StatusPolicyViolation, code)
}

// bearerToken extracts the access assertion from the Authorization header or,
// for browser WebSocket clients that cannot set headers, the token query
// parameter.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors come from json.Unmarshal, not conn.Read. This
	// fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func originPatternsFromAllowlist(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Only hosts extracted from the allowlist are
	// accepted.
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
