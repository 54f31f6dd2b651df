package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pulse/cmd/identity"
	"pulse/cmd/internal/auth/session"
	"pulse/cmd/internal/realtime"

	v1 "pulse/shared/contracts/realtime/v1"
)

// Handler wires HTTP endpoints to the identity, session, and realtime services.
type Handler struct {
	log *slog.Logger
	cfg Config

	principals identity.Store
	sessions   *session.Service
	dispatcher *realtime.Dispatcher
}

// NewHandler constructs the API handler. All dependencies are required.
func NewHandler(log *slog.Logger, cfg Config, principals identity.Store, sessions *session.Service, dispatcher *realtime.Dispatcher) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if principals == nil {
		return nil, errors.New("api: nil principal store")
	}
	if sessions == nil {
		return nil, errors.New("api: nil session service")
	}
	if dispatcher == nil {
		return nil, errors.New("api: nil dispatcher")
	}
	return &Handler{
		log:        log,
		cfg:        cfg,
		principals: principals,
		sessions:   sessions,
		dispatcher: dispatcher,
	}, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/signup", h.handleSignup)
	mux.HandleFunc("/auth/signin", h.handleSignin)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/signout", h.handleSignout)
	mux.HandleFunc("/auth/signout_all", h.handleSignoutAll)
	mux.HandleFunc("/me", h.handleMe)
	mux.HandleFunc("/realtime/send", h.handleRealtimeSend)
	mux.HandleFunc("/realtime/broadcast", h.handleRealtimeBroadcast)
	mux.HandleFunc("/realtime/status", h.handleRealtimeStatus)
	mux.HandleFunc("/realtime/connected", h.handleRealtimeConnected)
	mux.HandleFunc("/realtime/stats", h.handleRealtimeStats)
}

// ---- auth handlers ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and username are required")
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "password is required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	p, err := h.principals.Create(ctx, identity.CreateInput{
		Email:       req.Email,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Password:    req.Password,
		Now:         now,
	})
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrDuplicate):
			writeError(w, http.StatusConflict, "conflict", "email or username already exists")
		case errors.Is(err, identity.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("api.signup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	issued, _, err := h.sessions.SignIn(ctx, now, p.Username, req.Password)
	if err != nil {
		h.log.Error("api.signup.signin.fail", "err", err, "principal_id", p.ID)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("api.signup", "principal_id", p.ID, "ip", clientIP(r, h.cfg.TrustProxy))
	writeJSON(w, http.StatusCreated, signinResponse{
		Principal: toPrincipalResponse(p),
		Session:   toSessionResponse(issued),
	})
}

func (h *Handler) handleSignin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Login) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "login and password are required")
		return
	}

	now := time.Now().UTC()
	issued, p, err := h.sessions.SignIn(r.Context(), now, req.Login, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			metricSignins.WithLabelValues(signinRejected).Inc()
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		metricSignins.WithLabelValues(signinError).Inc()
		h.log.Error("api.signin.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	metricSignins.WithLabelValues(signinSuccess).Inc()
	h.log.Info("api.signin", "principal_id", p.ID, "ip", clientIP(r, h.cfg.TrustProxy))
	writeJSON(w, http.StatusOK, signinResponse{
		Principal: toPrincipalResponse(p),
		Session:   toSessionResponse(issued),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	access, exp, err := h.sessions.Refresh(r.Context(), time.Now().UTC(), token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid refresh token")
			return
		}
		h.log.Error("api.refresh.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:     access,
		AccessExpiresAt: exp,
	})
}

func (h *Handler) handleSignout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	if err := h.sessions.SignOut(r.Context(), time.Now().UTC(), token); err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid refresh token")
			return
		}
		h.log.Error("api.signout.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSignoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	n, err := h.sessions.SignOutAll(r.Context(), time.Now().UTC(), token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "invalid_token", "invalid refresh token")
			return
		}
		h.log.Error("api.signout_all.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, signoutAllResponse{Revoked: n})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	p, err := h.sessions.PrincipalByID(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "principal not found")
			return
		}
		h.log.Error("api.me.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Principal: toPrincipalResponse(p)})
}

// ---- realtime handlers ----

func (h *Handler) handleRealtimeSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req realtimeSendRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	to := strings.TrimSpace(req.To)
	text := strings.TrimSpace(req.Text)
	if to == "" || text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "to and text are required")
		return
	}

	delivered := h.dispatcher.Send(to, v1.TypeMessageNew, v1.MessageNewPayload{
		From:   claims.Subject,
		Text:   text,
		SentAt: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, realtimeSendResponse{Delivered: delivered})
}

func (h *Handler) handleRealtimeBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req realtimeBroadcastRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	n := h.dispatcher.Broadcast(v1.TypeMessageNew, v1.MessageNewPayload{
		From:   claims.Subject,
		Text:   text,
		SentAt: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, realtimeBroadcastResponse{Delivered: n})
}

func (h *Handler) handleRealtimeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, ok := h.requireAuth(w, r); !ok {
		return
	}

	pid := strings.TrimSpace(r.URL.Query().Get("principal_id"))
	if pid == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "principal_id is required")
		return
	}

	writeJSON(w, http.StatusOK, realtimeStatusResponse{
		PrincipalID: pid,
		Connected:   h.dispatcher.Registry().IsConnected(pid),
	})
}

func (h *Handler) handleRealtimeConnected(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, ok := h.requireAuth(w, r); !ok {
		return
	}

	principals := h.dispatcher.Registry().ListConnected()
	if principals == nil {
		principals = []string{}
	}
	writeJSON(w, http.StatusOK, realtimeConnectedResponse{Principals: principals})
}

func (h *Handler) handleRealtimeStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, ok := h.requireAuth(w, r); !ok {
		return
	}

	writeJSON(w, http.StatusOK, realtimeStatsResponse{
		Connections: h.dispatcher.Registry().Count(),
	})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.VerifyAccess(token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
		return session.AccessClaims{}, false
	}
	return claims, true
}
