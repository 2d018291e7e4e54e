package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/mitralabs/mitra/internal/auth"
	"github.com/mitralabs/mitra/internal/bridge"
	"github.com/mitralabs/mitra/internal/config"
	"github.com/mitralabs/mitra/internal/observability"
	"github.com/mitralabs/mitra/internal/protocol"
	"github.com/mitralabs/mitra/internal/session"
	"github.com/mitralabs/mitra/internal/store"
)

// Runner drives a single attached session over its channel pair.
type Runner interface {
	Run(ctx context.Context, sessionID string, inbound <-chan any, outbound chan<- any) error
}

type Server struct {
	cfg      config.Config
	registry *session.Registry
	runner   Runner
	cleanup  *bridge.Cleanup
	verifier auth.Verifier
	store    store.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, registry *session.Registry, runner Runner, cleanup *bridge.Cleanup, verifier auth.Verifier, st store.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		cleanup:  cleanup,
		verifier: verifier,
		store:    st,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers must come from the same origin unless explicitly
				// opened up; non-browser clients usually omit Origin.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/v1/voice/session", s.handleCreateSession)
	r.Get("/v1/voice/session/ws", s.handleSessionWS)
	r.Get("/v1/voice/session/{id}", s.handleGetSession)
	r.Delete("/v1/voice/session/{id}", s.handleEndSession)
	r.Get("/v1/voice/sessions", s.handleListSessions)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.registry.Count(),
	})
}

type createSessionRequest struct {
	ProblemCategory string `json:"problem_category"`
	VoiceOption     string `json:"voice"`
	Language        string `json:"language"`
}

type createSessionResponse struct {
	*session.VoiceSession
	WebsocketURL string `json:"websocket_url"`
}

type sessionSummary struct {
	*session.VoiceSession
	TranscriptLength int `json:"transcript_length"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ProblemCategory) == "" {
		req.ProblemCategory = "general_wellbeing"
	}

	profile := s.profileFor(r.Context(), userID)
	voice := firstNonEmpty(req.VoiceOption, profileVoice(profile), s.cfg.DefaultVoice)
	language := firstNonEmpty(req.Language, profileLanguage(profile), s.cfg.DefaultLanguage)

	sess := s.registry.Create(userID, session.Options{
		ProblemCategory: strings.TrimSpace(req.ProblemCategory),
		VoiceOption:     voice,
		Language:        language,
	})
	s.metrics.ActiveSessions.Set(float64(s.registry.Count()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, createSessionResponse{
		VoiceSession: sess,
		WebsocketURL: "/v1/voice/session/ws?session_id=" + sess.ID,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	sess, err := s.registry.Get(id)
	if errors.Is(err, session.ErrNotFound) && s.store != nil {
		// Ended sessions leave the registry but survive in the store.
		sess, err = s.store.LoadSession(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			err = session.ErrNotFound
		}
	}
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", "no such session")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if sess.UserID != userID {
		respondError(w, http.StatusForbidden, "forbidden", auth.ErrNotOwner.Error())
		return
	}
	respondJSON(w, http.StatusOK, sessionSummary{
		VoiceSession:     sess,
		TranscriptLength: len(sess.Transcript),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	sess, err := s.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	if sess.UserID != userID {
		respondError(w, http.StatusForbidden, "forbidden", auth.ErrNotOwner.Error())
		return
	}

	rt, ok := s.registry.Runtime(id)
	if ok && rt.Attached() {
		// The bridge owns the teardown so the final session_ended event can
		// flush to the client before the socket closes.
		rt.RequestEnd()
		respondJSON(w, http.StatusAccepted, map[string]any{
			"session_id": id,
			"status":     "ending",
		})
		return
	}

	final := s.cleanup.End(id, session.StateEnded, "end_session")
	if final == nil {
		respondError(w, http.StatusNotFound, "session_not_found", "no such session")
		return
	}
	respondJSON(w, http.StatusOK, final)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": s.registry.ListActiveForUser(userID),
	})
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	// Attach checks happen on the open socket so rejections can use a policy
	// close code. A rejected attach leaves the session exactly as it was.
	if reason, ok := s.checkAttach(r, sessionID); !ok {
		s.metrics.SessionEvents.WithLabelValues("ws_rejected").Inc()
		closePolicyViolation(conn, reason)
		return
	}
	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	rt, ok := s.registry.Runtime(sessionID)
	if !ok {
		closePolicyViolation(conn, "session not available")
		return
	}
	// The claim is a compare-and-swap: two racers through checkAttach both see
	// CONNECTING, but only one may own the session's connection handles.
	if !rt.TryAttach() {
		s.metrics.SessionEvents.WithLabelValues("ws_rejected").Inc()
		closePolicyViolation(conn, "session already attached")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)

	// Teardown from any path nudges the reader off its blocking read; the
	// socket itself closes below, after the outbound queue has flushed.
	rt.SetClientCloser(func() {
		_ = conn.SetReadDeadline(time.Now())
	})

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = s.runner.Run(ctx, sessionID, inbound, outbound)
	}()
	// When the bridge finishes first, nudge the reader off its blocking read.
	// outbound must stay open here: the read loop also enqueues on it, so it
	// is closed below only after both senders have exited.
	go func() {
		<-runDone
		cancel()
		_ = conn.SetReadDeadline(time.Now())
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeFailed := false
		for msg := range outbound {
			if writeFailed {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				writeFailed = true
				cancel()
				continue
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_client_message",
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
			}
			continue
		}
		if t, ok := protocol.TypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	close(inbound)
	<-runDone
	close(outbound)
	<-writerDone
	conn.Close()
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// checkAttach validates token, session existence, ownership and attach state.
// It never mutates the session.
func (s *Server) checkAttach(r *http.Request, sessionID string) (string, bool) {
	userID, err := s.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		return "authentication failed", false
	}
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return "unknown session", false
	}
	if sess.UserID != userID {
		return "unknown session", false
	}
	if sess.State != session.StateConnecting {
		return "session already attached", false
	}
	return "", true
}

func closePolicyViolation(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := s.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing token")
		return "", false
	}
	return userID, true
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func (s *Server) profileFor(ctx context.Context, userID string) *store.Profile {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	profile, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil
	}
	return profile
}

func profileVoice(p *store.Profile) string {
	if p == nil {
		return ""
	}
	return p.PreferredVoice
}

func profileLanguage(p *store.Profile) string {
	if p == nil {
		return ""
	}
	return p.Language
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
