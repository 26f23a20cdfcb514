// Package gateway exposes the Session Manager over a loopback HTTP relay so
// a sandboxed CLI invocation (which cannot reach the host's tmux sessions or
// RPC daemon directly) can drive it, and provides the client half that
// speaks to that relay with container->host path translation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/devsessions/devsessions/internal/debug"
	"github.com/devsessions/devsessions/internal/registry"
	"github.com/devsessions/devsessions/internal/session"
)

const (
	// DefaultPort is the loopback bind port absent DEV_SESSIONS_GATEWAY_PORT.
	DefaultPort = 6767

	portEnv = "DEV_SESSIONS_GATEWAY_PORT"
)

// Port resolves the bind/target port from DEV_SESSIONS_GATEWAY_PORT, falling
// back to DefaultPort on an absent or malformed value.
func Port() int {
	if raw := os.Getenv(portEnv); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			return p
		}
	}
	return DefaultPort
}

// validationError marks an error as a client mistake (HTTP 400) rather than
// an operational failure (HTTP 500).
type validationError struct{ msg string }

func (e *validationError) Error() string { return e.msg }

func newValidationError(format string, args ...interface{}) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

func isValidationError(err error) bool {
	var v *validationError
	if errors.As(err, &v) {
		return true
	}
	return errors.Is(err, registry.ErrNotFound)
}

// Server is the HTTP relay wrapping a Session Manager. Each handler invokes
// the same manager operation a local caller would use, then serializes the
// response as JSON.
type Server struct {
	manager    *session.Manager
	httpServer *http.Server
	listener   net.Listener
}

// New builds a Server bound to loopback on the given port.
func New(manager *session.Manager, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{manager: manager}

	mux.HandleFunc("/create", s.handleCreate)
	mux.HandleFunc("/send", s.handleSend)
	mux.HandleFunc("/kill", s.handleKill)
	mux.HandleFunc("/list", s.handleList)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/wait", s.handleWait)
	mux.HandleFunc("/last-message", s.handleLastMessage)
	mux.HandleFunc("/logs", s.handleLogs)
	mux.HandleFunc("/inspect", s.handleInspect)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Serve starts listening and blocks until ctx is canceled, at which point it
// gives in-flight requests a grace period before forcing shutdown.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = listener

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			debug.Logf("gateway: shutdown: %v\n", err)
		}
	}()

	err = s.httpServer.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the address actually bound, valid only once Serve has
// started listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		debug.Logf("gateway: encode response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	if isValidationError(err) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": err.Error()})
}

func queryString(r *http.Request, key string) (string, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return "", newValidationError("missing required query parameter %q", key)
	}
	return v, nil
}

func queryPositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, newValidationError("query parameter %q must be a positive integer", key)
	}
	return n, nil
}

type createRequestBody struct {
	Path        string `json:"path"`
	CLI         string `json:"cli,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Description string `json:"description,omitempty"`
}

// kindForCLI maps the gateway's "cli" selector to a backend kind: "codex"
// (the RPC-capable agent CLI) selects the RPC backend, anything else
// (including an absent field, the common case) selects the tmux-driven
// TERM backend.
func kindForCLI(cli string) registry.Kind {
	if cli == "codex" {
		return registry.KindRPC
	}
	return registry.KindTERM
}

func modeForRequest(kind registry.Kind, raw string) registry.Mode {
	if kind == registry.KindRPC {
		return registry.ModeRPC
	}
	switch raw {
	case string(registry.ModeB):
		return registry.ModeB
	case string(registry.ModeC):
		return registry.ModeC
	default:
		return registry.ModeA
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, newValidationError("method %s not allowed on /create", r.Method))
		return
	}
	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, newValidationError("malformed JSON body: %v", err))
		return
	}
	if body.Path == "" {
		writeError(w, newValidationError("path is required"))
		return
	}

	kind := kindForCLI(body.CLI)
	rec, err := s.manager.CreateSession(r.Context(), session.CreateSessionOptions{
		Kind:          kind,
		Mode:          modeForRequest(kind, body.Mode),
		WorkspacePath: body.Path,
		Description:   body.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "sessionId": rec.Handle, "session": rec})
}

type sendRequestBody struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
	File      string `json:"file,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, newValidationError("method %s not allowed on /send", r.Method))
		return
	}
	var body sendRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, newValidationError("malformed JSON body: %v", err))
		return
	}
	if body.SessionID == "" {
		writeError(w, newValidationError("sessionId is required"))
		return
	}
	hasMessage, hasFile := body.Message != "", body.File != ""
	if hasMessage == hasFile {
		writeError(w, newValidationError("exactly one of message or file is required"))
		return
	}

	text := body.Message
	if hasFile {
		data, err := os.ReadFile(body.File) // #nosec G304 - caller-supplied path, gateway trusts its local caller
		if err != nil {
			writeError(w, newValidationError("reading file %q: %v", body.File, err))
			return
		}
		text = string(data)
	}

	if _, err := s.manager.SendMessage(r.Context(), body.SessionID, text); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

type killRequestBody struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, newValidationError("method %s not allowed on /kill", r.Method))
		return
	}
	var body killRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, newValidationError("malformed JSON body: %v", err))
		return
	}
	if body.SessionID == "" {
		writeError(w, newValidationError("sessionId is required"))
		return
	}
	if err := s.manager.KillSession(r.Context(), body.SessionID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, newValidationError("method %s not allowed on /list", r.Method))
		return
	}
	sessions, err := s.manager.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "sessions": sessions})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, newValidationError("method %s not allowed on /status", r.Method))
		return
	}
	id, err := queryString(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.manager.GetSessionStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "status": result.Status})
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, newValidationError("method %s not allowed on /wait", r.Method))
		return
	}
	id, err := queryString(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	timeoutSeconds, err := queryPositiveInt(r, "timeout", 30)
	if err != nil {
		writeError(w, err)
		return
	}
	intervalSeconds, err := queryPositiveInt(r, "interval", 2)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := s.manager.WaitForSession(r.Context(), id, session.WaitOptions{
		Timeout:      time.Duration(timeoutSeconds) * time.Second,
		PollInterval: time.Duration(intervalSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok": true,
		"waitResult": map[string]interface{}{
			"completed": result.Completed,
			"timedOut":  result.TimedOut,
			"elapsedMs": result.ElapsedMs,
		},
	})
}

func (s *Server) handleLastMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, newValidationError("method %s not allowed on /last-message", r.Method))
		return
	}
	id, err := queryString(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	n, err := queryPositiveInt(r, "n", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	blocks, err := s.manager.GetLastMessages(r.Context(), id, n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "blocks": blocks})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, newValidationError("method %s not allowed on /logs", r.Method))
		return
	}
	id, err := queryString(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	logs, err := s.manager.GetLogs(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "logs": logs})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, newValidationError("method %s not allowed on /inspect", r.Method))
		return
	}
	id, err := queryString(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := s.manager.Inspect(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "session": rec})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}
