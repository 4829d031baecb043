package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/approval"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/audit"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/config"
	"github.com/slavko-at-klincov-it/geofrey.ai-sub002/internal/version"
)

type ChatProcessor interface {
	ProcessForChannel(ctx context.Context, channel, chatID, senderID, content string) (string, error)
}

// ApprovalGate is the subset of the approval gate the admin API needs.
type ApprovalGate interface {
	PendingList() []approval.Pending
	Resolve(nonce string, approved bool) bool
}

// AuditVerifier checks one day's audit chain.
type AuditVerifier interface {
	Verify(date string) (audit.Report, error)
}

type Server struct {
	cfg        config.GatewayConfig
	processor  ChatProcessor
	gate       ApprovalGate
	auditLog   AuditVerifier
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, processor ChatProcessor, gate ApprovalGate, auditLog AuditVerifier) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18890
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:       cfg,
		processor: processor,
		gate:      gate,
		auditLog:  auditLog,
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	mux := NewHandler(s.cfg.Token, s.processor, s.gate, s.auditLog)
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func NewHandler(token string, processor ChatProcessor, gate ApprovalGate, auditLog AuditVerifier) http.Handler {
	mux := http.NewServeMux()
	health := func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"request_id": requestID,
		})
	}
	mux.HandleFunc("/health", health)
	mux.HandleFunc("/healthz", health)
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    version.Version,
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodPost {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if !requireAuth(w, r, token, requestID) {
			return
		}

		var req struct {
			Message   string `json:"message"`
			SessionID string `json:"session_id"`
			SenderID  string `json:"sender_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}
		msg := strings.TrimSpace(req.Message)
		if msg == "" {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "message is required")
			return
		}
		sessionID := strings.TrimSpace(req.SessionID)
		if sessionID == "" {
			sessionID = "default"
		}
		senderID := strings.TrimSpace(req.SenderID)
		if senderID == "" {
			senderID = "api"
		}

		if processor == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "chat processor is not configured")
			return
		}

		resp, err := processor.ProcessForChannel(r.Context(), "gateway", sessionID, senderID, msg)
		if err != nil {
			slog.Error("gateway chat failed", "request_id", requestID, "session_id", sessionID, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to process chat request")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"response":   resp,
			"session_id": sessionID,
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/approvals", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if !requireAuth(w, r, token, requestID) {
			return
		}
		if gate == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "approval gate is not configured")
			return
		}
		pending := gate.PendingList()
		writeJSON(w, http.StatusOK, map[string]any{
			"pending":    pending,
			"count":      len(pending),
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/approvals/", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodPost {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if !requireAuth(w, r, token, requestID) {
			return
		}
		if gate == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "approval gate is not configured")
			return
		}

		nonce := strings.TrimPrefix(r.URL.Path, "/approvals/")
		if nonce == "" || strings.Contains(nonce, "/") {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "approval nonce is required")
			return
		}

		var req struct {
			Approved bool `json:"approved"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}

		if !gate.Resolve(nonce, req.Approved) {
			writeError(w, requestID, http.StatusNotFound, "not_found", "approval not found or already resolved")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"nonce":      nonce,
			"approved":   req.Approved,
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/audit/verify", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		if !requireAuth(w, r, token, requestID) {
			return
		}
		if auditLog == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "audit log is not configured")
			return
		}

		date := strings.TrimSpace(r.URL.Query().Get("date"))
		if date == "" {
			date = time.Now().UTC().Format(time.DateOnly)
		}
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "date must be YYYY-MM-DD")
			return
		}

		report, err := auditLog.Verify(date)
		if err != nil {
			if errors.Is(err, audit.ErrNoAuditFile) {
				writeError(w, requestID, http.StatusNotFound, "not_found", "no audit entries for "+date)
				return
			}
			slog.Error("audit verify failed", "request_id", requestID, "date", date, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to verify audit chain")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"date":         date,
			"valid":        report.Valid,
			"entries":      report.Entries,
			"first_broken": report.FirstBroken,
			"request_id":   requestID,
		})
	})
	return mux
}

func requireAuth(w http.ResponseWriter, r *http.Request, token, requestID string) bool {
	if strings.TrimSpace(token) == "" {
		return true
	}
	if !isAuthorized(r, token) {
		writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return false
	}
	return true
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	if got == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(got, prefix))
	return token == expected
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
