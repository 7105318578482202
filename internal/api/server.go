// Package api exposes the operational HTTP surface: pipeline status, poison
// inspection, manual triggers and a websocket event stream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/hireloop/interview-intake/internal/events"
	"github.com/hireloop/interview-intake/internal/poison"
	"github.com/hireloop/interview-intake/internal/poller"
	"github.com/hireloop/interview-intake/internal/reconcile"
	"github.com/hireloop/interview-intake/internal/storage"
)

// TrackingReader reads the polling state for the status endpoint.
type TrackingReader interface {
	GetTracking(agentID string) (*storage.Tracking, error)
	ListAuditLogs(limit int) ([]*storage.AuditLog, error)
}

// Server wires the ops endpoints together.
type Server struct {
	agentID     string
	store       TrackingReader
	poller      *poller.Poller
	poison      *poison.Handler
	reconciler  *reconcile.Reconciler
	broadcaster *events.Broadcaster
	logger      *zap.Logger
}

func NewServer(agentID string, store TrackingReader, p *poller.Poller, handler *poison.Handler, r *reconcile.Reconciler, b *events.Broadcaster, logger *zap.Logger) *Server {
	return &Server{
		agentID:     agentID,
		store:       store,
		poller:      p,
		poison:      handler,
		reconciler:  r,
		broadcaster: b,
		logger:      logger,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/poison", s.handlePoisonList)
	r.Post("/poison/{conversationID}/retry", s.handlePoisonRetry)
	r.Delete("/poison", s.handlePoisonClear)
	r.Post("/poll", s.handlePoll)
	r.Post("/sync/verify", s.handleSyncVerify)
	r.Get("/audit", s.handleAudit)
	r.Get("/events", s.handleEvents)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"agent_id":       s.agentID,
		"poller_running": s.poller.Running(),
		"poisoned":       len(s.poison.Poisoned()),
		"retrying":       len(s.poison.Records()),
	}

	tracking, err := s.store.GetTracking(s.agentID)
	switch {
	case err == nil:
		status["tracking"] = map[string]interface{}{
			"is_active":            tracking.IsActive,
			"last_processed_at":    tracking.LastProcessedAt,
			"last_conversation_id": tracking.LastConversationID,
			"total_processed":      tracking.TotalProcessed,
			"total_failed":         tracking.TotalFailed,
			"last_error":           tracking.LastError,
		}
	case errors.Is(err, storage.ErrNotFound):
		status["tracking"] = nil
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePoisonList(w http.ResponseWriter, _ *http.Request) {
	records := s.poison.Poisoned()
	if records == nil {
		records = []*poison.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"poisoned": records})
}

func (s *Server) handlePoisonRetry(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	if !s.poison.ManualRetry(conversationID) {
		writeError(w, http.StatusNotFound, "no retry record for conversation "+conversationID)
		return
	}

	s.logger.Info("poison record cleared manually", zap.String("conversation_id", conversationID))
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversation_id": conversationID, "retried": true})
}

func (s *Server) handlePoisonClear(w http.ResponseWriter, _ *http.Request) {
	s.poison.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	summary, err := s.poller.TriggerPoll(r.Context())
	if err != nil {
		if errors.Is(err, poller.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSyncVerify(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(0)
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid window: "+err.Error())
			return
		}
		window = parsed
	}

	report, err := s.reconciler.VerifySyncStatus(r.Context(), window)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := s.store.ListAuditLogs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []*storage.AuditLog{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// handleEvents streams broadcaster events over a websocket until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ch, cancel := s.broadcaster.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already sent; nothing more can be done.
		_ = err
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
