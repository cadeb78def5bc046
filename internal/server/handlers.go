package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	internalapi "github.com/coderaid/partysync/internal/api"
	"github.com/coderaid/partysync/internal/eventlog"
	"github.com/coderaid/partysync/internal/party"
)

// maxBodySize bounds submitted payloads.
const maxBodySize = 64 * 1024

// Nudger announces appended events to websocket followers.
type Nudger interface {
	Nudge(partyID string, eventID uint64)
}

type Server struct {
	log    *eventlog.Log
	nudger Nudger
	logger *zap.Logger
}

// NewServer builds the handlers. nudger may be nil.
func NewServer(log *eventlog.Log, nudger Nudger, logger *zap.Logger) *Server {
	return &Server{
		log:    log,
		nudger: nudger,
		logger: logger,
	}
}

// ListEvents returns the page of events after the optional cursor.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "party_id")

	var cursor *uint64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = party.Cursor(n)
	}

	events := s.log.After(partyID, cursor, 0)

	s.logger.Debug("list events",
		zap.String("party_id", partyID),
		zap.String("cursor", party.CursorKey(cursor)),
		zap.Int("count", len(events)),
	)

	writeJSON(w, http.StatusOK, events)
}

// SubmitEvent appends the posted payload. A repeated Idempotency-Key returns
// the original event with 200 instead of 201.
func (s *Server) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "party_id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}
	data, err := party.UnmarshalData(body)
	if err != nil || data == nil {
		writeError(w, http.StatusBadRequest, "invalid event data")
		return
	}

	key := r.Header.Get(internalapi.IdempotencyHeader)
	event, created, err := s.log.Append(partyID, userFromContext(r.Context()), data, key)
	if err != nil {
		if errors.Is(err, eventlog.ErrEmptyData) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("append failed", zap.String("party_id", partyID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "append failed")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		s.logger.Info("event appended",
			zap.String("party_id", partyID),
			zap.Uint64("event_id", event.EventID),
			zap.String("type", event.Type()),
		)
		if s.nudger != nil {
			s.nudger.Nudge(partyID, event.EventID)
		}
	}

	writeJSON(w, status, event)
}

type healthResponse struct {
	Status  string `json:"status"`
	Parties int    `json:"parties"`
	Limit   int    `json:"limit"`
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Parties: len(s.log.Parties()),
		Limit:   s.log.Limit(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
