// Package api serves the shard HTTP endpoints: add records, query keys,
// read statistics and trigger a snapshot.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/keyindex"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/shard"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chunk-key-indexer/pkg/logger"
)

const maxBodyBytes = 64 << 20

// Snapshotter writes one shard to the snapshot store. *snapshot.Manager
// implements it.
type Snapshotter interface {
	SnapshotShard(ctx context.Context, s *shard.Shard) (snapshot.Entry, error)
}

type Handler struct {
	router      *shard.Router
	snapshotter Snapshotter
	logger      *slog.Logger
}

// New creates a Handler. snapshotter may be nil when snapshots are disabled.
func New(router *shard.Router, snapshotter Snapshotter) *Handler {
	return &Handler{
		router:      router,
		snapshotter: snapshotter,
		logger:      slog.Default().With("component", "api-handler"),
	}
}

func (h *Handler) AddRecords(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	s, ok := h.shard(w, r)
	if !ok {
		return
	}
	var req ingest.AddRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ingest.ValidateAdd(req.Pairs, req.Weights); err != nil {
		h.writeValidation(w, err)
		return
	}

	n, err := s.Add(ingest.ToPairs(req.Pairs), req.Weights)
	if err != nil {
		log.Warn("add rejected", "shard_id", s.ID(), "error", err)
		h.fail(w, err)
		return
	}
	log.Debug("records added", "shard_id", s.ID(), "pairs", len(req.Pairs), "chunk_count", n)
	h.writeJSON(w, http.StatusOK, ingest.AddResponse{
		ShardID:    s.ID(),
		Added:      min(len(req.Pairs), len(req.Weights)),
		ChunkCount: n,
	})
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shard(w, r)
	if !ok {
		return
	}
	var req ingest.QueryRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ingest.ValidateQuery(req.Keys); err != nil {
		h.writeValidation(w, err)
		return
	}

	records, err := s.Query(req.Keys)
	if err != nil {
		h.fail(w, err)
		return
	}
	if records == nil {
		records = []keyindex.Record{}
	}
	h.writeJSON(w, http.StatusOK, ingest.QueryResponse{ShardID: s.ID(), Records: records})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	s, ok := h.shard(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, s.Stats())
}

// AllStats reports every shard in ID order.
func (h *Handler) AllStats(w http.ResponseWriter, r *http.Request) {
	shards := h.router.Shards()
	out := make([]shard.Stats, len(shards))
	for i, s := range shards {
		out[i] = s.Stats()
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"shards": out})
}

func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	s, ok := h.shard(w, r)
	if !ok {
		return
	}
	if h.snapshotter == nil {
		h.fail(w, apperrors.New(apperrors.ErrShardUnavailable, http.StatusServiceUnavailable, "snapshots are disabled"))
		return
	}
	entry, err := h.snapshotter.SnapshotShard(r.Context(), s)
	if err != nil {
		log.Error("snapshot failed", "shard_id", s.ID(), "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "snapshot failed")
		return
	}
	log.Info("snapshot written", "shard_id", s.ID(), "bytes", entry.Bytes)
	h.writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) shard(w http.ResponseWriter, r *http.Request) (*shard.Shard, bool) {
	raw := r.PathValue("shard")
	id, err := strconv.Atoi(raw)
	if err != nil {
		h.fail(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "shard must be an integer, got %q", raw))
		return nil, false
	}
	s, err := h.router.Route(id)
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(w, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		h.fail(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body"))
		return false
	}
	return true
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var validationErr *ingest.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// fail reports err with the status HTTPStatusCode assigns it. An AppError
// contributes only its message.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	msg := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	h.writeError(w, apperrors.HTTPStatusCode(err), msg)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
