package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/polkawar/internal/domain"
	"github.com/alanyoungcy/polkawar/internal/service"
)

// ArchiveService triggers settlement archiving.
type ArchiveService interface {
	Archive(ctx context.Context, caller common.Address, before time.Time) (int64, error)
}

// ArchiveLister lists archive files already in storage.
type ArchiveLister interface {
	Archives(ctx context.Context) ([]domain.BlobInfo, error)
}

// ArchiveHandler serves the archive endpoints.
type ArchiveHandler struct {
	archive ArchiveService
	lister  ArchiveLister
	cutoff  func(now time.Time) time.Time
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. cutoff yields the default
// archive boundary when a trigger names none; lister may be nil when no
// archive storage is configured.
func NewArchiveHandler(archive ArchiveService, lister ArchiveLister, cutoff func(time.Time) time.Time, logger *slog.Logger) *ArchiveHandler {
	if cutoff == nil {
		cutoff = func(now time.Time) time.Time { return now }
	}
	return &ArchiveHandler{archive: archive, lister: lister, cutoff: cutoff, logger: logHandler(logger, "archive")}
}

type triggerArchiveRequest struct {
	Before *time.Time `json:"before"`
}

type archiveFileJSON struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// TriggerArchive archives settlements older than the requested cutoff.
// POST /api/archive/trigger {"before":"2026-01-01T00:00:00Z"}
func (h *ArchiveHandler) TriggerArchive(w http.ResponseWriter, r *http.Request) {
	from, ok := caller(w, r)
	if !ok {
		return
	}
	var req triggerArchiveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	before := h.cutoff(time.Now().UTC())
	if req.Before != nil {
		before = req.Before.UTC()
	}

	h.logger.InfoContext(r.Context(), "handler: archive trigger requested",
		slog.String("caller", from.Hex()),
		slog.String("before", before.Format(time.RFC3339)),
	)
	n, err := h.archive.Archive(r.Context(), from, before)
	if err != nil {
		writeServiceError(w, r, h.logger, "archive", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archived": n,
		"before":   before.Format(time.RFC3339),
	})
}

// ListArchives lists the archive files in storage.
// GET /api/archive
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeServiceError(w, r, h.logger, "list archives", service.ErrArchiveDisabled)
		return
	}
	infos, err := h.lister.Archives(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list archives", err)
		return
	}
	out := make([]archiveFileJSON, len(infos))
	for i, b := range infos {
		out[i] = archiveFileJSON{Path: b.Path, Size: b.Size, LastModified: b.LastModified}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": out})
}
