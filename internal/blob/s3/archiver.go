package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alanyoungcy/polkawar/internal/domain"
)

const (
	archiveContentType = "application/x-ndjson"
	// multipartThreshold is the payload size above which archives are
	// uploaded in parts.
	multipartThreshold = 8 << 20
)

// SettlementSource lists settlements older than a cutoff.
type SettlementSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error)
}

// SettlementArchiver implements domain.Archiver. It copies settlement
// history to object storage as JSONL; rows are not deleted from the primary
// store.
type SettlementArchiver struct {
	writer      domain.BlobWriter
	reader      domain.BlobReader
	settlements SettlementSource
	audit       domain.AuditStore
}

// NewArchiver creates a SettlementArchiver.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	settlements SettlementSource,
	audit domain.AuditStore,
) *SettlementArchiver {
	return &SettlementArchiver{
		writer:      writer,
		reader:      reader,
		settlements: settlements,
		audit:       audit,
	}
}

// ArchiveSettlements uploads every settlement before the cutoff to
// archive/settlements/YYYY-MM.jsonl, merging with an archive already at
// that path, and records the run in the audit log. It returns the number of
// records written.
func (a *SettlementArchiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	settlements, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(settlements) == 0 {
		return 0, nil
	}

	path := archivePath("settlements", before)
	existing, err := a.load(ctx, path)
	if err != nil {
		return 0, err
	}
	merged := mergeSettlements(existing, settlements)

	buf, err := marshalJSONL(merged)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(merged))
	if err := a.audit.Log(ctx, domain.EventArchive, map[string]any{
		"path":   path,
		"count":  count,
		"added":  count - int64(len(existing)),
		"before": before.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
	}
	return count, nil
}

// Archives lists the settlement archive files already written. Other
// objects under the archive prefix are ignored.
func (a *SettlementArchiver) Archives(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, "archive/settlements/")
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Path, ".jsonl") {
			out = append(out, info)
		}
	}
	return out, nil
}

// load reads the archive at path. A missing archive is empty.
func (a *SettlementArchiver) load(ctx context.Context, path string) ([]domain.Settlement, error) {
	body, err := a.reader.Open(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("s3blob: archive settlements read %s: %w", path, err)
	}
	defer body.Close()
	return unmarshalJSONL[domain.Settlement](body)
}

// mergeSettlements appends the records of next that are not already in
// prev, keeping the order of both.
func mergeSettlements(prev, next []domain.Settlement) []domain.Settlement {
	seen := make(map[string]struct{}, len(prev))
	out := make([]domain.Settlement, 0, len(prev)+len(next))
	for _, s := range prev {
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	for _, s := range next {
		if _, dup := seen[s.ID]; dup {
			continue
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out
}

// archivePath partitions archives by the year-month of the cutoff, e.g.
// archive/settlements/2026-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func unmarshalJSONL[T any](r io.Reader) ([]T, error) {
	var out []T
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("jsonl decode line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("jsonl scan: %w", err)
	}
	return out, nil
}
