// Package export turns query results into downloadable chat artifacts.
package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/athenasql/athenasql/internal/observability"
	"github.com/athenasql/athenasql/internal/query"
	"github.com/athenasql/athenasql/internal/storage"
)

type Artifact struct {
	ID          string
	Filename    string
	Key         string
	ContentType string
	Format      Format
	RowCount    int
	Columns     []string
	Body        []byte
	CreatedAt   time.Time
}

type Config struct {
	Format  Format
	Archive storage.ObjectStore
	Logger  *slog.Logger
	Now     func() time.Time
	// RunID distinguishes artifacts of this process from those of earlier
	// runs sharing the archive. Empty picks a random one.
	RunID string
}

type Exporter struct {
	format  Format
	archive storage.ObjectStore
	logger  *slog.Logger
	now     func() time.Time
	runID   string
	seq     atomic.Uint64
}

func New(cfg Config) (*Exporter, error) {
	format, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	runID := strings.TrimSpace(cfg.RunID)
	if runID == "" {
		runID = uuid.NewString()[:8]
	}
	return &Exporter{format: format, archive: cfg.Archive, logger: logger, now: now, runID: runID}, nil
}

func (e *Exporter) Format() Format {
	return e.format
}

// Export encodes result under a name unique to this run, so neither
// concurrent exports nor a restarted process overwrite earlier artifacts. When an
// archive is configured the artifact is also stored there; archive failures
// are logged and leave Key empty.
func (e *Exporter) Export(ctx context.Context, conversationKey string, result query.Result) (Artifact, error) {
	body, err := Encode(e.format, result)
	if err != nil {
		return Artifact{}, fmt.Errorf("encode %s export: %w", e.format, err)
	}

	createdAt := e.now().UTC()
	id := storage.BuildExportID(conversationKey, e.runID, e.seq.Add(1))
	filename := id + "." + e.format.Extension()
	artifact := Artifact{
		ID:          id,
		Filename:    filename,
		ContentType: storage.ContentTypeForKey(filename),
		Format:      e.format,
		RowCount:    len(result.Rows),
		Columns:     append([]string(nil), result.Columns...),
		Body:        body,
		CreatedAt:   createdAt,
	}
	observability.ObserveExport(string(e.format), artifact.RowCount)

	if e.archive == nil {
		return artifact, nil
	}
	key, err := storage.BuildExportPath(id, e.format.Extension(), createdAt)
	if err != nil {
		return Artifact{}, fmt.Errorf("build archive key: %w", err)
	}
	if _, err := e.archive.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: artifact.ContentType, Filename: filename}); err != nil {
		e.logger.WarnContext(ctx, "archive export failed", append(observability.ContextAttrs(ctx),
			slog.String("export_id", id),
			slog.String("key", key),
			slog.Any("error", err),
		)...)
		return artifact, nil
	}
	artifact.Key = key
	return artifact, nil
}

func Caption(artifact Artifact) string {
	columns := "none"
	if len(artifact.Columns) > 0 {
		columns = strings.Join(artifact.Columns, ", ")
	}
	return fmt.Sprintf("Here is your export: %d row(s), columns: %s", artifact.RowCount, columns)
}
