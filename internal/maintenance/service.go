// Package maintenance runs periodic housekeeping for the bot process.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/athenasql/athenasql/internal/storage"
)

// Sweeper drops conversations idle for longer than the given TTL.
type Sweeper interface {
	Sweep(idleTTL time.Duration) int
	Len() int
}

// ExportArchive is the part of the object store that retention needs.
type ExportArchive interface {
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

type Config struct {
	SweepInterval time.Duration
	IdleTTL       time.Duration
	// ExportRetention is how long archived exports are kept. Zero keeps
	// them forever.
	ExportRetention time.Duration
}

type Service struct {
	Conversations Sweeper
	Exports       ExportArchive
	Config        Config
	Logger        *slog.Logger
	Clock         func() time.Time
}

type SweepSummary struct {
	Evicted        int `json:"evicted"`
	Remaining      int `json:"remaining"`
	ExportsDeleted int `json:"exports_deleted"`
}

func (s *Service) Run(ctx context.Context) error {
	sweepTicker := time.NewTicker(s.sweepInterval())
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweepTicker.C:
			summary := s.RunSweepOnce(ctx)
			if s.Logger != nil && (summary.Evicted > 0 || summary.ExportsDeleted > 0) {
				s.Logger.InfoContext(ctx, "conversation sweep completed", slog.Any("summary", summary))
			}
		}
	}
}

func (s *Service) RunSweepOnce(ctx context.Context) SweepSummary {
	var summary SweepSummary
	if s.Conversations != nil {
		summary.Evicted = s.Conversations.Sweep(s.idleTTL())
		summary.Remaining = s.Conversations.Len()
		observeSweep(summary.Evicted)
	}
	summary.ExportsDeleted = s.expireExports(ctx)
	return summary
}

// expireExports deletes archived exports last modified before the retention
// window. Failures are logged and retried on the next sweep.
func (s *Service) expireExports(ctx context.Context) int {
	if s.Exports == nil || s.Config.ExportRetention <= 0 {
		return 0
	}
	cutoff := s.clock().Add(-s.Config.ExportRetention)
	objects, err := s.Exports.List(ctx, storage.ExportsPrefix)
	if err != nil {
		s.warn(ctx, "list archived exports failed", slog.Any("error", err))
		return 0
	}

	deleted := 0
	for _, object := range objects {
		if object.LastModified.IsZero() || !object.LastModified.Before(cutoff) {
			continue
		}
		if err := s.Exports.Delete(ctx, object.Key); err != nil {
			s.warn(ctx, "delete expired export failed", slog.String("key", object.Key), slog.Any("error", err))
			continue
		}
		deleted++
	}
	observeExportsExpired(deleted)
	return deleted
}

func (s *Service) warn(ctx context.Context, msg string, attrs ...any) {
	if s.Logger != nil {
		s.Logger.WarnContext(ctx, msg, attrs...)
	}
}

func (s *Service) clock() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock()
}

func (s *Service) sweepInterval() time.Duration {
	if s.Config.SweepInterval <= 0 {
		return 5 * time.Minute
	}
	return s.Config.SweepInterval
}

func (s *Service) idleTTL() time.Duration {
	if s.Config.IdleTTL <= 0 {
		return 24 * time.Hour
	}
	return s.Config.IdleTTL
}
