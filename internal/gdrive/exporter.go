package gdrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Uploader interface {
	Sync(ctx context.Context, localPath, sessionID string) error
}

// Archive is the set of session files that changed since the last export.
type Archive interface {
	Dirty() []string
	MarkDirty(ids ...string)
	Path(sessionID string) string
}

// Exporter periodically uploads changed session archives.
type Exporter struct {
	archive  Archive
	uploader Uploader
	interval time.Duration
	logger   *slog.Logger
}

func NewExporter(archive Archive, uploader Uploader, interval time.Duration, logger *slog.Logger) *Exporter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{archive: archive, uploader: uploader, interval: interval, logger: logger}
}

// ExportOnce uploads every dirty archive. Failed sessions stay dirty for the
// next run.
func (e *Exporter) ExportOnce(ctx context.Context) (int, error) {
	var (
		errs     []error
		failed   []string
		uploaded int
	)
	for _, id := range e.archive.Dirty() {
		if err := e.uploader.Sync(ctx, e.archive.Path(id), id); err != nil {
			failed = append(failed, id)
			errs = append(errs, fmt.Errorf("export %s: %w", id, err))
			continue
		}
		uploaded++
	}
	if len(failed) > 0 {
		e.archive.MarkDirty(failed...)
	}
	return uploaded, errors.Join(errs...)
}

// Run exports on every tick and once more when ctx is done.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			e.export(finalCtx)
			cancel()
			return
		case <-ticker.C:
			e.export(ctx)
		}
	}
}

func (e *Exporter) export(ctx context.Context) {
	n, err := e.ExportOnce(ctx)
	if err != nil {
		e.logger.Warn("gdrive: export failed", "err", err)
	}
	if n > 0 {
		e.logger.Info("gdrive: exported archives", "count", n)
	}
}
