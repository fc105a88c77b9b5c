// Package archive exports settlement snapshots of resolved markets to object
// storage on a schedule.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openwager/wagerd/internal/domain"
)

// Snapshot is the JSON document written to object storage for each settled
// market. It captures the market, its outcomes, and every recorded position
// with the reward paid for it at the time of archiving.
type Snapshot struct {
	Market     domain.Market           `json:"market"`
	Outcomes   []domain.Outcome        `json:"outcomes"`
	Positions  []domain.PositionRecord `json:"positions"`
	ArchivedAt time.Time               `json:"archived_at"`
}

// multipartWriter is implemented by blob writers that support multipart
// uploads for large objects.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// Archiver exports settlement snapshots for resolved markets that have not
// been archived yet.
type Archiver struct {
	store     domain.ArchiveStore
	blob      domain.BlobWriter
	batchSize int
	// Snapshots at or above this many bytes go through the blob writer's
	// multipart path when it offers one.
	multipartThreshold int64
	logger             *slog.Logger
}

// New creates an Archiver. batchSize caps how many markets one run exports.
func New(store domain.ArchiveStore, blob domain.BlobWriter, batchSize int, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Archiver{
		store:              store,
		blob:               blob,
		batchSize:          batchSize,
		multipartThreshold: 5 << 20,
		logger:             logger.With(slog.String("component", "archiver")),
	}
}

// Run performs one archiving pass: it exports a snapshot for each unarchived
// resolved market, then marks the market archived. A failure on one market is
// logged and does not stop the rest of the batch.
func (a *Archiver) Run(ctx context.Context) error {
	markets, err := a.store.ListUnarchived(ctx, a.batchSize)
	if err != nil {
		return fmt.Errorf("archive: list unarchived: %w", err)
	}
	if len(markets) == 0 {
		return nil
	}

	archived := 0
	for _, m := range markets {
		if err := a.archiveMarket(ctx, m); err != nil {
			a.logger.ErrorContext(ctx, "archive: market failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		archived++
	}

	a.logger.InfoContext(ctx, "archive: pass complete",
		slog.Int("archived", archived),
		slog.Int("failed", len(markets)-archived),
	)
	return nil
}

func (a *Archiver) archiveMarket(ctx context.Context, m domain.Market) error {
	outcomes, err := a.store.OutcomesByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("archive: outcomes: %w", err)
	}
	positions, err := a.store.PositionsByMarket(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("archive: positions: %w", err)
	}

	now := time.Now().UTC()
	snap := Snapshot{
		Market:     m,
		Outcomes:   outcomes,
		Positions:  positions,
		ArchivedAt: now,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	path := fmt.Sprintf("settlements/%s/market-%d.json", now.Format("2006/01/02"), m.ID)
	if mp, ok := a.blob.(multipartWriter); ok && int64(len(data)) >= a.multipartThreshold {
		if err := mp.PutMultipart(ctx, path, bytes.NewReader(data), "application/json", 0); err != nil {
			return fmt.Errorf("archive: upload snapshot: %w", err)
		}
	} else if err := a.blob.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("archive: upload snapshot: %w", err)
	}

	// Mark last: a crash between upload and mark re-exports the snapshot on
	// the next pass, which overwrites the same object.
	if err := a.store.MarkArchived(ctx, m.ID, now); err != nil {
		return fmt.Errorf("archive: mark archived: %w", err)
	}
	return nil
}

// Scheduler runs the archiver on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler registers the archiver under the given cron spec, e.g.
// "*/15 * * * *" for every fifteen minutes.
func NewScheduler(a *Archiver, spec string, logger *slog.Logger) (*Scheduler, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := a.Run(ctx); err != nil {
			logger.Error("archive: scheduled run failed",
				slog.String("error", err.Error()),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("archive: schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, logger: logger}, nil
}

// Start launches the schedule and blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return ctx.Err()
}
