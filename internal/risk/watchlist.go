package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/pathwatch/pathwatch-engine/internal/metrics"
	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/store"
)

// Watchlist maintains the persisted SLA watch entries produced by the
// evaluator. Entries are keyed by (org, project, service, environment,
// correlation key, data path key): repeated risky events for the same tuple
// refresh one row instead of piling up.
type Watchlist struct {
	store      *store.Store
	thresholds models.SLAThresholds
	logger     *slog.Logger
}

// NewWatchlist wires the watchlist service.
func NewWatchlist(st *store.Store, thresholds models.SLAThresholds, logger *slog.Logger) *Watchlist {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchlist{store: st, thresholds: thresholds, logger: logger}
}

// Record evaluates one normalized event and, if risky, upserts the matching
// watch entry. Clean events touch nothing and return nil.
func (w *Watchlist) Record(ctx context.Context, event models.NormalizedEvent) (*models.SLAWatchEntry, error) {
	update := Evaluate(event, w.thresholds)
	if update == nil {
		return nil, nil
	}

	now := event.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	entry, err := w.store.UpsertWatchEntry(ctx, *update, now)
	if err != nil {
		w.logger.Error("watch entry upsert failed",
			slog.String("service", update.ServiceName), slog.Any("error", err))
		return nil, err
	}

	metrics.CountWatchUpdate(string(entry.Status))
	if entry.Status == models.WatchBreached {
		w.logger.Warn("sla breached",
			slog.String("service", entry.ServiceName),
			slog.String("environment", entry.Environment),
			slog.Float64("risk_score", entry.RiskScore))
	}
	return &entry, nil
}

// List returns an org's active watch entries, highest risk first. With no
// status filter, CLEARED entries are excluded.
func (w *Watchlist) List(ctx context.Context, orgID string, filters store.WatchFilters) ([]models.SLAWatchEntry, error) {
	return w.store.ListWatchEntries(ctx, orgID, filters)
}

// Clear marks a watch entry CLEARED. This is the only path to CLEARED: the
// evaluator never emits it.
func (w *Watchlist) Clear(ctx context.Context, orgID, entryID string) (models.SLAWatchEntry, error) {
	entry, err := w.store.ClearWatchEntry(ctx, orgID, entryID, time.Now().UTC())
	if err != nil {
		return models.SLAWatchEntry{}, err
	}
	metrics.CountWatchUpdate(string(entry.Status))
	return entry, nil
}

// CleanupCleared deletes CLEARED entries older than maxAge.
func (w *Watchlist) CleanupCleared(ctx context.Context, orgID string, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	deleted, err := w.store.CleanupClearedEntries(ctx, orgID, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		w.logger.Info("cleared watch entries pruned", slog.Int64("deleted", deleted))
	}
	return deleted, nil
}
