package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pathwatch/pathwatch-engine/internal/models"
	"github.com/pathwatch/pathwatch-engine/internal/utils"
)

func watchUpdate(status models.SLAWatchStatus, score float64) models.SLAWatchUpdate {
	return models.SLAWatchUpdate{
		OrgID: "org_1", ProjectID: "proj_1",
		ServiceName: "checkout", Environment: "production",
		CorrelationKey: "corr_1", DataPathKey: "dp_1",
		Status: status, RiskScore: score, Source: "datadog",
		LogsSnapshot: []models.LogLine{{Level: "WARN", Message: "latency climbing"}},
	}
}

func TestUpsertWatchEntryRefreshesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := s.UpsertWatchEntry(ctx, watchUpdate(models.WatchAtRisk, 0.6), t0)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if first.Status != models.WatchAtRisk || !first.FirstDetectedAt.Equal(t0) {
		t.Fatalf("unexpected first entry: %+v", first)
	}

	second, err := s.UpsertWatchEntry(ctx, watchUpdate(models.WatchBreached, 0.95), t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same tuple must refresh one row, got new id %s", second.ID)
	}
	if second.Status != models.WatchBreached || second.RiskScore != 0.95 {
		t.Fatalf("status/score not refreshed: %+v", second)
	}
	if !second.FirstDetectedAt.Equal(t0) {
		t.Fatalf("FirstDetectedAt must stay immutable, got %v", second.FirstDetectedAt)
	}
	if !second.LastUpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("LastUpdatedAt should advance, got %v", second.LastUpdatedAt)
	}
}

func TestListWatchEntriesDefaultExcludesCleared(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entry, err := s.UpsertWatchEntry(ctx, watchUpdate(models.WatchAtRisk, 0.6), now)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	other := watchUpdate(models.WatchBreached, 0.9)
	other.ServiceName = "payments"
	if _, err := s.UpsertWatchEntry(ctx, other, now); err != nil {
		t.Fatalf("upsert other: %v", err)
	}

	if _, err := s.ClearWatchEntry(ctx, "org_1", entry.ID, now.Add(time.Second)); err != nil {
		t.Fatalf("clear: %v", err)
	}

	active, err := s.ListWatchEntries(ctx, "org_1", WatchFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ServiceName != "payments" {
		t.Fatalf("cleared entries must be excluded by default: %+v", active)
	}

	cleared, err := s.ListWatchEntries(ctx, "org_1", WatchFilters{
		Status: []models.SLAWatchStatus{models.WatchCleared},
	})
	if err != nil {
		t.Fatalf("list cleared: %v", err)
	}
	if len(cleared) != 1 || cleared[0].ID != entry.ID {
		t.Fatalf("explicit status filter should surface cleared entries: %+v", cleared)
	}
}

func TestListWatchEntriesOrderedByRisk(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	low := watchUpdate(models.WatchAtRisk, 0.55)
	low.ServiceName = "search"
	high := watchUpdate(models.WatchBreached, 0.97)
	high.ServiceName = "payments"

	if _, err := s.UpsertWatchEntry(ctx, low, now); err != nil {
		t.Fatalf("upsert low: %v", err)
	}
	if _, err := s.UpsertWatchEntry(ctx, high, now); err != nil {
		t.Fatalf("upsert high: %v", err)
	}

	entries, err := s.ListWatchEntries(ctx, "org_1", WatchFilters{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ServiceName != "payments" {
		t.Fatalf("riskiest entry must sort first: %+v", entries)
	}
}

func TestClearWatchEntryNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ClearWatchEntry(context.Background(), "org_1", "missing", time.Now().UTC())
	if !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCleanupClearedEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entry, err := s.UpsertWatchEntry(ctx, watchUpdate(models.WatchAtRisk, 0.6), base)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.ClearWatchEntry(ctx, "org_1", entry.ID, base.Add(time.Minute)); err != nil {
		t.Fatalf("clear: %v", err)
	}

	// Cutoff before the clear: nothing is old enough yet.
	deleted, err := s.CleanupClearedEntries(ctx, "org_1", base)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("nothing should be deleted yet, got %d", deleted)
	}

	deleted, err = s.CleanupClearedEntries(ctx, "org_1", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("cleared entry past cutoff should be deleted, got %d", deleted)
	}
}
