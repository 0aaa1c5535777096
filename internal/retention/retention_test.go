package retention

import (
	"context"
	"testing"
	"time"

	"formflow/pkg/models"
	"formflow/pkg/store"
)

func openStore(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.SaveForm(models.Form{Key: "survey", Published: true}, []models.Field{
		{ID: "f0", Label: "Name", Kind: models.KindShortText, OrderIdx: 0},
	}); err != nil {
		t.Fatalf("failed to save form: %v", err)
	}
}

func TestSweepOnceAbandonsIdleSessions(t *testing.T) {
	openStore(t)
	stale, err := store.CreateSession("survey", "1551", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	other, _ := store.CreateSession("survey", "1552", "")
	done, _ := store.CreateSession("survey", "1553", "")
	store.CompleteSession(done.ID)

	// evaluate from a point one day past the sessions' last activity
	future := time.Now().Add(25 * time.Hour)
	swept, err := SweepOnce(24*time.Hour, future)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected both idle sessions swept, got %d", swept)
	}

	o, _ := store.GetSession(other.ID)
	if o.Status != models.StatusAbandoned {
		t.Fatalf("expected abandoned, got %q", o.Status)
	}
	s, _ := store.GetSession(stale.ID)
	if s.Status != models.StatusAbandoned {
		t.Fatalf("expected abandoned, got %q", s.Status)
	}
	d, _ := store.GetSession(done.ID)
	if d.Status != models.StatusCompleted {
		t.Fatalf("completed sessions must not be touched, got %q", d.Status)
	}
}

func TestSweepOnceKeepsActiveSessions(t *testing.T) {
	openStore(t)
	s, _ := store.CreateSession("survey", "1551", "")
	swept, err := SweepOnce(24*time.Hour, time.Now())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected nothing swept, got %d", swept)
	}
	got, _ := store.GetSession(s.ID)
	if got.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress, got %q", got.Status)
	}
}

func TestStartRejectsInvalidCron(t *testing.T) {
	if _, err := Start(context.Background(), Options{Enabled: true, Cron: "not a cron"}); err == nil {
		t.Fatalf("expected error for invalid cron expression")
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	cancel, err := Start(context.Background(), Options{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cancel()
}
