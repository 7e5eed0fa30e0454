package retention

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jkaninda/soga/internal/config"
)

type stubPurger struct {
	calls      int
	lastCutoff time.Time
	purged     int64
	err        error
}

func (s *stubPurger) PurgeIdleConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	s.calls++
	s.lastCutoff = cutoff
	return s.purged, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestStart_DisabledIsNoop(t *testing.T) {
	purger := &stubPurger{}
	s := New(purger, &config.RetentionConfig{Enabled: false}, discardLogger())

	stop, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop()

	if purger.calls != 0 {
		t.Errorf("disabled sweeper ran %d sweeps", purger.calls)
	}
}

func TestStart_NilConfigIsNoop(t *testing.T) {
	purger := &stubPurger{}
	s := New(purger, nil, discardLogger())

	stop, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stop()

	if purger.calls != 0 {
		t.Errorf("nil-config sweeper ran %d sweeps", purger.calls)
	}
}

func TestStart_RunsInitialSweep(t *testing.T) {
	purger := &stubPurger{purged: 3}
	cfg := &config.RetentionConfig{Enabled: true, MaxIdleDays: 30}
	s := New(purger, cfg, discardLogger())

	stop, err := s.Start(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stop()

	if purger.calls != 1 {
		t.Fatalf("initial sweep calls = %d, want 1", purger.calls)
	}

	wantCutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)
	diff := purger.lastCutoff.Sub(wantCutoff)
	if diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want about %v", purger.lastCutoff, wantCutoff)
	}
}

func TestStart_BadScheduleFails(t *testing.T) {
	cfg := &config.RetentionConfig{Enabled: true, Schedule: "not a cron spec"}
	s := New(&stubPurger{}, cfg, discardLogger())

	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSweep_ErrorIsLoggedNotFatal(t *testing.T) {
	purger := &stubPurger{err: errors.New("db down")}
	cfg := &config.RetentionConfig{Enabled: true}
	s := New(purger, cfg, discardLogger())

	// Must not panic.
	s.Sweep(context.Background())
	if purger.calls != 1 {
		t.Errorf("calls = %d, want 1", purger.calls)
	}
}
