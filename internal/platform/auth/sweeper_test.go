package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestSweeper_RunSweepsImmediatelyAndStops(t *testing.T) {
	clock := newTestClock()
	signer := newTestSigner(clock, time.Hour)
	ledger, store := newTestLedger(clock, time.Hour)
	id := uuid.New()
	token, _, _ := signer.Issue(id, "a@x.com", RolePatient)
	ledger.RecordSingleLogout(context.Background(), id, token)
	clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(ledger, time.Hour, zerolog.Nop()).Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Count() != 0 {
		t.Errorf("expected expired entry to be swept on start, have %d", store.Count())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	s := NewSweeper(nil, 0, zerolog.Nop())
	if s.interval != time.Hour {
		t.Errorf("expected default interval of 1h, got %s", s.interval)
	}
}
