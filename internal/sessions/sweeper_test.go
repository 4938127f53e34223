package sessions

import (
	"context"
	"testing"
	"time"
)

func TestNewSweeper_Validation(t *testing.T) {
	store := NewMemoryStore()
	locker := NewLocalLocker(time.Second)

	if _, err := NewSweeper(nil, locker, SweeperConfig{}, nil); err == nil {
		t.Fatal("expected error without store")
	}
	if _, err := NewSweeper(store, nil, SweeperConfig{}, nil); err == nil {
		t.Fatal("expected error without locker")
	}
	if _, err := NewSweeper(store, locker, SweeperConfig{Schedule: "every now and then"}, nil); err == nil {
		t.Fatal("expected error for bad schedule")
	}
	s, err := NewSweeper(store, locker, SweeperConfig{IdleTimeout: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	if s.config.Schedule != DefaultSweepSchedule {
		t.Fatalf("Schedule = %q", s.config.Schedule)
	}
}

func TestSweeper_RemovesIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemoryStore(WithStoreClock(clock))
	locker := NewLocalLocker(time.Second)

	stale, _, _ := store.GetOrCreate(ctx, "")
	busy, _, _ := store.GetOrCreate(ctx, "")
	now = now.Add(50 * time.Minute)
	fresh, _, _ := store.GetOrCreate(ctx, "")
	now = now.Add(20 * time.Minute)

	sweeper, err := NewSweeper(store, locker, SweeperConfig{IdleTimeout: time.Hour}, nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	sweeper.now = clock
	var remaining = -1
	sweeper.OnDelete(func(n int) { remaining = n })

	if !locker.TryLock(busy.ID) {
		t.Fatal("TryLock failed")
	}
	removed, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := store.Get(ctx, stale.ID); err == nil {
		t.Fatal("stale session survived")
	}
	if _, err := store.Get(ctx, busy.ID); err != nil {
		t.Fatal("session with a turn in flight was swept")
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Fatal("fresh session was swept")
	}
	if remaining != 2 {
		t.Fatalf("OnDelete reported %d sessions, want 2", remaining)
	}

	locker.Unlock(busy.ID)
	if removed, _ := sweeper.Sweep(ctx); removed != 1 {
		t.Fatalf("busy session not swept once free: removed %d", removed)
	}
}

func TestClear_SkipsBusySessions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	locker := NewLocalLocker(time.Second)

	idle, _, _ := store.GetOrCreate(ctx, "")
	busy, _, _ := store.GetOrCreate(ctx, "")
	if !locker.TryLock(busy.ID) {
		t.Fatal("TryLock failed")
	}

	removed, skipped, err := Clear(ctx, store, locker)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 1 || skipped != 1 {
		t.Fatalf("Clear = (%d, %d), want (1, 1)", removed, skipped)
	}
	if _, err := store.Get(ctx, idle.ID); err == nil {
		t.Fatal("idle session survived Clear")
	}
	if _, err := store.Get(ctx, busy.ID); err != nil {
		t.Fatal("session with a turn in flight was cleared")
	}
	if locker.Held() != 1 {
		t.Fatalf("Held = %d, want only the busy session", locker.Held())
	}

	locker.Unlock(busy.ID)
	if removed, skipped, _ := Clear(ctx, store, locker); removed != 1 || skipped != 0 {
		t.Fatalf("Clear after unlock = (%d, %d), want (1, 0)", removed, skipped)
	}
	if locker.Held() != 0 {
		t.Fatalf("Held = %d after Clear, want 0", locker.Held())
	}
}

func TestSweeper_DisabledWithoutTimeout(t *testing.T) {
	store := NewMemoryStore()
	sweeper, err := NewSweeper(store, NewLocalLocker(time.Second), SweeperConfig{}, nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	if err := sweeper.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sweeper.cron != nil {
		t.Fatal("sweeper scheduled without idle timeout")
	}
	if n, _ := sweeper.Sweep(context.Background()); n != 0 {
		t.Fatalf("Sweep removed %d", n)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	store := NewMemoryStore()
	sweeper, err := NewSweeper(store, NewLocalLocker(time.Second), SweeperConfig{IdleTimeout: time.Minute, Schedule: "@every 1h"}, nil)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	if err := sweeper.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sweeper.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sweeper.Stop(ctx)
	sweeper.Stop(ctx)
}
