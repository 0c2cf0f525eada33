package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Dosada05/match-engine/models"
)

func TestGuardSkipsWithoutKey(t *testing.T) {
	store := newMemIdempotencyStore()
	g := NewIdempotencyGuard(store, time.Hour, time.Minute, testLogger())

	r, resp, replay, err := g.CheckAndReserve(context.Background(), 1, "start", "")
	if err != nil || replay || resp != nil || r.Active() {
		t.Fatalf("empty key must skip: r=%+v resp=%v replay=%v err=%v", r, resp, replay, err)
	}
	if len(store.records) != 0 {
		t.Fatalf("nothing must be stored, got %d records", len(store.records))
	}
}

func TestGuardCommitStoresResponseWithoutMeta(t *testing.T) {
	store := newMemIdempotencyStore()
	g := NewIdempotencyGuard(store, time.Hour, time.Minute, testLogger())
	ctx := context.Background()

	r, _, _, err := g.CheckAndReserve(ctx, 1, "start", "abc")
	if err != nil || !r.Active() {
		t.Fatalf("reserve: r=%+v err=%v", r, err)
	}
	resp := &MatchResponse{ID: 1, State: models.MatchStateLive, Meta: ResponseMeta{IdempotentReplay: true}}
	if err := g.Commit(ctx, r, resp); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rec := store.record(models.IdempotencyKey{MatchID: 1, Operation: "start", ClientKey: "abc"})
	if rec == nil || rec.Status != models.IdempotencyCommitted {
		t.Fatalf("expected committed record, got %+v", rec)
	}
	if string(rec.Response) != `{"id":1,"state":"live","sides":{"A":{"participant_id":null,"score":null},"B":{"participant_id":null,"score":null}},"meta":{"idempotent_replay":false}}` {
		t.Fatalf("unexpected stored response %s", rec.Response)
	}

	_, replayed, replay, err := g.CheckAndReserve(ctx, 1, "start", "abc")
	if err != nil || !replay {
		t.Fatalf("expected replay, got replay=%v err=%v", replay, err)
	}
	if replayed.State != models.MatchStateLive || !replayed.Meta.IdempotentReplay {
		t.Fatalf("unexpected replay %+v", replayed)
	}
}

func TestGuardExpiredRecordIsReusable(t *testing.T) {
	store := newMemIdempotencyStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	g := NewIdempotencyGuard(store, time.Minute, time.Minute, testLogger())
	ctx := context.Background()

	r, _, _, _ := g.CheckAndReserve(ctx, 1, "cancel", "k")
	if err := g.Commit(ctx, r, &MatchResponse{ID: 1, State: models.MatchStateCancelled}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	now = now.Add(2 * time.Minute)
	r2, _, replay, err := g.CheckAndReserve(ctx, 1, "cancel", "k")
	if err != nil || replay || !r2.Active() {
		t.Fatalf("expired key must be reserved again: replay=%v err=%v", replay, err)
	}
}

func TestSweeperPurgesExpired(t *testing.T) {
	store := newMemIdempotencyStore()
	old := time.Now().Add(-48 * time.Hour)
	store.now = func() time.Time { return old }
	ctx := context.Background()
	if _, _, err := store.Reserve(ctx, models.IdempotencyKey{MatchID: 1, Operation: "start", ClientKey: "old"}, "t1", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	store.now = time.Now
	if _, _, err := store.Reserve(ctx, models.IdempotencyKey{MatchID: 1, Operation: "start", ClientKey: "fresh"}, "t2", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	sweeper, err := NewIdempotencySweeper(store, time.Hour, testLogger())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	n, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one purged record, got %d", n)
	}
	if store.record(models.IdempotencyKey{MatchID: 1, Operation: "start", ClientKey: "fresh"}) == nil {
		t.Fatal("fresh record must survive the sweep")
	}
}

func TestGuardAbandonedReservationFreesAfterLease(t *testing.T) {
	store := newMemIdempotencyStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	g := NewIdempotencyGuard(store, 24*time.Hour, 2*time.Minute, testLogger())
	ctx := context.Background()

	// Запрос зарезервировал ключ и пропал без Commit/Release.
	if r, _, _, err := g.CheckAndReserve(ctx, 1, "start", "k"); err != nil || !r.Active() {
		t.Fatalf("reserve: r=%+v err=%v", r, err)
	}

	now = now.Add(time.Minute)
	if _, _, _, err := g.CheckAndReserve(ctx, 1, "start", "k"); !errors.Is(err, ErrIdempotencyInFlight) {
		t.Fatalf("within the lease the key must be in flight, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	r, _, replay, err := g.CheckAndReserve(ctx, 1, "start", "k")
	if err != nil || replay || !r.Active() {
		t.Fatalf("after the lease the key must be reserved again: replay=%v err=%v", replay, err)
	}

	if err := g.Commit(ctx, r, &MatchResponse{ID: 1, State: models.MatchStateLive}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	rec := store.record(models.IdempotencyKey{MatchID: 1, Operation: "start", ClientKey: "k"})
	if rec == nil || !rec.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("commit must extend the record to the retention window, got %+v", rec)
	}
}
