package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/match-engine/models"
	"github.com/Dosada05/match-engine/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

// memDB: общая память для фейковых репозиториев; memTx откатывает её при ошибке.
type memDB struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	matches     map[int]*models.Match
	disputes    map[int]*models.Dispute
	nextDispute int

	// failUpdates: столько следующих UpdateWithVersion вернут конфликт версии.
	failUpdates int
	// updateErr возвращается вместо записи матча, если задан.
	updateErr   error
	matchLoads  int
	matchWrites int

	// loadGate задерживает GetByID до закрытия канала или отмены ctx.
	loadGate    chan struct{}
	loadEntered chan struct{}
}

func newMemDB() *memDB {
	return &memDB{
		matches:     make(map[int]*models.Match),
		disputes:    make(map[int]*models.Dispute),
		nextDispute: 1,
	}
}

func cloneDispute(d *models.Dispute) *models.Dispute {
	c := *d
	return &c
}

func (db *memDB) putMatch(m *models.Match) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.matches[m.ID] = m.Clone()
}

func (db *memDB) match(id int) *models.Match {
	db.mu.Lock()
	defer db.mu.Unlock()
	m, ok := db.matches[id]
	if !ok {
		return nil
	}
	return m.Clone()
}

func (db *memDB) putDispute(d *models.Dispute) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if d.ID == 0 {
		d.ID = db.nextDispute
		db.nextDispute++
	}
	db.disputes[d.ID] = cloneDispute(d)
	return d.ID
}

func (db *memDB) disputesOf(matchID int) []*models.Dispute {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []*models.Dispute
	for _, d := range db.disputes {
		if d.MatchID == matchID {
			out = append(out, cloneDispute(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memTx struct{ db *memDB }

func (t memTx) WithinTx(_ context.Context, fn func(exec repositories.SQLExecutor) error) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()

	t.db.mu.Lock()
	matches := make(map[int]*models.Match, len(t.db.matches))
	for id, m := range t.db.matches {
		matches[id] = m.Clone()
	}
	disputes := make(map[int]*models.Dispute, len(t.db.disputes))
	for id, d := range t.db.disputes {
		disputes[id] = cloneDispute(d)
	}
	next := t.db.nextDispute
	t.db.mu.Unlock()

	if err := fn(nil); err != nil {
		t.db.mu.Lock()
		t.db.matches, t.db.disputes, t.db.nextDispute = matches, disputes, next
		t.db.mu.Unlock()
		return err
	}
	return nil
}

type memMatchRepo struct{ db *memDB }

func (r memMatchRepo) GetByID(ctx context.Context, _ repositories.SQLExecutor, id int) (*models.Match, error) {
	if r.db.loadGate != nil {
		r.db.loadEntered <- struct{}{}
		select {
		case <-r.db.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.matchLoads++
	m, ok := r.db.matches[id]
	if !ok {
		return nil, repositories.ErrMatchNotFound
	}
	return m.Clone(), nil
}

func (r memMatchRepo) ListByTournament(_ context.Context, tournamentID int, round *int, state *models.MatchState) ([]*models.Match, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]*models.Match, 0)
	for _, m := range r.db.matches {
		if m.TournamentID != tournamentID {
			continue
		}
		if round != nil && m.RoundNumber != *round {
			continue
		}
		if state != nil && m.State != *state {
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memMatchRepo) UpdateWithVersion(_ context.Context, _ repositories.SQLExecutor, m *models.Match, expected int64) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.updateErr != nil {
		return r.db.updateErr
	}
	stored, ok := r.db.matches[m.ID]
	if !ok {
		return repositories.ErrMatchNotFound
	}
	if r.db.failUpdates > 0 {
		r.db.failUpdates--
		return repositories.ErrMatchVersionConflict
	}
	if stored.Version != expected {
		return repositories.ErrMatchVersionConflict
	}
	m.Version = expected + 1
	r.db.matches[m.ID] = m.Clone()
	r.db.matchWrites++
	return nil
}

type memDisputeRepo struct{ db *memDB }

func (r memDisputeRepo) Create(_ context.Context, _ repositories.SQLExecutor, d *models.Dispute) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.disputes {
		if existing.MatchID == d.MatchID && existing.Status.IsActive() {
			return repositories.ErrDisputeAlreadyOpen
		}
	}
	d.ID = r.db.nextDispute
	r.db.nextDispute++
	r.db.disputes[d.ID] = cloneDispute(d)
	return nil
}

func (r memDisputeRepo) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Dispute, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.disputes[id]
	if !ok {
		return nil, repositories.ErrDisputeNotFound
	}
	return cloneDispute(d), nil
}

func (r memDisputeRepo) GetActiveByMatch(_ context.Context, _ repositories.SQLExecutor, matchID int) (*models.Dispute, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, d := range r.db.disputes {
		if d.MatchID == matchID && d.Status.IsActive() {
			return cloneDispute(d), nil
		}
	}
	return nil, repositories.ErrDisputeNotFound
}

func (r memDisputeRepo) ListByMatch(_ context.Context, _ repositories.SQLExecutor, matchID int) ([]*models.Dispute, error) {
	return r.db.disputesOf(matchID), nil
}

func (r memDisputeRepo) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, d *models.Dispute, from models.DisputeStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.disputes[d.ID]
	if !ok {
		return repositories.ErrDisputeNotFound
	}
	if stored.Status != from {
		return repositories.ErrDisputeStatusChanged
	}
	r.db.disputes[d.ID] = cloneDispute(d)
	return nil
}

// memIdempotencyStore повторяет семантику postgres-хранилища в памяти.
type memIdempotencyStore struct {
	mu      sync.Mutex
	records map[models.IdempotencyKey]*models.IdempotencyRecord
	now     func() time.Time
	purged  int
	// failCommit заставляет Commit вернуть ошибку.
	failCommit error
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{
		records: make(map[models.IdempotencyKey]*models.IdempotencyRecord),
		now:     time.Now,
	}
}

func (s *memIdempotencyStore) Reserve(_ context.Context, key models.IdempotencyKey, token string, ttl time.Duration) (*models.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if rec, ok := s.records[key]; ok && rec.ExpiresAt.After(now) {
		c := *rec
		return &c, false, nil
	}
	s.records[key] = &models.IdempotencyRecord{
		Key: key, Status: models.IdempotencyPending, Token: token,
		CreatedAt: now, ExpiresAt: now.Add(ttl),
	}
	return nil, true, nil
}

func (s *memIdempotencyStore) Commit(_ context.Context, key models.IdempotencyKey, token string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommit != nil {
		return s.failCommit
	}
	rec, ok := s.records[key]
	if !ok || rec.Token != token || rec.Status != models.IdempotencyPending {
		return repositories.ErrReservationLost
	}
	rec.Status = models.IdempotencyCommitted
	rec.Response = append([]byte(nil), response...)
	rec.ExpiresAt = s.now().Add(ttl)
	return nil
}

func (s *memIdempotencyStore) Release(_ context.Context, key models.IdempotencyKey, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok && rec.Token == token && rec.Status == models.IdempotencyPending {
		delete(s.records, key)
	}
	return nil
}

func (s *memIdempotencyStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.records {
		if !rec.ExpiresAt.After(now) {
			delete(s.records, k)
			n++
		}
	}
	s.purged++
	return n, nil
}

func (s *memIdempotencyStore) record(key models.IdempotencyKey) *models.IdempotencyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	c := *rec
	return &c
}

type recordingObserver struct {
	mu     sync.Mutex
	events []MatchEvent
}

func (o *recordingObserver) MatchChanged(_ context.Context, e MatchEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

type harness struct {
	db       *memDB
	store    *memIdempotencyStore
	disputes DisputeService
	svc      MatchCommandService
	observer *recordingObserver
}

func newHarness() *harness {
	db := newMemDB()
	store := newMemIdempotencyStore()
	logger := testLogger()
	disputes := NewDisputeService(memDisputeRepo{db}, nil, fixedClock, logger)
	guard := NewIdempotencyGuard(store, time.Hour, time.Minute, logger)
	obs := &recordingObserver{}
	svc := NewMatchCommandService(memTx{db}, memMatchRepo{db}, disputes, guard, logger, fixedClock, obs)
	return &harness{db: db, store: store, disputes: disputes, svc: svc, observer: obs}
}

const (
	playerA   = 10
	playerB   = 20
	outsider  = 30
	staffUser = 1
)

var (
	staff  = Actor{ID: staffUser, Role: "organizer"}
	actorA = Actor{ID: playerA, Role: "player"}
	actorB = Actor{ID: playerB, Role: "player"}
	other  = Actor{ID: outsider, Role: "player"}
)

// seedMatch кладёт матч 1 в нужном состоянии с корректными для него полями.
func (h *harness) seedMatch(state models.MatchState, scoreA, scoreB *int) *models.Match {
	m := &models.Match{
		ID:                1,
		TournamentID:      5,
		RoundNumber:       1,
		MatchNumber:       1,
		Participant1ID:    intPtr(playerA),
		Participant2ID:    intPtr(playerB),
		State:             state,
		Participant1Score: scoreA,
		Participant2Score: scoreB,
		Version:           1,
		CreatedAt:         fixedNow.Add(-time.Hour),
		UpdatedAt:         fixedNow.Add(-time.Hour),
	}
	h.db.putMatch(m)
	return m
}
