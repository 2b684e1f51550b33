package moderation_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/A-I-dle-Mod/aidle-mod-backend/src/moderation"
	"github.com/stretchr/testify/mock"
)

// fakeClock is a settable clock shared by the ledger and the store.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type memGuild struct {
	owner string
	plan  uint
}

// memDirectory resolves guilds from an in-memory table.
type memDirectory struct {
	guilds map[string]memGuild
	limits map[uint]int64
}

func (d *memDirectory) QuotaScope(_ context.Context, guildID string) (moderation.Scope, error) {
	g, ok := d.guilds[guildID]
	if !ok {
		return moderation.Scope{}, moderation.ErrNotFound
	}
	limit, ok := d.limits[g.plan]
	if !ok {
		return moderation.Scope{}, moderation.ErrInconsistentState
	}
	var ids []string
	for id, other := range d.guilds {
		if other.owner == g.owner {
			ids = append(ids, id)
		}
	}
	return moderation.Scope{
		GuildID:  guildID,
		OwnerID:  g.owner,
		PlanID:   g.plan,
		Limit:    limit,
		GuildIDs: ids,
	}, nil
}

type storedRecord struct {
	moderation.Record
	createdAt time.Time
}

// memStore is an append-only record log with the same commit-time check as the SQL store.
type memStore struct {
	mu      sync.Mutex
	clock   *fakeClock
	records []storedRecord
	inserts int
}

func (s *memStore) CountSince(_ context.Context, guildIDs []string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countLocked(guildIDs, since), nil
}

func (s *memStore) countLocked(guildIDs []string, since time.Time) int64 {
	var n int64
	now := s.clock.Now()
	for _, r := range s.records {
		if r.createdAt.Before(since) || r.createdAt.After(now) {
			continue
		}
		for _, id := range guildIDs {
			if r.GuildID == id {
				n++
				break
			}
		}
	}
	return n
}

func (s *memStore) Find(_ context.Context, messageID string) (*moderation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.MessageID == messageID {
			rec := r.Record
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *memStore) Record(_ context.Context, rec moderation.Record, scope moderation.Scope) (*moderation.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for i, r := range s.records {
		if r.MessageID != rec.MessageID {
			continue
		}
		if !r.SameMessage(rec) {
			return nil, moderation.ErrMessageConflict
		}
		return &moderation.Handle{ID: uint64(i + 1), CreatedAt: r.createdAt, Duplicate: true}, nil
	}
	used := s.countLocked(scope.GuildIDs, moderation.StartOfDay(now))
	if used+1 > scope.Limit {
		return nil, &moderation.QuotaError{Limit: scope.Limit, Used: used}
	}

	s.inserts++
	s.records = append(s.records, storedRecord{Record: rec, createdAt: now})
	return &moderation.Handle{ID: uint64(len(s.records)), CreatedAt: now}, nil
}

func (s *memStore) all() []storedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storedRecord, len(s.records))
	copy(out, s.records)
	return out
}

// MockClassifier is a mock type for the Classifier interface.
type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, text string) ([]moderation.LabelScore, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]moderation.LabelScore), args.Error(1)
}

// MockPublisher is a mock type for the Publisher interface.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, ev moderation.Event) error {
	return m.Called(ctx, ev).Error(0)
}

var (
	errBackendDown = errors.New("connection refused")

	sampleScores = []moderation.LabelScore{
		{Label: "OK", Probability: 0.6},
		{Label: "S", Probability: 0.3},
		{Label: "H", Probability: 0.1},
	}
)

type harness struct {
	clock      *fakeClock
	dir        *memDirectory
	store      *memStore
	classifier *MockClassifier
	pipeline   *moderation.Pipeline
}

// newHarness builds a pipeline over owner "owner-1" with guilds "A" and "B"
// sharing a plan of the given limit, and guild "orphan" whose plan is missing.
func newHarness(limit int64, publisher moderation.Publisher) *harness {
	clock := &fakeClock{now: time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)}
	dir := &memDirectory{
		guilds: map[string]memGuild{
			"A":      {owner: "owner-1", plan: 1},
			"B":      {owner: "owner-1", plan: 1},
			"C":      {owner: "owner-2", plan: 2},
			"orphan": {owner: "owner-3", plan: 99},
		},
		limits: map[uint]int64{1: limit, 2: limit},
	}
	store := &memStore{clock: clock}
	classifier := &MockClassifier{}
	classifier.On("Classify", mock.Anything, mock.Anything).Return(sampleScores, nil)

	return &harness{
		clock:      clock,
		dir:        dir,
		store:      store,
		classifier: classifier,
		pipeline: moderation.NewPipeline(moderation.Deps{
			Ledger:     moderation.NewLedger(dir, store, clock.Now),
			Classifier: classifier,
			Store:      store,
			Publisher:  publisher,
		}),
	}
}
