// Package testsupport provides in-memory implementations of the domain
// stores with the same CAS semantics as the Postgres adapters. Tests use
// them to exercise coordination logic without a database.
package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/domain"
)

// StoryStore implements domain.StoryRepository.
type StoryStore struct {
	mu          sync.Mutex
	stories     map[uuid.UUID]*domain.Story
	Transitions []TransitionEvent
}

// TransitionEvent is one recorded lifecycle write, for assertions.
type TransitionEvent struct {
	StoryID uuid.UUID
	From    domain.StoryState
	To      domain.StoryState
	Actor   string
}

func NewStoryStore() *StoryStore {
	return &StoryStore{stories: make(map[uuid.UUID]*domain.Story)}
}

func (s *StoryStore) Create(ctx context.Context, story *domain.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if story.ID == uuid.Nil {
		story.ID = uuid.New()
	}
	story.State = domain.StoryStateDraft
	story.Version = 1
	story.CreatedAt = time.Now()
	story.UpdatedAt = story.CreatedAt
	cp := *story
	s.stories[story.ID] = &cp
	return nil
}

// Seed inserts a story as-is, keeping its state and version.
func (s *StoryStore) Seed(story *domain.Story) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if story.ID == uuid.Nil {
		story.ID = uuid.New()
	}
	if story.Version == 0 {
		story.Version = 1
	}
	cp := *story
	s.stories[story.ID] = &cp
}

func (s *StoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[id]
	if !ok {
		return nil, fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	cp := *story
	cp.Beats = append([]domain.Beat(nil), story.Beats...)
	return &cp, nil
}

func (s *StoryStore) UpdateBeat(ctx context.Context, id uuid.UUID, expectedVersion int64, beat domain.Beat) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[id]
	if !ok {
		return 0, fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	if story.Version != expectedVersion {
		return 0, fmt.Errorf("%w: story %s version %d, expected %d", domain.ErrConflict, id, story.Version, expectedVersion)
	}
	replaced := false
	for i := range story.Beats {
		if story.Beats[i].Index == beat.Index {
			story.Beats[i] = beat
			replaced = true
			break
		}
	}
	if !replaced {
		return 0, fmt.Errorf("%w: story %s has no beat %d", domain.ErrNotFound, id, beat.Index)
	}
	story.Version++
	story.UpdatedAt = time.Now()
	return story.Version, nil
}

func (s *StoryStore) Transition(ctx context.Context, id uuid.UUID, expectedVersion int64, from, to domain.StoryState, actor string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[id]
	if !ok {
		return 0, fmt.Errorf("%w: story %s", domain.ErrNotFound, id)
	}
	if story.Version != expectedVersion || story.State != from {
		return 0, fmt.Errorf("%w: story %s is %s at version %d", domain.ErrConflict, id, story.State, story.Version)
	}
	story.State = to
	story.Version++
	story.UpdatedAt = time.Now()
	s.Transitions = append(s.Transitions, TransitionEvent{StoryID: id, From: from, To: to, Actor: actor})
	return story.Version, nil
}

type slotKey struct {
	storyID uuid.UUID
	slot    string
}

// SlotStore implements domain.SlotStore with the adapter's CAS rules.
type SlotStore struct {
	mu    sync.Mutex
	slots map[slotKey]*domain.SlotRecord
}

func NewSlotStore() *SlotStore {
	return &SlotStore{slots: make(map[slotKey]*domain.SlotRecord)}
}

// SeedReady installs a committed slot row, as a prior generation would.
func (s *SlotStore) SeedReady(storyID uuid.UUID, slot, fingerprint, artifactRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slotKey{storyID, slot}] = &domain.SlotRecord{
		StoryID:     storyID,
		Slot:        slot,
		Fingerprint: fingerprint,
		ArtifactRef: artifactRef,
		Status:      domain.SlotStatusReady,
		UpdatedAt:   time.Now(),
	}
}

// SeedProcessing installs a locked row, as a concurrent worker would.
func (s *SlotStore) SeedProcessing(storyID uuid.UUID, slot, token string, lockExpiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slotKey{storyID, slot}] = &domain.SlotRecord{
		StoryID:       storyID,
		Slot:          slot,
		Status:        domain.SlotStatusProcessing,
		LockToken:     token,
		LockExpiresAt: lockExpiresAt,
		UpdatedAt:     time.Now(),
	}
}

func (s *SlotStore) Get(ctx context.Context, storyID uuid.UUID, slot string) (*domain.SlotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slotKey{storyID, slot}]
	if !ok {
		return nil, fmt.Errorf("%w: slot %s of story %s", domain.ErrNotFound, slot, storyID)
	}
	cp := *rec
	return &cp, nil
}

func (s *SlotStore) List(ctx context.Context, storyID uuid.UUID) ([]domain.SlotRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SlotRecord
	for key, rec := range s.slots {
		if key.storyID == storyID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *SlotStore) Ensure(ctx context.Context, storyID uuid.UUID, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey{storyID, slot}
	if _, ok := s.slots[key]; ok {
		return nil
	}
	s.slots[key] = &domain.SlotRecord{
		StoryID:   storyID,
		Slot:      slot,
		Status:    domain.SlotStatusQueued,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (s *SlotStore) Acquire(ctx context.Context, storyID uuid.UUID, slot, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slotKey{storyID, slot}]
	if !ok {
		return false, nil
	}
	now := time.Now()
	lockable := rec.Status != domain.SlotStatusProcessing || rec.LockExpired(now)
	if !lockable {
		return false, nil
	}
	rec.Status = domain.SlotStatusProcessing
	rec.LockToken = token
	rec.LockExpiresAt = now.Add(ttl)
	rec.UpdatedAt = now
	return true, nil
}

func (s *SlotStore) Commit(ctx context.Context, storyID uuid.UUID, slot, token, fingerprint, artifactRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slotKey{storyID, slot}]
	if !ok || rec.Status != domain.SlotStatusProcessing || rec.LockToken != token {
		return false, nil
	}
	rec.Status = domain.SlotStatusReady
	rec.Fingerprint = fingerprint
	rec.ArtifactRef = artifactRef
	rec.LockToken = ""
	rec.LockExpiresAt = time.Time{}
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (s *SlotStore) Fail(ctx context.Context, storyID uuid.UUID, slot, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slotKey{storyID, slot}]
	if !ok || rec.Status != domain.SlotStatusProcessing || rec.LockToken != token {
		return false, nil
	}
	rec.Status = domain.SlotStatusFailed
	rec.LockToken = ""
	rec.LockExpiresAt = time.Time{}
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (s *SlotStore) Cancel(ctx context.Context, storyID uuid.UUID, slot string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slotKey{storyID, slot}]
	if !ok || rec.Status != domain.SlotStatusProcessing {
		return false, nil
	}
	rec.Status = domain.SlotStatusCancelled
	rec.LockToken = ""
	rec.LockExpiresAt = time.Time{}
	rec.UpdatedAt = time.Now()
	return true, nil
}

type quotaAccount struct {
	allowance int
	used      int
	reserved  int
}

// QuotaStore implements domain.QuotaStore with atomic reserve semantics:
// the balance check and the hold are one step under the lock, matching
// the adapter's single conditional update.
type QuotaStore struct {
	mu           sync.Mutex
	accounts     map[string]*quotaAccount
	reservations map[uuid.UUID]*domain.QuotaReservation
}

func NewQuotaStore() *QuotaStore {
	return &QuotaStore{
		accounts:     make(map[string]*quotaAccount),
		reservations: make(map[uuid.UUID]*domain.QuotaReservation),
	}
}

func (q *QuotaStore) SetAllowance(accountID, quotaType string, allowance int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.accounts[accountID+"/"+quotaType] = &quotaAccount{allowance: allowance}
}

// Balance reports (used, reserved) for assertions.
func (q *QuotaStore) Balance(accountID, quotaType string) (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	acct, ok := q.accounts[accountID+"/"+quotaType]
	if !ok {
		return 0, 0
	}
	return acct.used, acct.reserved
}

// Reservation returns a copy of the reservation for assertions.
func (q *QuotaStore) Reservation(id uuid.UUID) (domain.QuotaReservation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.reservations[id]
	if !ok {
		return domain.QuotaReservation{}, false
	}
	return *res, true
}

func (q *QuotaStore) Reserve(ctx context.Context, accountID, quotaType string, amount int, requestID string) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	acct, ok := q.accounts[accountID+"/"+quotaType]
	if !ok || acct.used+acct.reserved+amount > acct.allowance {
		return uuid.Nil, fmt.Errorf("%w: %s %s needs %d", domain.ErrQuotaExceeded, accountID, quotaType, amount)
	}
	acct.reserved += amount
	id := uuid.New()
	q.reservations[id] = &domain.QuotaReservation{
		ID:        id,
		AccountID: accountID,
		QuotaType: quotaType,
		RequestID: requestID,
		Amount:    amount,
		State:     domain.ReservationReserved,
		CreatedAt: time.Now(),
	}
	return id, nil
}

func (q *QuotaStore) Consume(ctx context.Context, reservationID uuid.UUID, used int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.reservations[reservationID]
	if !ok || res.State != domain.ReservationReserved {
		return nil
	}
	acct := q.accounts[res.AccountID+"/"+res.QuotaType]
	acct.used += used
	acct.reserved -= res.Amount
	res.State = domain.ReservationConsumed
	res.Consumed = used
	return nil
}

func (q *QuotaStore) Refund(ctx context.Context, reservationID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	res, ok := q.reservations[reservationID]
	if !ok || res.State != domain.ReservationReserved {
		return nil
	}
	q.accounts[res.AccountID+"/"+res.QuotaType].reserved -= res.Amount
	res.State = domain.ReservationRefunded
	return nil
}

type idemKey struct {
	endpoint string
	key      string
}

type idemRecord struct {
	state     string
	result    json.RawMessage
	expiresAt time.Time
}

// IdempotencyLedger implements domain.IdempotencyLedger in memory.
type IdempotencyLedger struct {
	mu      sync.Mutex
	records map[idemKey]*idemRecord
}

func NewIdempotencyLedger() *IdempotencyLedger {
	return &IdempotencyLedger{records: make(map[idemKey]*idemRecord)}
}

func (l *IdempotencyLedger) Begin(ctx context.Context, endpoint, key string, ttl time.Duration) (domain.IdempotencyOutcome, json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := idemKey{endpoint, key}
	rec, ok := l.records[k]
	if ok && time.Now().Before(rec.expiresAt) {
		if rec.state == "completed" {
			return domain.IdempotencyReplayed, rec.result, nil
		}
		return domain.IdempotencyInFlight, nil, nil
	}
	l.records[k] = &idemRecord{state: "inflight", expiresAt: time.Now().Add(ttl)}
	return domain.IdempotencyStarted, nil, nil
}

func (l *IdempotencyLedger) Complete(ctx context.Context, endpoint, key string, result json.RawMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[idemKey{endpoint, key}]
	if !ok || rec.state != "inflight" {
		return nil
	}
	rec.state = "completed"
	rec.result = append(json.RawMessage(nil), result...)
	return nil
}

func (l *IdempotencyLedger) Abandon(ctx context.Context, endpoint, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := idemKey{endpoint, key}
	if rec, ok := l.records[k]; ok && rec.state == "inflight" {
		delete(l.records, k)
	}
	return nil
}
