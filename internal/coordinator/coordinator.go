// Package coordinator orchestrates artifact generation for a story: it
// replays idempotent requests, gates lifecycle state, reserves quota,
// diffs slot fingerprints against the asset cache, and generates only
// the dirty slots under per-slot CAS locks. All coordination state lives
// in the persisted stores, never in process memory, so any number of
// stateless instances can run the same request concurrently and agree.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"storyforge/internal/contract"
	"storyforge/internal/domain"
	"storyforge/internal/lifecycle"
	"storyforge/internal/providers/gen"
)

// EndpointFinalize is the idempotency ledger endpoint name for finalize.
const EndpointFinalize = "stories.finalize"

// Config carries the coordination tunables.
type Config struct {
	LockTTL            time.Duration
	IdempotencyTTL     time.Duration
	GenerationAttempts int
	GenerationBackoff  time.Duration
	JoinPollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 24 * time.Hour
	}
	if c.GenerationAttempts < 1 {
		c.GenerationAttempts = 3
	}
	if c.GenerationBackoff <= 0 {
		c.GenerationBackoff = 2 * time.Second
	}
	if c.JoinPollInterval <= 0 {
		c.JoinPollInterval = 250 * time.Millisecond
	}
	return c
}

// Coordinator is safe for concurrent use; it holds no mutable state.
type Coordinator struct {
	stories   domain.StoryRepository
	slots     domain.SlotStore
	quota     domain.QuotaStore
	idem      domain.IdempotencyLedger
	machine   *lifecycle.Machine
	generator gen.Generator
	logger    zerolog.Logger
	cfg       Config
}

func New(
	stories domain.StoryRepository,
	slots domain.SlotStore,
	quota domain.QuotaStore,
	idem domain.IdempotencyLedger,
	machine *lifecycle.Machine,
	generator gen.Generator,
	logger zerolog.Logger,
	cfg Config,
) *Coordinator {
	return &Coordinator{
		stories:   stories,
		slots:     slots,
		quota:     quota,
		idem:      idem,
		machine:   machine,
		generator: generator,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// Request is one generation request against a story.
type Request struct {
	StoryID        uuid.UUID
	AccountID      string
	Slots          []string // empty means every required slot
	IdempotencyKey string
	Endpoint       string
	Quota          *contract.Quota
	Actor          string
}

// SlotResult reports the outcome for one requested slot. Reused means
// the cached artifact was still valid and no generation ran.
type SlotResult struct {
	Slot        string            `json:"slot"`
	Status      domain.SlotStatus `json:"status"`
	ArtifactRef string            `json:"artifact_ref,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
	Reused      bool              `json:"reused"`
	Error       string            `json:"error,omitempty"`
}

// Result is the full per-slot result set for one request. It is what
// the idempotency ledger stores and replays verbatim.
type Result struct {
	StoryID uuid.UUID         `json:"story_id"`
	State   domain.StoryState `json:"state"`
	Version int64             `json:"version"`
	Slots   []SlotResult      `json:"slots"`

	Replayed bool `json:"-"`
}

// Handle runs one generation request end to end. Per-slot failures are
// reported inside the Result; an error return means the request made no
// generation side effects at all.
func (c *Coordinator) Handle(ctx context.Context, req Request) (*Result, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = EndpointFinalize
	}

	began := false
	if req.IdempotencyKey != "" {
		result, owned, err := c.beginIdempotent(ctx, endpoint, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		began = owned
	}
	// A failure before any generation side effect releases the ledger
	// record so the caller's retry re-executes instead of stalling.
	fail := func(err error) (*Result, error) {
		if began {
			if aerr := c.idem.Abandon(context.WithoutCancel(ctx), endpoint, req.IdempotencyKey); aerr != nil {
				c.logger.Error().Err(aerr).Str("key", req.IdempotencyKey).Msg("coordinator: abandon idempotency record failed")
			}
		}
		return nil, err
	}

	story, err := c.stories.GetByID(ctx, req.StoryID)
	if err != nil {
		return fail(err)
	}
	accountID := req.AccountID
	if accountID == "" {
		accountID = story.AccountID
	}
	actor := req.Actor
	if actor == "" {
		actor = "api"
	}

	slotKeys := req.Slots
	required := story.RequiredSlots()
	if len(slotKeys) == 0 {
		slotKeys = required
	} else {
		owned := make(map[string]struct{}, len(required))
		for _, s := range required {
			owned[s] = struct{}{}
		}
		for _, s := range slotKeys {
			if _, ok := owned[s]; !ok {
				return fail(fmt.Errorf("%w: slot %q does not belong to story %s", domain.ErrValidation, s, story.ID))
			}
		}
	}

	// A story already generating is resumed, not re-entered: concurrent
	// or stalled work is joined per slot below.
	resume := story.State == domain.StoryStateGenerating
	if !resume && !lifecycle.Allowed(lifecycle.KindStory, story.State, domain.StoryStateGenerating) {
		return fail(fmt.Errorf("%w: story %s cannot start generating from %s", domain.ErrConflict, story.ID, story.State))
	}

	plans, err := buildPlan(story, slotKeys)
	if err != nil {
		return fail(err)
	}

	// Reserve for every requested slot before the cache diff; units for
	// slots that turn out clean are handed back at settle time.
	var reservationID uuid.UUID
	reservedUnits := 0
	if req.Quota != nil {
		reservedUnits = req.Quota.Cost * len(plans)
		requestID := req.IdempotencyKey
		if requestID == "" {
			requestID = uuid.NewString()
		}
		reservationID, err = c.quota.Reserve(ctx, accountID, req.Quota.Type, reservedUnits, requestID)
		if err != nil {
			return fail(err)
		}
	}
	refundAll := func() {
		if req.Quota == nil {
			return
		}
		if rerr := c.quota.Refund(context.WithoutCancel(ctx), reservationID); rerr != nil {
			c.logger.Error().Err(rerr).Str("reservation_id", reservationID.String()).Msg("coordinator: refund failed")
		}
	}

	version := story.Version
	if !resume {
		version, err = c.machine.Transition(ctx, lifecycle.KindStory, story.ID, story.Version, story.State, domain.StoryStateGenerating, actor)
		if err != nil {
			refundAll()
			return fail(err)
		}
	}

	results := make([]SlotResult, len(plans))
	charged := make([]bool, len(plans))
	g, gctx := errgroup.WithContext(ctx)
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			results[i], charged[i] = c.resolveSlot(gctx, story.ID, plan)
			return nil
		})
	}
	_ = g.Wait()

	c.settleQuota(ctx, req.Quota, reservationID, reservedUnits, charged)

	state := c.settleLifecycle(ctx, story.ID, version, results, actor)
	result := &Result{StoryID: story.ID, State: state.state, Version: state.version, Slots: results}

	if began {
		raw, merr := json.Marshal(result)
		if merr == nil {
			if cerr := c.idem.Complete(context.WithoutCancel(ctx), endpoint, req.IdempotencyKey, raw); cerr != nil {
				c.logger.Error().Err(cerr).Str("key", req.IdempotencyKey).Msg("coordinator: complete idempotency record failed")
			}
		}
	}
	return result, nil
}

// beginIdempotent claims the ledger record. It returns a non-nil result
// for a replay, owned=true when this caller must execute, and blocks
// polling while an identical request is in flight elsewhere.
func (c *Coordinator) beginIdempotent(ctx context.Context, endpoint, key string) (*Result, bool, error) {
	deadline := time.Now().Add(c.cfg.LockTTL)
	for {
		outcome, stored, err := c.idem.Begin(ctx, endpoint, key, c.cfg.IdempotencyTTL)
		if err != nil {
			return nil, false, err
		}
		switch outcome {
		case domain.IdempotencyStarted:
			return nil, true, nil
		case domain.IdempotencyReplayed:
			var result Result
			if err := json.Unmarshal(stored, &result); err != nil {
				return nil, false, fmt.Errorf("decode stored idempotent result: %w", err)
			}
			result.Replayed = true
			return &result, false, nil
		}
		if time.Now().After(deadline) {
			return nil, false, fmt.Errorf("%w: request with key %q still in flight", domain.ErrTimeout, key)
		}
		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(c.cfg.JoinPollInterval):
		}
	}
}

// resolveSlot brings one slot to a terminal status: reuse the cached
// artifact when the fingerprint is unchanged, otherwise acquire the
// generation lock, or join the worker that holds it. The bool return
// says whether this caller committed a generation (and owes quota).
func (c *Coordinator) resolveSlot(ctx context.Context, storyID uuid.UUID, plan slotPlan) (SlotResult, bool) {
	res := SlotResult{Slot: plan.slot, Fingerprint: plan.fingerprint}

	rec, err := c.slots.Get(ctx, storyID, plan.slot)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return failedResult(res, err), false
	}
	if rec != nil && rec.Status == domain.SlotStatusReady && rec.Fingerprint == plan.fingerprint {
		res.Status = domain.SlotStatusReady
		res.ArtifactRef = rec.ArtifactRef
		res.Reused = true
		return res, false
	}
	if err := c.slots.Ensure(ctx, storyID, plan.slot); err != nil {
		return failedResult(res, err), false
	}

	deadline := time.Now().Add(c.cfg.LockTTL + c.cfg.JoinPollInterval)
	for {
		token := uuid.NewString()
		acquired, err := c.slots.Acquire(ctx, storyID, plan.slot, token, c.cfg.LockTTL)
		if err != nil {
			return failedResult(res, err), false
		}
		if acquired {
			return c.generateSlot(ctx, storyID, plan, token)
		}

		rec, err = c.slots.Get(ctx, storyID, plan.slot)
		if err != nil {
			return failedResult(res, err), false
		}
		if rec.Status == domain.SlotStatusReady && rec.Fingerprint == plan.fingerprint {
			// Another worker finished the identical job; adopt it.
			res.Status = domain.SlotStatusReady
			res.ArtifactRef = rec.ArtifactRef
			res.Reused = true
			return res, false
		}
		if time.Now().After(deadline) {
			return failedResult(res, fmt.Errorf("%w: slot %s locked past TTL", domain.ErrTimeout, plan.slot)), false
		}
		if rec.Status == domain.SlotStatusProcessing && !rec.LockExpired(time.Now()) {
			select {
			case <-ctx.Done():
				return failedResult(res, ctx.Err()), false
			case <-time.After(c.cfg.JoinPollInterval):
			}
		}
		// Stale lock, failed, cancelled, or ready under older inputs:
		// loop and try to take the lock ourselves.
	}
}

func (c *Coordinator) generateSlot(ctx context.Context, storyID uuid.UUID, plan slotPlan, token string) (SlotResult, bool) {
	res := SlotResult{Slot: plan.slot, Fingerprint: plan.fingerprint}

	var artifact *gen.Artifact
	var lastErr error
	for attempt := 1; attempt <= c.cfg.GenerationAttempts; attempt++ {
		artifact, lastErr = c.generator.Generate(ctx, gen.Request{
			StoryID:     storyID.String(),
			Slot:        plan.slot,
			Kind:        plan.kind,
			Fingerprint: plan.fingerprint,
			Prompt:      plan.prompt,
			Inputs:      plan.inputs,
		})
		if lastErr == nil {
			break
		}
		c.logger.Warn().Err(lastErr).
			Str("story_id", storyID.String()).
			Str("slot", plan.slot).
			Int("attempt", attempt).
			Msg("coordinator: generation attempt failed")
		if attempt == c.cfg.GenerationAttempts {
			break
		}
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = c.cfg.GenerationAttempts
		case <-time.After(c.cfg.GenerationBackoff * time.Duration(attempt)):
		}
	}

	if lastErr != nil {
		released, ferr := c.slots.Fail(context.WithoutCancel(ctx), storyID, plan.slot, token)
		if ferr == nil && !released {
			// Slot was cancelled or the lock was stolen while we worked.
			res.Status = domain.SlotStatusCancelled
			res.Error = "generation superseded before failure could be recorded"
			return res, false
		}
		return failedResult(res, fmt.Errorf("%w: %v", domain.ErrUpstream, lastErr)), false
	}

	committed, err := c.slots.Commit(context.WithoutCancel(ctx), storyID, plan.slot, token, plan.fingerprint, artifact.StorageKey)
	if err != nil {
		return failedResult(res, err), false
	}
	if !committed {
		// Cooperative cancellation: the CAS told us the slot changed
		// under our lock, so the result is discarded, not committed.
		res.Status = domain.SlotStatusCancelled
		res.Error = "generation result discarded: slot cancelled while processing"
		return res, false
	}
	res.Status = domain.SlotStatusReady
	res.ArtifactRef = artifact.StorageKey
	return res, true
}

// settleQuota consumes units for slots this call generated and hands
// back the rest when the operation's contract allows refunds.
func (c *Coordinator) settleQuota(ctx context.Context, spec *contract.Quota, reservationID uuid.UUID, reservedUnits int, charged []bool) {
	if spec == nil {
		return
	}
	usedUnits := 0
	for _, didCharge := range charged {
		if didCharge {
			usedUnits += spec.Cost
		}
	}
	refundable := spec.Refundable && spec.ReservedAt == contract.ReservedAtRequest
	sctx := context.WithoutCancel(ctx)

	var err error
	switch {
	case refundable && usedUnits == 0:
		err = c.quota.Refund(sctx, reservationID)
	case refundable:
		err = c.quota.Consume(sctx, reservationID, usedUnits)
	default:
		err = c.quota.Consume(sctx, reservationID, reservedUnits)
	}
	if err != nil {
		c.logger.Error().Err(err).
			Str("reservation_id", reservationID.String()).
			Int("used_units", usedUnits).
			Msg("coordinator: quota settle failed")
	}
}

type settledState struct {
	state   domain.StoryState
	version int64
}

// settleLifecycle moves the story out of generating: ready when every
// requested slot is ready, failed otherwise. Losing the version race
// means a concurrent call already settled it; adopt what it decided.
func (c *Coordinator) settleLifecycle(ctx context.Context, storyID uuid.UUID, version int64, results []SlotResult, actor string) settledState {
	to := domain.StoryStateReady
	for _, r := range results {
		if r.Status != domain.SlotStatusReady {
			to = domain.StoryStateFailed
			break
		}
	}
	sctx := context.WithoutCancel(ctx)
	newVersion, err := c.machine.Transition(sctx, lifecycle.KindStory, storyID, version, domain.StoryStateGenerating, to, actor)
	if err == nil {
		return settledState{state: to, version: newVersion}
	}
	if errors.Is(err, domain.ErrConflict) {
		if current, gerr := c.stories.GetByID(sctx, storyID); gerr == nil {
			return settledState{state: current.State, version: current.Version}
		}
	}
	c.logger.Error().Err(err).Str("story_id", storyID.String()).Msg("coordinator: lifecycle settle failed")
	return settledState{state: domain.StoryStateGenerating, version: version}
}

func failedResult(res SlotResult, err error) SlotResult {
	res.Status = domain.SlotStatusFailed
	res.Error = err.Error()
	return res
}
