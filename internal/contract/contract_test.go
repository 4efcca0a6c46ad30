package contract

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/lifecycle"
)

func validOperation() Operation {
	return Operation{
		Name:       "stories.finalize",
		Method:     http.MethodPost,
		Path:       "/v1/stories/{story_id}/finalize",
		Scope:      ScopeAccount,
		Visibility: VisibilityRestricted,
		Idempotency: &Idempotency{
			Required: true,
			LockKey:  "story_id",
			TTL:      time.Hour,
		},
		Quota: &Quota{
			Type:       "generation",
			Cost:       1,
			Refundable: true,
			ReservedAt: ReservedAtRequest,
		},
		Lifecycle: &Lifecycle{
			Resource:   lifecycle.KindStory,
			FromStates: []domain.StoryState{domain.StoryStateDraft},
			ToState:    domain.StoryStateGenerating,
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := validOperation().Validate(); err != nil {
		t.Fatalf("valid operation rejected: %v", err)
	}
}

func TestValidateRejectsRequiredIdempotencyWithoutLockKey(t *testing.T) {
	op := validOperation()
	op.Idempotency.LockKey = ""
	if err := op.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateRejectsRefundableCompletionQuota(t *testing.T) {
	op := validOperation()
	op.Quota.ReservedAt = ReservedAtCompletion
	if err := op.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateRejectsLifecyclePairMissingFromTable(t *testing.T) {
	op := validOperation()
	op.Lifecycle.FromStates = []domain.StoryState{domain.StoryStateGenerating}
	op.Lifecycle.ToState = domain.StoryStateArchived
	if err := op.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for generating -> archived, got %v", err)
	}
}

func TestValidateRejectsUnknownVisibility(t *testing.T) {
	op := validOperation()
	op.Visibility = "secret"
	if err := op.Validate(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry(validOperation(), validOperation())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestRegistryLookup(t *testing.T) {
	reg, err := NewRegistry(validOperation())
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	op, ok := reg.Get("stories.finalize")
	if !ok {
		t.Fatal("operation not found")
	}
	if op.Quota == nil || op.Quota.Type != "generation" {
		t.Fatalf("unexpected quota contract: %+v", op.Quota)
	}
	if got := len(reg.Operations()); got != 1 {
		t.Fatalf("Operations() = %d entries, want 1", got)
	}
}
