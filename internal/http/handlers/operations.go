package handlers

import (
	"net/http"
	"time"

	"storyforge/internal/contract"
	"storyforge/internal/coordinator"
	"storyforge/internal/domain"
	"storyforge/internal/lifecycle"
)

// DefaultOperations declares the service's operation contracts. The set
// is validated at startup; an illegal contract (for example a lifecycle
// pair missing from the transition table) fails the boot.
func DefaultOperations() []contract.Operation {
	return []contract.Operation{
		{
			Name:       "stories.create",
			Method:     http.MethodPost,
			Path:       "/v1/stories",
			Scope:      contract.ScopeAccount,
			Visibility: contract.VisibilityRestricted,
		},
		{
			Name:       "stories.get",
			Method:     http.MethodGet,
			Path:       "/v1/stories/{story_id}",
			Scope:      contract.ScopeAccount,
			Visibility: contract.VisibilityRestricted,
		},
		{
			Name:       "stories.patch_beat",
			Method:     http.MethodPatch,
			Path:       "/v1/stories/{story_id}/beats/{index}",
			Scope:      contract.ScopeAccount,
			Visibility: contract.VisibilityRestricted,
		},
		{
			Name:       coordinator.EndpointFinalize,
			Method:     http.MethodPost,
			Path:       "/v1/stories/{story_id}/finalize",
			Scope:      contract.ScopeAccount,
			Visibility: contract.VisibilityRestricted,
			Idempotency: &contract.Idempotency{
				Required:      true,
				LockKey:       "story_id",
				TTL:           24 * time.Hour,
				ConsumesQuota: true,
				RetrySafe:     true,
			},
			Quota: &contract.Quota{
				Type:       "generation",
				Cost:       1,
				Refundable: true,
				ReservedAt: contract.ReservedAtRequest,
			},
			Lifecycle: &contract.Lifecycle{
				Resource: lifecycle.KindStory,
				FromStates: []domain.StoryState{
					domain.StoryStateDraft,
					domain.StoryStateReady,
					domain.StoryStateFailed,
				},
				ToState:     domain.StoryStateGenerating,
				SideEffects: []string{"artifact_generation", "quota_consumption"},
			},
		},
		{
			Name:       "stories.assets",
			Method:     http.MethodGet,
			Path:       "/v1/stories/{story_id}/assets",
			Scope:      contract.ScopeAccount,
			Visibility: contract.VisibilityRestricted,
		},
		{
			Name:       "stories.assets_zip",
			Method:     http.MethodGet,
			Path:       "/v1/stories/{story_id}/assets.zip",
			Scope:      contract.ScopeAccount,
			Visibility: contract.VisibilityRestricted,
		},
		{
			Name:       "operations.list",
			Method:     http.MethodGet,
			Path:       "/v1/operations",
			Scope:      contract.ScopeNone,
			Visibility: contract.VisibilityPublic,
		},
		{
			Name:       "healthz",
			Method:     http.MethodGet,
			Path:       "/v1/healthz",
			Scope:      contract.ScopeNone,
			Visibility: contract.VisibilityPublic,
		},
	}
}

// Operations lists every registered operation with its contracts, as
// machine-readable API documentation.
func (a *App) Operations(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"items": a.Registry.Operations()})
}
