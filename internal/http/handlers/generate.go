package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"storyforge/internal/coordinator"
)

type finalizeRequest struct {
	Slots []string `json:"slots"`
}

type finalizeResponse struct {
	StoryID  string                   `json:"story_id"`
	State    string                   `json:"state"`
	Version  int64                    `json:"version"`
	Replayed bool                     `json:"replayed"`
	Slots    []coordinator.SlotResult `json:"slots"`
}

// FinalizeStory drives generation for the story's slots. The operation's
// contract decides whether an Idempotency-Key is mandatory and what the
// request reserves against the account's quota.
func (a *App) FinalizeStory(w http.ResponseWriter, r *http.Request) {
	story, ok := a.loadOwnedStory(w, r, "story_id")
	if !ok {
		return
	}
	op, found := a.Registry.Get(coordinator.EndpointFinalize)
	if !found {
		a.error(w, http.StatusInternalServerError, "internal", "finalize operation not registered")
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if op.Idempotency != nil && op.Idempotency.Required && key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "Idempotency-Key header required")
		return
	}

	var req finalizeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
			return
		}
	}

	result, err := a.Coordinator.Handle(r.Context(), coordinator.Request{
		StoryID:        story.ID,
		AccountID:      story.AccountID,
		Slots:          req.Slots,
		IdempotencyKey: key,
		Endpoint:       coordinator.EndpointFinalize,
		Quota:          op.Quota,
		Actor:          "api",
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, finalizeResponse{
		StoryID:  result.StoryID.String(),
		State:    string(result.State),
		Version:  result.Version,
		Replayed: result.Replayed,
		Slots:    result.Slots,
	})
}
