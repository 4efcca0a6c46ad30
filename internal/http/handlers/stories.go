package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storyforge/internal/domain"
)

type beatPayload struct {
	Index             int      `json:"index"`
	Title             string   `json:"title"`
	Text              string   `json:"text"`
	VisualDescription string   `json:"visual_description"`
	CharacterIDs      []string `json:"character_ids"`
}

type createStoryRequest struct {
	Title           string        `json:"title"`
	Summary         string        `json:"summary"`
	Voice           string        `json:"voice"`
	StyleVersion    int           `json:"style_version"`
	TemplateVersion int           `json:"template_version"`
	Beats           []beatPayload `json:"beats"`
}

type storyResponse struct {
	ID              string        `json:"id"`
	AccountID       string        `json:"account_id"`
	Title           string        `json:"title"`
	Summary         string        `json:"summary"`
	Voice           string        `json:"voice"`
	StyleVersion    int           `json:"style_version"`
	TemplateVersion int           `json:"template_version"`
	State           string        `json:"state"`
	Version         int64         `json:"version"`
	Beats           []beatPayload `json:"beats"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func storyToResponse(s *domain.Story) storyResponse {
	beats := make([]beatPayload, 0, len(s.Beats))
	for _, b := range s.Beats {
		beats = append(beats, beatPayload{
			Index:             b.Index,
			Title:             b.Title,
			Text:              b.Text,
			VisualDescription: b.VisualDescription,
			CharacterIDs:      b.CharacterIDs,
		})
	}
	return storyResponse{
		ID:              s.ID.String(),
		AccountID:       s.AccountID,
		Title:           s.Title,
		Summary:         s.Summary,
		Voice:           s.Voice,
		StyleVersion:    s.StyleVersion,
		TemplateVersion: s.TemplateVersion,
		State:           string(s.State),
		Version:         s.Version,
		Beats:           beats,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (a *App) CreateStory(w http.ResponseWriter, r *http.Request) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing account context")
		return
	}
	var req createStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "title required")
		return
	}
	if len(req.Beats) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "at least one beat required")
		return
	}
	seen := make(map[int]struct{}, len(req.Beats))
	beats := make([]domain.Beat, 0, len(req.Beats))
	for _, b := range req.Beats {
		if b.Index < 0 || b.Index >= len(req.Beats) {
			a.error(w, http.StatusBadRequest, "bad_request", "beat indexes must be 0..n-1")
			return
		}
		if _, dup := seen[b.Index]; dup {
			a.error(w, http.StatusBadRequest, "bad_request", "duplicate beat index "+strconv.Itoa(b.Index))
			return
		}
		seen[b.Index] = struct{}{}
		beats = append(beats, domain.Beat{
			Index:             b.Index,
			Title:             b.Title,
			Text:              b.Text,
			VisualDescription: b.VisualDescription,
			CharacterIDs:      b.CharacterIDs,
		})
	}
	story := &domain.Story{
		AccountID:       accountID,
		Title:           req.Title,
		Summary:         req.Summary,
		Voice:           req.Voice,
		StyleVersion:    req.StyleVersion,
		TemplateVersion: req.TemplateVersion,
		Beats:           beats,
	}
	if story.Voice == "" {
		story.Voice = "narrator-default"
	}
	if story.StyleVersion <= 0 {
		story.StyleVersion = 1
	}
	if story.TemplateVersion <= 0 {
		story.TemplateVersion = 1
	}
	if err := a.Stories.Create(r.Context(), story); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusCreated, storyToResponse(story))
}

func (a *App) GetStory(w http.ResponseWriter, r *http.Request) {
	story, ok := a.loadOwnedStory(w, r, "story_id")
	if !ok {
		return
	}
	a.json(w, http.StatusOK, storyToResponse(story))
}

type patchBeatRequest struct {
	Version           int64     `json:"version"`
	Title             *string   `json:"title"`
	Text              *string   `json:"text"`
	VisualDescription *string   `json:"visual_description"`
	CharacterIDs      *[]string `json:"character_ids"`
}

// PatchBeat updates one beat under optimistic concurrency: the caller
// sends the story version it read, and loses with 409 if a concurrent
// writer got there first.
func (a *App) PatchBeat(w http.ResponseWriter, r *http.Request) {
	story, ok := a.loadOwnedStory(w, r, "story_id")
	if !ok {
		return
	}
	switch story.State {
	case domain.StoryStateDraft, domain.StoryStateReady, domain.StoryStateFailed:
	default:
		a.error(w, http.StatusConflict, "conflict", "story is "+string(story.State)+", beats are frozen")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid beat index")
		return
	}
	beat, found := story.BeatByIndex(index)
	if !found {
		a.error(w, http.StatusNotFound, "not_found", "beat not found")
		return
	}
	var req patchBeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Version <= 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "version required")
		return
	}
	if req.Title != nil {
		beat.Title = *req.Title
	}
	if req.Text != nil {
		beat.Text = *req.Text
	}
	if req.VisualDescription != nil {
		beat.VisualDescription = *req.VisualDescription
	}
	if req.CharacterIDs != nil {
		beat.CharacterIDs = *req.CharacterIDs
	}
	version, err := a.Stories.UpdateBeat(r.Context(), story.ID, req.Version, beat)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"story_id": story.ID.String(),
		"version":  version,
		"beat": beatPayload{
			Index:             beat.Index,
			Title:             beat.Title,
			Text:              beat.Text,
			VisualDescription: beat.VisualDescription,
			CharacterIDs:      beat.CharacterIDs,
		},
	})
}

// loadOwnedStory resolves the story URL param and enforces ownership.
// It writes the error response itself when the second return is false.
func (a *App) loadOwnedStory(w http.ResponseWriter, r *http.Request, param string) (*domain.Story, bool) {
	accountID := a.currentAccountID(r)
	if accountID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing account context")
		return nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid story id")
		return nil, false
	}
	story, err := a.Stories.GetByID(r.Context(), id)
	if err != nil {
		a.domainError(w, err)
		return nil, false
	}
	if story.AccountID != accountID {
		// Hide other accounts' resources rather than confirming they exist.
		a.error(w, http.StatusNotFound, "not_found", "story not found")
		return nil, false
	}
	return story, true
}
