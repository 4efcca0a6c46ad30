package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"storyforge/internal/domain"
	"storyforge/pkg/zip"
)

type assetView struct {
	Slot        string `json:"slot"`
	Status      string `json:"status"`
	ArtifactRef string `json:"artifact_ref,omitempty"`
	URL         string `json:"url,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// externalStatus projects the persisted slot status onto the API's
// coarser vocabulary. Cancelled and queued slots both read as pending:
// the caller only needs to know nothing is servable yet.
func externalStatus(status domain.SlotStatus) string {
	switch status {
	case domain.SlotStatusReady:
		return "ready"
	case domain.SlotStatusProcessing:
		return "processing"
	case domain.SlotStatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// StoryAssets reports every required slot of the story, including slots
// that have no persisted row yet.
func (a *App) StoryAssets(w http.ResponseWriter, r *http.Request) {
	story, ok := a.loadOwnedStory(w, r, "story_id")
	if !ok {
		return
	}
	records, err := a.Slots.List(r.Context(), story.ID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	bySlot := make(map[string]domain.SlotRecord, len(records))
	for _, rec := range records {
		bySlot[rec.Slot] = rec
	}
	items := make([]assetView, 0, len(story.RequiredSlots()))
	for _, slot := range story.RequiredSlots() {
		rec, found := bySlot[slot]
		if !found {
			items = append(items, assetView{Slot: slot, Status: "pending"})
			continue
		}
		view := assetView{Slot: slot, Status: externalStatus(rec.Status)}
		if rec.Status == domain.SlotStatusReady {
			view.ArtifactRef = rec.ArtifactRef
			view.URL = a.assetURL(rec.ArtifactRef)
			view.Fingerprint = rec.Fingerprint
		}
		items = append(items, view)
	}
	a.json(w, http.StatusOK, map[string]any{
		"story_id": story.ID.String(),
		"state":    string(story.State),
		"version":  story.Version,
		"items":    items,
	})
}

// StoryAssetsZip bundles every ready artifact of the story into one
// archive download.
func (a *App) StoryAssetsZip(w http.ResponseWriter, r *http.Request) {
	story, ok := a.loadOwnedStory(w, r, "story_id")
	if !ok {
		return
	}
	records, err := a.Slots.List(r.Context(), story.ID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	var entries []zip.Entry
	for _, rec := range records {
		if rec.Status != domain.SlotStatusReady || rec.ArtifactRef == "" {
			continue
		}
		data, err := a.Files.Read(r.Context(), rec.ArtifactRef)
		if err != nil {
			a.Logger.Warn().Err(err).Str("artifact_ref", rec.ArtifactRef).Msg("handlers: skipping unreadable artifact")
			continue
		}
		name := strings.ReplaceAll(rec.Slot, ":", "-") + filepath.Ext(rec.ArtifactRef)
		entries = append(entries, zip.Entry{Name: name, Data: data})
	}
	if len(entries) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no ready assets to archive")
		return
	}
	archive, err := zip.Archive(entries)
	if err != nil {
		a.domainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=story-%s.zip", story.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) assetURL(artifactRef string) string {
	base := strings.TrimRight(a.Config.StorageBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/" + strings.TrimLeft(artifactRef, "/")
}
