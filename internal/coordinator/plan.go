package coordinator

import (
	"fmt"
	"strings"

	"storyforge/internal/domain"
	"storyforge/internal/fingerprint"
	"storyforge/internal/providers/gen"
)

// slotPlan carries everything one slot generation needs: the canonical
// inputs the fingerprint is computed from, and the prompt handed to the
// provider. The provider never sees inputs the cache diff did not see.
type slotPlan struct {
	slot        string
	kind        gen.Kind
	prompt      string
	inputs      map[string]any
	fingerprint string
}

// buildPlan maps the story's current content onto the requested slots.
// A slot key that does not belong to the story is a validation error.
func buildPlan(story *domain.Story, slotKeys []string) ([]slotPlan, error) {
	plans := make([]slotPlan, 0, len(slotKeys))
	for _, slot := range slotKeys {
		plan, err := buildSlotPlan(story, slot)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func buildSlotPlan(story *domain.Story, slot string) (slotPlan, error) {
	var plan slotPlan
	switch {
	case slot == domain.SlotCover:
		plan = coverPlan(story)
	case slot == domain.SlotAudio:
		plan = audioPlan(story)
	default:
		index, ok := domain.ParseBeatSlot(slot)
		if !ok {
			return slotPlan{}, fmt.Errorf("%w: unknown slot %q", domain.ErrValidation, slot)
		}
		beat, ok := story.BeatByIndex(index)
		if !ok {
			return slotPlan{}, fmt.Errorf("%w: story %s has no beat %d", domain.ErrValidation, story.ID, index)
		}
		plan = beatPlan(story, beat)
	}
	digest, err := fingerprint.Compute(fingerprint.Inputs{Slot: plan.slot, Fields: plan.inputs})
	if err != nil {
		return slotPlan{}, err
	}
	plan.fingerprint = digest
	return plan, nil
}

func coverPlan(story *domain.Story) slotPlan {
	inputs := map[string]any{
		"kind":             "cover",
		"title":            story.Title,
		"summary":          story.Summary,
		"style_version":    story.StyleVersion,
		"template_version": story.TemplateVersion,
	}
	prompt := fmt.Sprintf("Cover illustration for %q: %s", strings.TrimSpace(story.Title), strings.TrimSpace(story.Summary))
	return slotPlan{slot: domain.SlotCover, kind: gen.KindImage, prompt: prompt, inputs: inputs}
}

func beatPlan(story *domain.Story, beat domain.Beat) slotPlan {
	inputs := map[string]any{
		"kind":               "scene",
		"visual_description": beat.VisualDescription,
		"text":               beat.Text,
		"character_ids":      beat.CharacterIDs,
		"style_version":      story.StyleVersion,
		"template_version":   story.TemplateVersion,
	}
	prompt := fmt.Sprintf("Scene illustration, beat %d: %s", beat.Index, strings.TrimSpace(beat.VisualDescription))
	return slotPlan{slot: domain.BeatSlot(beat.Index), kind: gen.KindImage, prompt: prompt, inputs: inputs}
}

// audioPlan depends on the narrated text of every beat but not on any
// visual description, so retouching a scene never re-renders narration.
func audioPlan(story *domain.Story) slotPlan {
	texts := make([]string, 0, len(story.Beats))
	for _, beat := range story.Beats {
		texts = append(texts, beat.Text)
	}
	inputs := map[string]any{
		"kind":             "narration",
		"title":            story.Title,
		"voice":            story.Voice,
		"beat_texts":       texts,
		"template_version": story.TemplateVersion,
	}
	prompt := fmt.Sprintf("Narrate %q with voice %s", strings.TrimSpace(story.Title), story.Voice)
	return slotPlan{slot: domain.SlotAudio, kind: gen.KindAudio, prompt: prompt, inputs: inputs}
}
