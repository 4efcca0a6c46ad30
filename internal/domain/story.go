package domain

import (
	"time"

	"github.com/google/uuid"
)

// StoryState enumerates the coarse lifecycle states of a story. The legal
// transitions between them are declared in the lifecycle package.
type StoryState string

const (
	StoryStateDraft      StoryState = "draft"
	StoryStateGenerating StoryState = "generating"
	StoryStateReady      StoryState = "ready"
	StoryStateFailed     StoryState = "failed"
	StoryStateArchived   StoryState = "archived"
)

// Beat is one narrative unit of a story. Its visual description and
// character references feed the fingerprint of the matching beat slot.
type Beat struct {
	Index             int      `json:"index"`
	Title             string   `json:"title"`
	Text              string   `json:"text"`
	VisualDescription string   `json:"visual_description"`
	CharacterIDs      []string `json:"character_ids"`
}

// Story is the resource whose derived artifacts (cover, per-beat scenes,
// narrated audio) are generated and cached. Version increases on every
// write; writers must supply the version they read.
type Story struct {
	ID              uuid.UUID
	AccountID       string
	Title           string
	Summary         string
	Voice           string
	StyleVersion    int
	TemplateVersion int
	State           StoryState
	Version         int64
	Beats           []Beat
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// RequiredSlots lists every slot a complete story owns, in presentation
// order: cover, one scene per beat, narrated audio.
func (s *Story) RequiredSlots() []string {
	slots := make([]string, 0, len(s.Beats)+2)
	slots = append(slots, SlotCover)
	for _, b := range s.Beats {
		slots = append(slots, BeatSlot(b.Index))
	}
	slots = append(slots, SlotAudio)
	return slots
}

// BeatByIndex returns the beat with the given index.
func (s *Story) BeatByIndex(index int) (Beat, bool) {
	for _, b := range s.Beats {
		if b.Index == index {
			return b, true
		}
	}
	return Beat{}, false
}
