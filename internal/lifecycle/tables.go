package lifecycle

import "storyforge/internal/domain"

// Kind names a resource kind with its own transition table.
type Kind string

const KindStory Kind = "story"

type statePair struct {
	from domain.StoryState
	to   domain.StoryState
}

// transitions declares, per resource kind, every legal (from, to) pair.
// Pairs not listed here are rejected unconditionally; there is no
// implicit default transition. Notably generating never moves straight
// to archived: a story must settle into ready or failed first.
var transitions = map[Kind][]statePair{
	KindStory: {
		{domain.StoryStateDraft, domain.StoryStateGenerating},
		{domain.StoryStateGenerating, domain.StoryStateReady},
		{domain.StoryStateGenerating, domain.StoryStateFailed},
		{domain.StoryStateFailed, domain.StoryStateGenerating},
		{domain.StoryStateReady, domain.StoryStateGenerating},
		{domain.StoryStateDraft, domain.StoryStateArchived},
		{domain.StoryStateReady, domain.StoryStateArchived},
		{domain.StoryStateFailed, domain.StoryStateArchived},
	},
}

// Allowed reports whether the (from, to) pair is declared for the kind.
func Allowed(kind Kind, from, to domain.StoryState) bool {
	for _, pair := range transitions[kind] {
		if pair.from == from && pair.to == to {
			return true
		}
	}
	return false
}

// From lists the states a kind may leave toward the given target state.
func From(kind Kind, to domain.StoryState) []domain.StoryState {
	var out []domain.StoryState
	for _, pair := range transitions[kind] {
		if pair.to == to {
			out = append(out, pair.from)
		}
	}
	return out
}
