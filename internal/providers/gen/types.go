package gen

import "context"

// Kind enumerates artifact media kinds.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Request describes one slot generation passed to any provider. Inputs
// are exactly the canonical fields the slot's fingerprint was computed
// from, so a provider sees nothing the cache diff did not see.
type Request struct {
	StoryID     string
	Slot        string
	Kind        Kind
	Fingerprint string
	Prompt      string
	Inputs      map[string]any
}

// Artifact is a produced asset reference prior to persistence.
type Artifact struct {
	StorageKey string
	URL        string
	Format     string
	Bytes      int64
}

// Generator is the contract implemented by all artifact providers. The
// real image/audio synthesis SDKs live behind this interface; the engine
// only ever sees an artifact reference.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Artifact, error)
}
