package gen

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"storyforge/internal/storage"
)

// SyntheticGenerator produces deterministic placeholder artifacts keyed
// by the slot fingerprint. It stands in for the external synthesis
// providers in development and tests: equal inputs yield the same
// storage key, changed inputs yield a new one.
type SyntheticGenerator struct {
	store   *storage.FileStore
	baseURL string
	logger  zerolog.Logger
}

func NewSyntheticGenerator(store *storage.FileStore, baseURL string, logger zerolog.Logger) *SyntheticGenerator {
	return &SyntheticGenerator{store: store, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

func (g *SyntheticGenerator) Generate(ctx context.Context, req Request) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ext := ".png"
	format := "image/png"
	if req.Kind == KindAudio {
		ext = ".mp3"
		format = "audio/mpeg"
	}
	short := req.Fingerprint
	if len(short) > 12 {
		short = short[:12]
	}
	key := fmt.Sprintf("generated/%s/%s-%s%s", req.StoryID, strings.ReplaceAll(req.Slot, ":", "-"), short, ext)

	data := []byte(fmt.Sprintf("synthetic %s artifact\nslot: %s\nfingerprint: %s\nprompt: %s\n", req.Kind, req.Slot, req.Fingerprint, req.Prompt))
	if g.store != nil {
		saved, err := g.store.Write(ctx, key, data)
		if err != nil {
			return nil, fmt.Errorf("synthetic artifact write: %w", err)
		}
		key = saved
	}

	g.logger.Debug().
		Str("story_id", req.StoryID).
		Str("slot", req.Slot).
		Str("storage_key", key).
		Msg("gen: produced synthetic artifact")

	return &Artifact{
		StorageKey: key,
		URL:        g.baseURL + "/" + key,
		Format:     format,
		Bytes:      int64(len(data)),
	}, nil
}
