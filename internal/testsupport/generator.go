package testsupport

import (
	"context"
	"fmt"
	"sync"

	"storyforge/internal/providers/gen"
)

// StubGenerator implements gen.Generator deterministically: the artifact
// reference is derived from the fingerprint, and each slot's call count
// is recorded. FailuresFor injects failing attempts per slot.
type StubGenerator struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int
}

func NewStubGenerator() *StubGenerator {
	return &StubGenerator{
		calls:    make(map[string]int),
		failures: make(map[string]int),
	}
}

// FailuresFor makes the next n Generate calls for the slot fail.
func (g *StubGenerator) FailuresFor(slot string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[slot] = n
}

// Calls reports how many times the slot was generated.
func (g *StubGenerator) Calls(slot string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[slot]
}

// TotalCalls reports the generation count across all slots.
func (g *StubGenerator) TotalCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	total := 0
	for _, n := range g.calls {
		total += n
	}
	return total
}

func (g *StubGenerator) Generate(ctx context.Context, req gen.Request) (*gen.Artifact, error) {
	g.mu.Lock()
	g.calls[req.Slot]++
	remaining := g.failures[req.Slot]
	if remaining > 0 {
		g.failures[req.Slot] = remaining - 1
	}
	g.mu.Unlock()

	if remaining > 0 {
		return nil, fmt.Errorf("synthetic provider outage for slot %s", req.Slot)
	}
	ext := "png"
	if req.Kind == gen.KindAudio {
		ext = "mp3"
	}
	key := fmt.Sprintf("stub/%s/%s.%s", req.StoryID, req.Fingerprint[:12], ext)
	return &gen.Artifact{StorageKey: key, URL: "file://" + key, Format: ext, Bytes: int64(len(req.Prompt))}, nil
}
