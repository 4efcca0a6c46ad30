package domain

import (
	"testing"
	"time"
)

func TestBeatSlotRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 12} {
		slot := BeatSlot(n)
		got, ok := ParseBeatSlot(slot)
		if !ok || got != n {
			t.Errorf("ParseBeatSlot(%q) = %d, %v", slot, got, ok)
		}
	}
}

func TestParseBeatSlotRejects(t *testing.T) {
	for _, slot := range []string{"cover", "audio", "beat:", "beat:-1", "beat:x", "scene:0"} {
		if _, ok := ParseBeatSlot(slot); ok {
			t.Errorf("ParseBeatSlot(%q) accepted", slot)
		}
	}
}

func TestRequiredSlotsOrder(t *testing.T) {
	s := &Story{Beats: []Beat{{Index: 0}, {Index: 1}}}
	got := s.RequiredSlots()
	want := []string{SlotCover, "beat:0", "beat:1", SlotAudio}
	if len(got) != len(want) {
		t.Fatalf("RequiredSlots = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RequiredSlots[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLockExpired(t *testing.T) {
	now := time.Now()
	rec := SlotRecord{LockExpiresAt: now.Add(time.Minute)}
	if rec.LockExpired(now) {
		t.Fatal("future expiry reported expired")
	}
	rec.LockExpiresAt = now.Add(-time.Second)
	if !rec.LockExpired(now) {
		t.Fatal("past expiry reported live")
	}
}
