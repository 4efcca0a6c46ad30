package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Slot keys. A story owns one cover slot, one audio slot, and one slot
// per beat.
const (
	SlotCover = "cover"
	SlotAudio = "audio"

	beatSlotPrefix = "beat:"
)

// BeatSlot returns the slot key for the beat with the given index.
func BeatSlot(index int) string {
	return fmt.Sprintf("%s%d", beatSlotPrefix, index)
}

// ParseBeatSlot extracts the beat index from a beat slot key.
func ParseBeatSlot(slot string) (int, bool) {
	rest, ok := strings.CutPrefix(slot, beatSlotPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SlotStatus enumerates persisted slot states. A slot with no row is
// "absent"; it is created lazily on the first generation request.
type SlotStatus string

const (
	SlotStatusAbsent     SlotStatus = "absent"
	SlotStatusQueued     SlotStatus = "queued"
	SlotStatusProcessing SlotStatus = "processing"
	SlotStatusReady      SlotStatus = "ready"
	SlotStatusFailed     SlotStatus = "failed"
	SlotStatusCancelled  SlotStatus = "cancelled"
)

// SlotRecord is the persisted cache row for one (story, slot) pair: the
// last committed fingerprint, the artifact it produced, and the
// generation lock guarding regeneration.
type SlotRecord struct {
	StoryID       uuid.UUID
	Slot          string
	Fingerprint   string
	ArtifactRef   string
	Status        SlotStatus
	LockToken     string
	LockExpiresAt time.Time
	UpdatedAt     time.Time
}

// LockExpired reports whether the record's generation lock has lapsed.
func (r *SlotRecord) LockExpired(now time.Time) bool {
	return r.LockExpiresAt.Before(now)
}

// ReservationState enumerates quota reservation states. A reservation
// moves from reserved to exactly one of consumed or refunded.
type ReservationState string

const (
	ReservationReserved ReservationState = "reserved"
	ReservationConsumed ReservationState = "consumed"
	ReservationRefunded ReservationState = "refunded"
)

// QuotaReservation is a provisional hold against an account's allowance
// for one request.
type QuotaReservation struct {
	ID        uuid.UUID
	AccountID string
	QuotaType string
	RequestID string
	Amount    int
	Consumed  int
	State     ReservationState
	CreatedAt time.Time
}
