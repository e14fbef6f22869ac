package clinic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const invalidateAttempts = 3

type staleKey struct {
	doctorID uuid.UUID
	date     string
}

// invalidator bumps cache generations after committed writes. A bump that
// keeps failing is remembered, and readers skip the cache for the affected
// doctor and date until a later bump succeeds.
type invalidator struct {
	cache AvailabilityCache
	store SlotStore

	mu  sync.Mutex
	seq uint64
	// stale maps a doctor and date to the seq of its latest failed bump.
	stale map[staleKey]uint64
	// slots were booked but their doctor and date could not be read back.
	slots map[uuid.UUID]uint64
}

func newInvalidator(cache AvailabilityCache, store SlotStore) *invalidator {
	return &invalidator{
		cache: cache,
		store: store,
		stale: make(map[staleKey]uint64),
		slots: make(map[uuid.UUID]uint64),
	}
}

// written runs after a committed write on doctorID and date. It outlives
// the caller's context: the write is durable whether or not the caller waits.
func (iv *invalidator) written(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	if iv == nil {
		return
	}
	if iv.bump(context.WithoutCancel(ctx), doctorID, date) {
		return
	}
	iv.mu.Lock()
	iv.seq++
	iv.stale[staleKey{doctorID, FormatDate(date)}] = iv.seq
	iv.mu.Unlock()
}

// bookedUnknown records a committed booking whose slot could not be read.
func (iv *invalidator) bookedUnknown(slotID uuid.UUID) {
	if iv == nil {
		return
	}
	iv.mu.Lock()
	iv.seq++
	iv.slots[slotID] = iv.seq
	iv.mu.Unlock()
}

func (iv *invalidator) bump(ctx context.Context, doctorID uuid.UUID, date time.Time) bool {
	for i := 0; i < invalidateAttempts; i++ {
		if err := iv.cache.Invalidate(ctx, doctorID, date); err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

// usable reports whether cached listings for date can be trusted. A nil
// doctorID covers every doctor on that date. Pending bumps are retried first.
func (iv *invalidator) usable(ctx context.Context, doctorID *uuid.UUID, date time.Time) bool {
	if iv == nil {
		return false
	}

	iv.mu.Lock()
	if len(iv.stale) == 0 && len(iv.slots) == 0 {
		iv.mu.Unlock()
		return true
	}
	slots := make(map[uuid.UUID]uint64, len(iv.slots))
	for id, seq := range iv.slots {
		slots[id] = seq
	}
	iv.mu.Unlock()

	for id, seq := range slots {
		s, err := iv.store.Get(ctx, id)
		switch {
		case err == nil:
			iv.mu.Lock()
			if iv.slots[id] == seq {
				delete(iv.slots, id)
			}
			iv.seq++
			iv.stale[staleKey{s.DoctorID, FormatDate(s.Date)}] = iv.seq
			iv.mu.Unlock()
		case errors.Is(err, ErrSlotNotFound):
			iv.mu.Lock()
			if iv.slots[id] == seq {
				delete(iv.slots, id)
			}
			iv.mu.Unlock()
		default:
			return false
		}
	}

	day := FormatDate(date)
	iv.mu.Lock()
	var due []staleKey
	dueSeq := make(map[staleKey]uint64)
	for k, seq := range iv.stale {
		if k.date == day && (doctorID == nil || k.doctorID == *doctorID) {
			due = append(due, k)
			dueSeq[k] = seq
		}
	}
	iv.mu.Unlock()

	for _, k := range due {
		if !iv.bump(ctx, k.doctorID, date) {
			return false
		}
		iv.mu.Lock()
		if iv.stale[k] == dueSeq[k] {
			delete(iv.stale, k)
		}
		iv.mu.Unlock()
	}
	return true
}
