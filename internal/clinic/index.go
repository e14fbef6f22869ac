package clinic

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Index answers availability queries. It never writes to the store.
type Index struct {
	store   SlotStore
	doctors DoctorDirectory
	cache   AvailabilityCache
	inv     *invalidator
}

type IndexOption func(*Index)

func WithIndexCache(c AvailabilityCache) IndexOption {
	return func(ix *Index) {
		ix.cache = c
	}
}

func NewIndex(store SlotStore, doctors DoctorDirectory, opts ...IndexOption) *Index {
	ix := &Index{store: store, doctors: doctors}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.cache != nil {
		ix.inv = newInvalidator(ix.cache, store)
	}
	return ix
}

// ListDoctorsWithOpenSlots returns approved doctors owning at least one free
// slot on date, ordered by name and then id.
func (ix *Index) ListDoctorsWithOpenSlots(ctx context.Context, date string) ([]DoctorSummary, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	gen, cached := int64(0), ix.inv.usable(ctx, nil, day)
	if cached {
		if gen, err = ix.cache.DoctorsGeneration(ctx, day); err != nil {
			cached = false
		} else if hit, ok, err := ix.cache.Doctors(ctx, day, gen); err == nil && ok {
			return hit, nil
		}
	}

	out, err := ix.doctorsWithOpenSlots(ctx, day)
	if err != nil {
		return nil, err
	}

	if cached {
		_ = ix.cache.PutDoctors(ctx, day, gen, out)
	}
	return out, nil
}

func (ix *Index) doctorsWithOpenSlots(ctx context.Context, day time.Time) ([]DoctorSummary, error) {
	ids, err := ix.store.DoctorsWithOpenSlots(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("find doctors with open slots: %w", err)
	}
	if len(ids) == 0 {
		return []DoctorSummary{}, nil
	}

	docs, err := ix.doctors.ApprovedDoctors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load approved doctors: %w", err)
	}

	out := make([]DoctorSummary, 0, len(docs))
	for _, d := range docs {
		if !d.Approved {
			continue
		}
		out = append(out, DoctorSummary{DoctorID: d.ID, Name: d.Name, Email: d.Email})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].DoctorID.String() < out[j].DoctorID.String()
	})
	return out, nil
}

// ListOpenSlots returns the free slots of doctorID on date ordered by start.
// An unknown doctor yields an empty list.
func (ix *Index) ListOpenSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]OpenSlot, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}

	gen, cached := int64(0), ix.inv.usable(ctx, &doctorID, day)
	if cached {
		if gen, err = ix.cache.SlotsGeneration(ctx, doctorID, day); err != nil {
			cached = false
		} else if hit, ok, err := ix.cache.OpenSlots(ctx, doctorID, day, gen); err == nil && ok {
			return hit, nil
		}
	}

	slots, err := ix.store.ListByDoctorAndDate(ctx, doctorID, day)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	out := OpenSlotsOf(slots)
	if cached {
		_ = ix.cache.PutOpenSlots(ctx, doctorID, day, gen, out)
	}
	return out, nil
}

// OpenSlotsOf filters out booked slots and orders the rest by start time.
func OpenSlotsOf(slots []Slot) []OpenSlot {
	out := make([]OpenSlot, 0, len(slots))
	for _, s := range slots {
		if s.Booked {
			continue
		}
		out = append(out, OpenSlot{SlotID: s.ID, Start: s.Start, End: s.End})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].SlotID.String() < out[j].SlotID.String()
	})
	return out
}
