package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Coordinator books slots. A slot is booked by one conditional update in the
// store and never by reading its state and writing it back.
type Coordinator struct {
	store    SlotStore
	patients PatientDirectory
	cache    AvailabilityCache
	inv      *invalidator
}

type CoordinatorOption func(*Coordinator)

func WithCoordinatorCache(c AvailabilityCache) CoordinatorOption {
	return func(co *Coordinator) {
		co.cache = c
	}
}

func NewCoordinator(store SlotStore, patients PatientDirectory, opts ...CoordinatorOption) *Coordinator {
	co := &Coordinator{store: store, patients: patients}
	for _, opt := range opts {
		opt(co)
	}
	if co.cache != nil {
		co.inv = newInvalidator(co.cache, store)
	}
	return co
}

// Book assigns slotID to patientID. It fails with ErrPatientNotFound,
// ErrSlotNotFound or ErrAlreadyBooked; a lost race is ErrAlreadyBooked and
// is never retried here.
func (co *Coordinator) Book(ctx context.Context, patientID, slotID uuid.UUID) (*Slot, error) {
	if _, err := co.patients.GetPatient(ctx, patientID); err != nil {
		if errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}

	won, err := co.store.CompareAndBook(ctx, slotID, patientID)
	if err != nil {
		return nil, fmt.Errorf("book slot: %w", err)
	}

	// The read below only explains the outcome; it never decides it.
	slot, getErr := co.store.Get(ctx, slotID)
	if !won {
		if getErr != nil {
			if errors.Is(getErr, ErrSlotNotFound) {
				return nil, getErr
			}
			return nil, fmt.Errorf("load slot: %w", getErr)
		}
		return nil, ErrAlreadyBooked
	}

	if getErr != nil {
		// committed; report success without the stored row
		co.inv.bookedUnknown(slotID)
		return &Slot{ID: slotID, Booked: true, PatientID: &patientID}, nil
	}

	co.inv.written(ctx, slot.DoctorID, slot.Date)
	return slot, nil
}
