package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotStore persists slots. CompareAndBook is the only way a slot becomes
// booked and must be linearizable per slot id: of any set of concurrent
// calls for one free slot exactly one returns true.
type SlotStore interface {
	Get(ctx context.Context, slotID uuid.UUID) (*Slot, error)
	ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error)
	// DoctorsWithOpenSlots returns the distinct owners of unbooked slots on date.
	DoctorsWithOpenSlots(ctx context.Context, date time.Time) ([]uuid.UUID, error)
	// InsertMany stores all slots or none.
	InsertMany(ctx context.Context, slots []Slot) error
	// CompareAndBook sets booked=true and the patient only if the slot exists
	// and is still free, reporting whether this call made the transition.
	CompareAndBook(ctx context.Context, slotID, patientID uuid.UUID) (bool, error)
}

// DoctorDirectory is the read side of doctor registration.
type DoctorDirectory interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// ApprovedDoctors returns the approved subset of ids, in any order.
	ApprovedDoctors(ctx context.Context, ids []uuid.UUID) ([]Doctor, error)
	DoctorIDByUserID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

type PatientDirectory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	PatientIDByUserID(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
}

// AvailabilityCache memoizes listings under a generation number. Readers
// fetch the generation before reading the store and file their result under
// it; Invalidate bumps the generation so fills computed from older reads
// land on keys nobody asks for again.
type AvailabilityCache interface {
	DoctorsGeneration(ctx context.Context, date time.Time) (int64, error)
	Doctors(ctx context.Context, date time.Time, gen int64) ([]DoctorSummary, bool, error)
	PutDoctors(ctx context.Context, date time.Time, gen int64, doctors []DoctorSummary) error

	SlotsGeneration(ctx context.Context, doctorID uuid.UUID, date time.Time) (int64, error)
	OpenSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, gen int64) ([]OpenSlot, bool, error)
	PutOpenSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, gen int64, slots []OpenSlot) error

	// Invalidate bumps both the date-wide and the doctor+date generation.
	Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) error
}
