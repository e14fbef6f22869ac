package clinic

import (
	"time"

	"github.com/google/uuid"
)

type Doctor struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Name     string
	Email    string
	Approved bool
}

type Patient struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

// Window is a doctor-declared availability range on a single date.
type Window struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Slot is one bookable interval. Everything except Booked, PatientID and
// BookedAt is fixed at creation.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Start     TimeOfDay
	End       TimeOfDay
	Booked    bool
	PatientID *uuid.UUID
	CreatedAt time.Time
	BookedAt  *time.Time
}

func (s Slot) Window() Window {
	return Window{Start: s.Start, End: s.End}
}

// DoctorSummary is a row of the "who is free on date X" listing.
type DoctorSummary struct {
	DoctorID uuid.UUID `json:"doctorId"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
}

// OpenSlot is a row of the per-doctor free slot listing.
type OpenSlot struct {
	SlotID uuid.UUID `json:"slotId"`
	Start  TimeOfDay `json:"start"`
	End    TimeOfDay `json:"end"`
}
