package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service is the operation surface the transport layer calls.
type Service struct {
	generator   *Generator
	index       *Index
	coordinator *Coordinator
	doctors     DoctorDirectory
	patients    PatientDirectory
}

type Deps struct {
	Store    SlotStore
	Doctors  DoctorDirectory
	Patients PatientDirectory
	// Cache is optional.
	Cache AvailabilityCache
	// SlotLength of zero keeps one slot per window.
	SlotLength time.Duration
}

func NewService(d Deps) *Service {
	genOpts := []GeneratorOption{WithFixedLength(d.SlotLength)}
	var ixOpts []IndexOption
	var coOpts []CoordinatorOption
	if d.Cache != nil {
		genOpts = append(genOpts, WithGeneratorCache(d.Cache))
		ixOpts = append(ixOpts, WithIndexCache(d.Cache))
		coOpts = append(coOpts, WithCoordinatorCache(d.Cache))
	}

	s := &Service{
		generator:   NewGenerator(d.Store, d.Doctors, genOpts...),
		index:       NewIndex(d.Store, d.Doctors, ixOpts...),
		coordinator: NewCoordinator(d.Store, d.Patients, coOpts...),
		doctors:     d.Doctors,
		patients:    d.Patients,
	}
	// writers and readers share one record of failed cache bumps
	if d.Cache != nil {
		inv := newInvalidator(d.Cache, d.Store)
		s.generator.inv, s.index.inv, s.coordinator.inv = inv, inv, inv
	}
	return s
}

// SubmitAvailability expands windows on date into free slots for doctorID.
func (s *Service) SubmitAvailability(ctx context.Context, doctorID uuid.UUID, date string, windows []Window) ([]Slot, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return s.generator.Generate(ctx, doctorID, day, windows)
}

func (s *Service) AvailableDoctors(ctx context.Context, date string) ([]DoctorSummary, error) {
	return s.index.ListDoctorsWithOpenSlots(ctx, date)
}

func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]OpenSlot, error) {
	return s.index.ListOpenSlots(ctx, doctorID, date)
}

func (s *Service) BookSlot(ctx context.Context, patientID, slotID uuid.UUID) (*Slot, error) {
	return s.coordinator.Book(ctx, patientID, slotID)
}

// DoctorIDForUser maps an authenticated user to their doctor profile.
func (s *Service) DoctorIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	return s.doctors.DoctorIDByUserID(ctx, userID)
}

// PatientIDForUser maps an authenticated user to their patient profile.
func (s *Service) PatientIDForUser(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	return s.patients.PatientIDByUserID(ctx, userID)
}
