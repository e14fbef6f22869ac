// Package clinictest provides in-memory implementations of the clinic
// storage interfaces for tests.
package clinictest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

// Store keeps slots, doctors and patients in maps behind one mutex.
type Store struct {
	mu       sync.Mutex
	slots    map[uuid.UUID]clinic.Slot
	doctors  map[uuid.UUID]clinic.Doctor
	patients map[uuid.UUID]clinic.Patient

	// Set to make the corresponding call fail.
	InsertErr error
	GetErr    error
	BookErr   error

	inserts int
}

func NewStore() *Store {
	return &Store{
		slots:    make(map[uuid.UUID]clinic.Slot),
		doctors:  make(map[uuid.UUID]clinic.Doctor),
		patients: make(map[uuid.UUID]clinic.Patient),
	}
}

func (s *Store) AddDoctor(name, email string, approved bool) clinic.Doctor {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := clinic.Doctor{ID: uuid.New(), UserID: uuid.New(), Name: name, Email: email, Approved: approved}
	s.doctors[d.ID] = d
	return d
}

func (s *Store) AddPatient() clinic.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := clinic.Patient{ID: uuid.New(), UserID: uuid.New()}
	s.patients[p.ID] = p
	return p
}

// Len reports how many slots are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Inserts reports how many InsertMany calls succeeded.
func (s *Store) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}

// SlotStore

func (s *Store) Get(_ context.Context, slotID uuid.UUID) (*clinic.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	sl, ok := s.slots[slotID]
	if !ok {
		return nil, clinic.ErrSlotNotFound
	}
	return &sl, nil
}

func (s *Store) ListByDoctorAndDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]clinic.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := clinic.DateOf(date)
	var out []clinic.Slot
	for _, sl := range s.slots {
		if sl.DoctorID == doctorID && sl.Date.Equal(day) {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (s *Store) DoctorsWithOpenSlots(_ context.Context, date time.Time) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := clinic.DateOf(date)
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, sl := range s.slots {
		if sl.Booked || !sl.Date.Equal(day) || seen[sl.DoctorID] {
			continue
		}
		seen[sl.DoctorID] = true
		out = append(out, sl.DoctorID)
	}
	return out, nil
}

func (s *Store) InsertMany(_ context.Context, slots []clinic.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	for _, sl := range slots {
		sl.Date = clinic.DateOf(sl.Date)
		s.slots[sl.ID] = sl
	}
	s.inserts++
	return nil
}

func (s *Store) CompareAndBook(_ context.Context, slotID, patientID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.BookErr != nil {
		return false, s.BookErr
	}
	sl, ok := s.slots[slotID]
	if !ok || sl.Booked {
		return false, nil
	}
	now := time.Now().UTC()
	pid := patientID
	sl.Booked = true
	sl.PatientID = &pid
	sl.BookedAt = &now
	s.slots[slotID] = sl
	return true, nil
}

// DoctorDirectory

func (s *Store) GetDoctor(_ context.Context, id uuid.UUID) (*clinic.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doctors[id]
	if !ok {
		return nil, clinic.ErrDoctorNotFound
	}
	return &d, nil
}

func (s *Store) ApprovedDoctors(_ context.Context, ids []uuid.UUID) ([]clinic.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []clinic.Doctor
	for _, id := range ids {
		if d, ok := s.doctors[id]; ok && d.Approved {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) DoctorIDByUserID(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.doctors {
		if d.UserID == userID {
			return d.ID, nil
		}
	}
	return uuid.Nil, clinic.ErrDoctorNotFound
}

// PatientDirectory

func (s *Store) GetPatient(_ context.Context, id uuid.UUID) (*clinic.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, clinic.ErrPatientNotFound
	}
	return &p, nil
}

func (s *Store) PatientIDByUserID(_ context.Context, userID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p.UserID == userID {
			return p.ID, nil
		}
	}
	return uuid.Nil, clinic.ErrPatientNotFound
}
