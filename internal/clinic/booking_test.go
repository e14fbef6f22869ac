package clinic_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/clinic/clinictest"
)

func TestBook_Success(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Book", "book@clinic.test", true)
	patient := store.AddPatient()
	slots := seedSlots(t, store, doc.ID, "2024-06-01", win(t, "09:00", "09:30"))

	got, err := clinic.NewCoordinator(store, store).Book(context.Background(), patient.ID, slots[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Booked || got.PatientID == nil || *got.PatientID != patient.ID {
		t.Fatalf("slot not assigned to patient: %+v", got)
	}
	if got.BookedAt == nil {
		t.Error("expected booked_at to be set")
	}
	if got.Start != slots[0].Start || got.End != slots[0].End {
		t.Error("booking must not change the interval")
	}
}

func TestBook_Errors(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Err", "err@clinic.test", true)
	patient := store.AddPatient()
	other := store.AddPatient()
	slots := seedSlots(t, store, doc.ID, "2024-06-01", win(t, "09:00", "09:30"))
	co := clinic.NewCoordinator(store, store)
	ctx := context.Background()

	if _, err := co.Book(ctx, patient.ID, slots[0].ID); err != nil {
		t.Fatalf("first booking: %v", err)
	}

	tests := []struct {
		name      string
		patientID uuid.UUID
		slotID    uuid.UUID
		wantErr   error
		category  error
	}{
		{"already booked", other.ID, slots[0].ID, clinic.ErrAlreadyBooked, clinic.ErrConflict},
		{"same patient again", patient.ID, slots[0].ID, clinic.ErrAlreadyBooked, clinic.ErrConflict},
		{"unknown slot", patient.ID, uuid.New(), clinic.ErrSlotNotFound, clinic.ErrNotFound},
		{"unknown patient", uuid.New(), slots[0].ID, clinic.ErrPatientNotFound, clinic.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := co.Book(ctx, tt.patientID, tt.slotID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, tt.category) {
				t.Errorf("error %v should be in category %v", err, tt.category)
			}
		})
	}

	s, err := store.Get(ctx, slots[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *s.PatientID != patient.ID {
		t.Error("failed attempts must not change the patient")
	}
}

func TestBook_ConcurrentSingleWinner(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Race", "race@clinic.test", true)
	slots := seedSlots(t, store, doc.ID, "2024-06-01", win(t, "09:00", "09:30"))
	co := clinic.NewCoordinator(store, store)

	const n = 50
	patients := make([]clinic.Patient, n)
	for i := range patients {
		patients[i] = store.AddPatient()
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  []uuid.UUID
		conflict int
	)
	start := make(chan struct{})
	for _, p := range patients {
		wg.Add(1)
		go func(pid uuid.UUID) {
			defer wg.Done()
			<-start
			_, err := co.Book(context.Background(), pid, slots[0].ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, pid)
			case errors.Is(err, clinic.ErrAlreadyBooked):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p.ID)
	}
	close(start)
	wg.Wait()

	if len(winners) != 1 {
		t.Fatalf("expected exactly one winner, got %d", len(winners))
	}
	if conflict != n-1 {
		t.Errorf("expected %d conflicts, got %d", n-1, conflict)
	}

	s, err := store.Get(context.Background(), slots[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.PatientID == nil || *s.PatientID != winners[0] {
		t.Error("final patient must be the winner")
	}
}

func TestBook_StoreFailureIsWrapped(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Flaky", "flaky@clinic.test", true)
	patient := store.AddPatient()
	slots := seedSlots(t, store, doc.ID, "2024-06-01", win(t, "09:00", "09:30"))
	store.BookErr = errors.New("deadlock detected")

	_, err := clinic.NewCoordinator(store, store).Book(context.Background(), patient.ID, slots[0].ID)
	if !errors.Is(err, store.BookErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if errors.Is(err, clinic.ErrConflict) || errors.Is(err, clinic.ErrNotFound) {
		t.Error("infrastructure failure must not look like a domain error")
	}
}

func TestBook_ReadFailureAfterWinStillSucceeds(t *testing.T) {
	store := clinictest.NewStore()
	cache := clinictest.NewCache()
	doc := store.AddDoctor("Dr. Late", "late@clinic.test", true)
	patient := store.AddPatient()
	slots := seedSlots(t, store, doc.ID, "2024-06-01", win(t, "09:00", "09:30"))
	store.GetErr = errors.New("replica lag")

	got, err := clinic.NewCoordinator(store, store, clinic.WithCoordinatorCache(cache)).Book(context.Background(), patient.ID, slots[0].ID)
	if err != nil {
		t.Fatalf("a committed booking must not report failure: %v", err)
	}
	if got.ID != slots[0].ID || !got.Booked || *got.PatientID != patient.ID {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestBook_InvalidatesCache(t *testing.T) {
	store := clinictest.NewStore()
	cache := clinictest.NewCache()
	doc := store.AddDoctor("Dr. Inv", "inv@clinic.test", true)
	patient := store.AddPatient()
	slots := seedSlots(t, store, doc.ID, "2024-06-01", win(t, "09:00", "09:30"))

	co := clinic.NewCoordinator(store, store, clinic.WithCoordinatorCache(cache))
	if _, err := co.Book(context.Background(), patient.ID, slots[0].ID); err != nil {
		t.Fatalf("book: %v", err)
	}
	if g, _ := cache.SlotsGeneration(context.Background(), doc.ID, day(t, "2024-06-01")); g != 1 {
		t.Errorf("expected slot generation 1, got %d", g)
	}

	if _, err := co.Book(context.Background(), patient.ID, slots[0].ID); !errors.Is(err, clinic.ErrAlreadyBooked) {
		t.Fatalf("expected ErrAlreadyBooked, got %v", err)
	}
	if g, _ := cache.SlotsGeneration(context.Background(), doc.ID, day(t, "2024-06-01")); g != 1 {
		t.Errorf("a failed booking must not invalidate, generation is %d", g)
	}
}

// cancelAwareCache fails invalidations on a done context, as a network
// client would.
type cancelAwareCache struct {
	*clinictest.Cache
}

func (c cancelAwareCache) Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Cache.Invalidate(ctx, doctorID, date)
}

func warmService(t *testing.T, cache clinic.AvailabilityCache) (*clinic.Service, *clinictest.Store, clinic.Patient, clinic.Slot) {
	t.Helper()
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Warm", "warm@clinic.test", true)
	patient := store.AddPatient()
	svc := clinic.NewService(clinic.Deps{Store: store, Doctors: store, Patients: store, Cache: cache})

	created, err := svc.SubmitAvailability(context.Background(), doc.ID, "2024-06-01", []clinic.Window{win(t, "09:00", "09:30")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if open, err := svc.AvailableSlots(context.Background(), doc.ID, "2024-06-01"); err != nil || len(open) != 1 {
		t.Fatalf("expected one open slot, got %v (%v)", open, err)
	}
	if docs, err := svc.AvailableDoctors(context.Background(), "2024-06-01"); err != nil || len(docs) != 1 {
		t.Fatalf("expected one doctor, got %v (%v)", docs, err)
	}
	return svc, store, patient, created[0]
}

func assertNothingOpen(t *testing.T, svc *clinic.Service, doctorID uuid.UUID) {
	t.Helper()
	open, err := svc.AvailableSlots(context.Background(), doctorID, "2024-06-01")
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("booked slot still listed as open: %+v", open)
	}
	docs, err := svc.AvailableDoctors(context.Background(), "2024-06-01")
	if err != nil {
		t.Fatalf("list doctors: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("doctor without open slots still listed: %+v", docs)
	}
}

func TestBookSlot_CacheOutageDuringBooking(t *testing.T) {
	cache := clinictest.NewCache()
	svc, _, patient, slot := warmService(t, cache)

	cache.Err = errors.New("connection reset")
	if _, err := svc.BookSlot(context.Background(), patient.ID, slot.ID); err != nil {
		t.Fatalf("book: %v", err)
	}
	cache.Err = nil

	assertNothingOpen(t, svc, slot.DoctorID)

	hits := cache.Hits
	assertNothingOpen(t, svc, slot.DoctorID)
	if cache.Hits <= hits {
		t.Error("cache should serve listings again once the bump went through")
	}
}

func TestBookSlot_CallerCancelsAfterCommit(t *testing.T) {
	cache := clinictest.NewCache()
	svc, _, patient, slot := warmService(t, cancelAwareCache{cache})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.BookSlot(ctx, patient.ID, slot.ID); err != nil {
		t.Fatalf("book: %v", err)
	}
	if g, _ := cache.SlotsGeneration(context.Background(), slot.DoctorID, slot.Date); g != 2 {
		t.Errorf("expected generation 2 after booking, got %d", g)
	}
	assertNothingOpen(t, svc, slot.DoctorID)
}

func TestBookSlot_UnreadableSlotAfterWin(t *testing.T) {
	cache := clinictest.NewCache()
	svc, store, patient, slot := warmService(t, cache)

	store.GetErr = errors.New("replica lag")
	if _, err := svc.BookSlot(context.Background(), patient.ID, slot.ID); err != nil {
		t.Fatalf("book: %v", err)
	}

	// the slot is still unreadable, so listings come from the store
	assertNothingOpen(t, svc, slot.DoctorID)

	store.GetErr = nil
	assertNothingOpen(t, svc, slot.DoctorID)
}
