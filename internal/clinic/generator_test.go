package clinic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/clinic/clinictest"
)

func tod(t *testing.T, s string) clinic.TimeOfDay {
	t.Helper()
	v, err := clinic.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func win(t *testing.T, start, end string) clinic.Window {
	t.Helper()
	return clinic.Window{Start: tod(t, start), End: tod(t, end)}
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := clinic.ParseDate(s)
	if err != nil {
		t.Fatalf("parse date %q: %v", s, err)
	}
	return d
}

func TestGenerate_OneSlotPerWindow(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Grey", "grey@clinic.test", true)
	gen := clinic.NewGenerator(store, store)

	windows := []clinic.Window{
		win(t, "14:00", "15:00"),
		win(t, "09:00", "09:30"),
		win(t, "11:00", "12:15"),
	}

	slots, err := gen.Generate(context.Background(), doc.ID, day(t, "2024-06-01"), windows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != len(windows) {
		t.Fatalf("expected %d slots, got %d", len(windows), len(slots))
	}
	if store.Len() != len(windows) {
		t.Fatalf("expected %d stored slots, got %d", len(windows), store.Len())
	}

	wantStarts := []string{"09:00", "11:00", "14:00"}
	seen := make(map[uuid.UUID]bool)
	for i, s := range slots {
		if s.Booked || s.PatientID != nil {
			t.Errorf("slot %d should be free", i)
		}
		if s.DoctorID != doc.ID {
			t.Errorf("slot %d has wrong doctor", i)
		}
		if clinic.FormatDate(s.Date) != "2024-06-01" {
			t.Errorf("slot %d has wrong date %s", i, s.Date)
		}
		if s.Start.String() != wantStarts[i] {
			t.Errorf("slot %d start = %s, want %s", i, s.Start, wantStarts[i])
		}
		if s.ID == uuid.Nil || seen[s.ID] {
			t.Errorf("slot %d id not unique: %s", i, s.ID)
		}
		seen[s.ID] = true
	}
}

func TestGenerate_RejectsBadInputWithoutWriting(t *testing.T) {
	tests := []struct {
		name    string
		windows func(t *testing.T) []clinic.Window
		wantErr error
	}{
		{
			name:    "empty",
			windows: func(t *testing.T) []clinic.Window { return nil },
			wantErr: clinic.ErrNoWindows,
		},
		{
			name: "start equals end",
			windows: func(t *testing.T) []clinic.Window {
				return []clinic.Window{win(t, "10:00", "10:00")}
			},
			wantErr: clinic.ErrInvalidRange,
		},
		{
			name: "start after end",
			windows: func(t *testing.T) []clinic.Window {
				return []clinic.Window{win(t, "09:00", "10:00"), win(t, "12:00", "11:00")}
			},
			wantErr: clinic.ErrInvalidRange,
		},
		{
			name: "overlapping",
			windows: func(t *testing.T) []clinic.Window {
				return []clinic.Window{win(t, "10:00", "11:00"), win(t, "10:30", "11:30")}
			},
			wantErr: clinic.ErrOverlappingWindow,
		},
		{
			name: "overlapping unsorted",
			windows: func(t *testing.T) []clinic.Window {
				return []clinic.Window{win(t, "13:00", "14:00"), win(t, "08:00", "09:00"), win(t, "08:30", "08:45")}
			},
			wantErr: clinic.ErrOverlappingWindow,
		},
		{
			name: "duplicate",
			windows: func(t *testing.T) []clinic.Window {
				return []clinic.Window{win(t, "10:00", "10:30"), win(t, "10:00", "10:30")}
			},
			wantErr: clinic.ErrOverlappingWindow,
		},
		{
			name: "out of range time",
			windows: func(t *testing.T) []clinic.Window {
				return []clinic.Window{{Start: 600, End: 24 * 60}}
			},
			wantErr: clinic.ErrInvalidTime,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := clinictest.NewStore()
			doc := store.AddDoctor("Dr. House", "house@clinic.test", true)
			gen := clinic.NewGenerator(store, store)

			slots, err := gen.Generate(context.Background(), doc.ID, day(t, "2024-06-01"), tt.windows(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if slots != nil {
				t.Errorf("expected no slots, got %d", len(slots))
			}
			if store.Len() != 0 || store.Inserts() != 0 {
				t.Errorf("expected nothing written, got %d slots", store.Len())
			}
		})
	}
}

func TestGenerate_TouchingWindowsAccepted(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Adjacent", "adjacent@clinic.test", true)
	gen := clinic.NewGenerator(store, store)

	slots, err := gen.Generate(context.Background(), doc.ID, day(t, "2024-06-01"), []clinic.Window{
		win(t, "10:30", "11:00"),
		win(t, "10:00", "10:30"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 2 || slots[0].End != slots[1].Start {
		t.Fatalf("expected two back-to-back slots, got %+v", slots)
	}
}

func TestGenerate_UnknownDoctor(t *testing.T) {
	store := clinictest.NewStore()
	gen := clinic.NewGenerator(store, store)

	_, err := gen.Generate(context.Background(), uuid.New(), day(t, "2024-06-01"), []clinic.Window{win(t, "09:00", "10:00")})
	if !errors.Is(err, clinic.ErrDoctorNotFound) {
		t.Fatalf("expected ErrDoctorNotFound, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("expected no slots for unknown doctor")
	}
}

func TestGenerate_UnapprovedDoctorMayDeclareAvailability(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Pending", "pending@clinic.test", false)
	gen := clinic.NewGenerator(store, store)

	if _, err := gen.Generate(context.Background(), doc.ID, day(t, "2024-06-01"), []clinic.Window{win(t, "09:00", "10:00")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one slot, got %d", store.Len())
	}
}

func TestGenerate_ResubmissionDuplicates(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Twice", "twice@clinic.test", true)
	gen := clinic.NewGenerator(store, store)
	windows := []clinic.Window{win(t, "09:00", "10:00")}

	for i := 0; i < 2; i++ {
		if _, err := gen.Generate(context.Background(), doc.ID, day(t, "2024-06-01"), windows); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
	if store.Len() != 2 {
		t.Fatalf("expected resubmission to create a second slot, got %d", store.Len())
	}
}

func TestGenerate_StoreFailure(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Down", "down@clinic.test", true)
	store.InsertErr = errors.New("connection reset")
	cache := clinictest.NewCache()
	gen := clinic.NewGenerator(store, store, clinic.WithGeneratorCache(cache))

	_, err := gen.Generate(context.Background(), doc.ID, day(t, "2024-06-01"), []clinic.Window{win(t, "09:00", "10:00")})
	if err == nil || !errors.Is(err, store.InsertErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if g, _ := cache.SlotsGeneration(context.Background(), doc.ID, day(t, "2024-06-01")); g != 0 {
		t.Error("cache must not be invalidated when nothing was written")
	}
}

func TestGenerate_InvalidatesCache(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Cache", "cache@clinic.test", true)
	cache := clinictest.NewCache()
	gen := clinic.NewGenerator(store, store, clinic.WithGeneratorCache(cache))
	d := day(t, "2024-06-01")

	if _, err := gen.Generate(context.Background(), doc.ID, d, []clinic.Window{win(t, "09:00", "10:00")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g, _ := cache.SlotsGeneration(context.Background(), doc.ID, d); g != 1 {
		t.Errorf("expected slot generation 1, got %d", g)
	}
	if g, _ := cache.DoctorsGeneration(context.Background(), d); g != 1 {
		t.Errorf("expected doctors generation 1, got %d", g)
	}
}

func TestGenerate_FixedLength(t *testing.T) {
	store := clinictest.NewStore()
	doc := store.AddDoctor("Dr. Split", "split@clinic.test", true)
	gen := clinic.NewGenerator(store, store, clinic.WithFixedLength(30*time.Minute))

	slots, err := gen.Generate(context.Background(), doc.ID, day(t, "2024-06-01"), []clinic.Window{
		win(t, "09:00", "10:15"),
		win(t, "13:00", "14:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][2]string{{"09:00", "09:30"}, {"09:30", "10:00"}, {"13:00", "13:30"}, {"13:30", "14:00"}}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(slots))
	}
	for i, w := range want {
		if slots[i].Start.String() != w[0] || slots[i].End.String() != w[1] {
			t.Errorf("slot %d = %s-%s, want %s-%s", i, slots[i].Start, slots[i].End, w[0], w[1])
		}
	}

	_, err = gen.Generate(context.Background(), doc.ID, day(t, "2024-06-02"), []clinic.Window{win(t, "09:00", "09:20")})
	if !errors.Is(err, clinic.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange for short window, got %v", err)
	}

	badLengths := []struct {
		name   string
		length time.Duration
	}{
		{"under a minute", 30 * time.Second},
		{"fractional minutes", 90 * time.Second},
		{"negative", -15 * time.Minute},
	}
	for _, tt := range badLengths {
		t.Run(tt.name, func(t *testing.T) {
			inserts := store.Inserts()
			g := clinic.NewGenerator(store, store, clinic.WithFixedLength(tt.length))
			_, err := g.Generate(context.Background(), doc.ID, day(t, "2024-06-03"), []clinic.Window{win(t, "09:00", "09:03")})
			if !errors.Is(err, clinic.ErrInvalidSlotLength) || !errors.Is(err, clinic.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidSlotLength, got %v", err)
			}
			if store.Inserts() != inserts {
				t.Error("nothing should be stored for a bad slot length")
			}
		})
	}
}

func TestGenerate_CacheOutageHidesStaleListing(t *testing.T) {
	store := clinictest.NewStore()
	cache := clinictest.NewCache()
	doc := store.AddDoctor("Dr. Late", "late@clinic.test", true)
	svc := clinic.NewService(clinic.Deps{Store: store, Doctors: store, Patients: store, Cache: cache})

	if docs, err := svc.AvailableDoctors(context.Background(), "2024-06-01"); err != nil || len(docs) != 0 {
		t.Fatalf("expected no doctors yet, got %v (%v)", docs, err)
	}

	cache.Err = errors.New("timeout")
	if _, err := svc.SubmitAvailability(context.Background(), doc.ID, "2024-06-01", []clinic.Window{win(t, "09:00", "09:30")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	cache.Err = nil

	docs, err := svc.AvailableDoctors(context.Background(), "2024-06-01")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 1 || docs[0].DoctorID != doc.ID {
		t.Errorf("new availability hidden by a stale listing: %+v", docs)
	}
}
