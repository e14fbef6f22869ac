package clinic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Generator turns availability windows into slots.
type Generator struct {
	store   SlotStore
	doctors DoctorDirectory
	cache   AvailabilityCache
	inv     *invalidator
	length  time.Duration
	now     func() time.Time
	newID   func() uuid.UUID
}

type GeneratorOption func(*Generator)

// WithFixedLength splits every window into consecutive slots of length d,
// which must be a whole number of minutes. A trailing remainder shorter than
// d is not offered.
func WithFixedLength(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		g.length = d
	}
}

// WithGeneratorCache bumps the availability cache after each insert.
func WithGeneratorCache(c AvailabilityCache) GeneratorOption {
	return func(g *Generator) {
		g.cache = c
	}
}

func NewGenerator(store SlotStore, doctors DoctorDirectory, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:   store,
		doctors: doctors,
		now:     time.Now,
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.cache != nil {
		g.inv = newInvalidator(g.cache, store)
	}
	return g
}

// Generate validates windows for doctorID on date and persists one free slot
// per window (or per fixed-length piece). Either every slot is stored or none.
// Windows may arrive in any order and are half-open, so a window may start
// where the previous one ends; any real overlap is rejected. Existing slots
// for the same doctor and date are not consulted.
func (g *Generator) Generate(ctx context.Context, doctorID uuid.UUID, date time.Time, windows []Window) ([]Slot, error) {
	if len(windows) == 0 {
		return nil, ErrNoWindows
	}

	sorted, err := normalizeWindows(windows)
	if err != nil {
		return nil, err
	}

	pieces, err := g.split(sorted)
	if err != nil {
		return nil, err
	}

	if _, err := g.doctors.GetDoctor(ctx, doctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	day := DateOf(date)
	createdAt := g.now().UTC()

	slots := make([]Slot, len(pieces))
	for i, w := range pieces {
		slots[i] = Slot{
			ID:        g.newID(),
			DoctorID:  doctorID,
			Date:      day,
			Start:     w.Start,
			End:       w.End,
			CreatedAt: createdAt,
		}
	}

	if err := g.store.InsertMany(ctx, slots); err != nil {
		return nil, fmt.Errorf("insert slots: %w", err)
	}

	g.inv.written(ctx, doctorID, day)
	return slots, nil
}

// normalizeWindows validates each window and returns a start-ordered copy.
func normalizeWindows(windows []Window) ([]Window, error) {
	for i, w := range windows {
		if !w.Start.Valid() || !w.End.Valid() {
			return nil, fmt.Errorf("window %d: %w", i+1, ErrInvalidTime)
		}
		if w.Start >= w.End {
			return nil, fmt.Errorf("window %d (%s-%s): %w", i+1, w.Start, w.End, ErrInvalidRange)
		}
	}

	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Start < prev.End {
			return nil, fmt.Errorf("%s-%s and %s-%s: %w", prev.Start, prev.End, cur.Start, cur.End, ErrOverlappingWindow)
		}
	}

	return sorted, nil
}

func (g *Generator) split(windows []Window) ([]Window, error) {
	if g.length == 0 {
		return windows, nil
	}
	if g.length < time.Minute || g.length%time.Minute != 0 {
		return nil, fmt.Errorf("slot length %s: %w", g.length, ErrInvalidSlotLength)
	}

	step := TimeOfDay(g.length / time.Minute)
	var out []Window
	for _, w := range windows {
		if w.End-w.Start < step {
			return nil, fmt.Errorf("window %s-%s shorter than %s: %w", w.Start, w.End, g.length, ErrInvalidRange)
		}
		for start := w.Start; start+step <= w.End; start += step {
			out = append(out, Window{Start: start, End: start + step})
		}
	}
	return out, nil
}
