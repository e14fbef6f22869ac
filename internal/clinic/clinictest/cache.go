package clinictest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

// Cache is a map-backed clinic.AvailabilityCache that counts hits.
type Cache struct {
	mu      sync.Mutex
	gens    map[string]int64
	doctors map[string][]clinic.DoctorSummary
	slots   map[string][]clinic.OpenSlot

	// Err, when set, is returned from every call.
	Err  error
	Hits int
}

func NewCache() *Cache {
	return &Cache{
		gens:    make(map[string]int64),
		doctors: make(map[string][]clinic.DoctorSummary),
		slots:   make(map[string][]clinic.OpenSlot),
	}
}

func dateKey(date time.Time) string {
	return clinic.FormatDate(date)
}

func slotKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + ":" + clinic.FormatDate(date)
}

func (c *Cache) DoctorsGeneration(_ context.Context, date time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	return c.gens[dateKey(date)], nil
}

func (c *Cache) Doctors(_ context.Context, date time.Time, gen int64) ([]clinic.DoctorSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	v, ok := c.doctors[fmt.Sprintf("%s#%d", dateKey(date), gen)]
	if ok {
		c.Hits++
	}
	return v, ok, nil
}

func (c *Cache) PutDoctors(_ context.Context, date time.Time, gen int64, doctors []clinic.DoctorSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.doctors[fmt.Sprintf("%s#%d", dateKey(date), gen)] = doctors
	return nil
}

func (c *Cache) SlotsGeneration(_ context.Context, doctorID uuid.UUID, date time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	return c.gens[slotKey(doctorID, date)], nil
}

func (c *Cache) OpenSlots(_ context.Context, doctorID uuid.UUID, date time.Time, gen int64) ([]clinic.OpenSlot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, false, c.Err
	}
	v, ok := c.slots[fmt.Sprintf("%s#%d", slotKey(doctorID, date), gen)]
	if ok {
		c.Hits++
	}
	return v, ok, nil
}

func (c *Cache) PutOpenSlots(_ context.Context, doctorID uuid.UUID, date time.Time, gen int64, slots []clinic.OpenSlot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.slots[fmt.Sprintf("%s#%d", slotKey(doctorID, date), gen)] = slots
	return nil
}

func (c *Cache) Invalidate(_ context.Context, doctorID uuid.UUID, date time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.gens[dateKey(date)]++
	c.gens[slotKey(doctorID, date)]++
	return nil
}
