package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

// AvailabilityCache stores availability listings as JSON under generation
// numbered keys. Generation counters never expire; listings expire after ttl.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

// Generation keys take the date as YYYY-MM-DD so the slot store can bump
// them inside its own writes.
func doctorsGenKey(date string) string {
	return "avail:gen:" + date
}

func slotsGenKey(doctorID, date string) string {
	return fmt.Sprintf("avail:gen:%s:%s", doctorID, date)
}

func doctorsKey(date time.Time, gen int64) string {
	return fmt.Sprintf("avail:doctors:%s:%d", clinic.FormatDate(date), gen)
}

func openSlotsKey(doctorID uuid.UUID, date time.Time, gen int64) string {
	return fmt.Sprintf("avail:slots:%s:%s:%d", doctorID, clinic.FormatDate(date), gen)
}

func (c *AvailabilityCache) generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read generation %s: %w", key, err)
	}
	return gen, nil
}

// load reports a miss as (false, nil).
func (c *AvailabilityCache) load(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (c *AvailabilityCache) store(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (c *AvailabilityCache) DoctorsGeneration(ctx context.Context, date time.Time) (int64, error) {
	return c.generation(ctx, doctorsGenKey(clinic.FormatDate(date)))
}

func (c *AvailabilityCache) Doctors(ctx context.Context, date time.Time, gen int64) ([]clinic.DoctorSummary, bool, error) {
	var out []clinic.DoctorSummary
	ok, err := c.load(ctx, doctorsKey(date, gen), &out)
	if err != nil || !ok {
		return nil, false, err
	}
	if out == nil {
		out = []clinic.DoctorSummary{}
	}
	return out, true, nil
}

func (c *AvailabilityCache) PutDoctors(ctx context.Context, date time.Time, gen int64, doctors []clinic.DoctorSummary) error {
	return c.store(ctx, doctorsKey(date, gen), doctors)
}

func (c *AvailabilityCache) SlotsGeneration(ctx context.Context, doctorID uuid.UUID, date time.Time) (int64, error) {
	return c.generation(ctx, slotsGenKey(doctorID.String(), clinic.FormatDate(date)))
}

func (c *AvailabilityCache) OpenSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, gen int64) ([]clinic.OpenSlot, bool, error) {
	var out []clinic.OpenSlot
	ok, err := c.load(ctx, openSlotsKey(doctorID, date, gen), &out)
	if err != nil || !ok {
		return nil, false, err
	}
	if out == nil {
		out = []clinic.OpenSlot{}
	}
	return out, true, nil
}

func (c *AvailabilityCache) PutOpenSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, gen int64, slots []clinic.OpenSlot) error {
	return c.store(ctx, openSlotsKey(doctorID, date, gen), slots)
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		day := clinic.FormatDate(date)
		pipe.Incr(ctx, doctorsGenKey(day))
		pipe.Incr(ctx, slotsGenKey(doctorID.String(), day))
		return nil
	})
	if err != nil {
		return fmt.Errorf("bump generations: %w", err)
	}
	return nil
}
