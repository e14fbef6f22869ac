package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-booking/internal/clinic"
)

// Key layout:
//
//	slot:{id}                    hash with the slot fields
//	slots:{doctor}:{date}        sorted set of slot ids scored by start minute
//	slots:open:{date}            hash doctor id -> number of free slots
//	slot_events                  stream of SLOT_CREATED / SLOT_BOOKED entries
const eventsStream = "slot_events"

func slotKey(id uuid.UUID) string {
	return "slot:" + id.String()
}

func doctorDayKey(doctorID uuid.UUID, date time.Time) string {
	return fmt.Sprintf("slots:%s:%s", doctorID, clinic.FormatDate(date))
}

func openCountKey(date string) string {
	return "slots:open:" + date
}

// SlotStore keeps slots in Redis. Bookings go through a Lua script so the
// check of the booked flag and the write happen as one server-side step.
type SlotStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewSlotStore(client *redis.Client) *SlotStore {
	return &SlotStore{client: client, now: time.Now}
}

func parseSlot(id uuid.UUID, fields map[string]string) (*clinic.Slot, error) {
	s := clinic.Slot{ID: id}

	doctorID, err := uuid.Parse(fields["doctor_id"])
	if err != nil {
		return nil, fmt.Errorf("slot %s: doctor_id: %w", id, err)
	}
	s.DoctorID = doctorID

	if s.Date, err = time.Parse(clinic.DateLayout, fields["date"]); err != nil {
		return nil, fmt.Errorf("slot %s: date: %w", id, err)
	}

	start, err := strconv.Atoi(fields["start"])
	if err != nil {
		return nil, fmt.Errorf("slot %s: start: %w", id, err)
	}
	end, err := strconv.Atoi(fields["end"])
	if err != nil {
		return nil, fmt.Errorf("slot %s: end: %w", id, err)
	}
	s.Start, s.End = clinic.TimeOfDay(start), clinic.TimeOfDay(end)

	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("slot %s: created_at: %w", id, err)
	}

	s.Booked = fields["booked"] == "1"
	if s.Booked {
		pid, err := uuid.Parse(fields["patient_id"])
		if err != nil {
			return nil, fmt.Errorf("slot %s: patient_id: %w", id, err)
		}
		s.PatientID = &pid

		at, err := time.Parse(time.RFC3339Nano, fields["booked_at"])
		if err != nil {
			return nil, fmt.Errorf("slot %s: booked_at: %w", id, err)
		}
		s.BookedAt = &at
	}

	return &s, nil
}

func (r *SlotStore) Get(ctx context.Context, slotID uuid.UUID) (*clinic.Slot, error) {
	fields, err := r.client.HGetAll(ctx, slotKey(slotID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, clinic.ErrSlotNotFound
	}
	return parseSlot(slotID, fields)
}

func (r *SlotStore) ListByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]clinic.Slot, error) {
	members, err := r.client.ZRange(ctx, doctorDayKey(doctorID, date), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(members))
	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			id, err := uuid.Parse(m)
			if err != nil {
				return fmt.Errorf("bad slot id %q in %s: %w", m, doctorDayKey(doctorID, date), err)
			}
			ids[i] = id
			cmds[i] = pipe.HGetAll(ctx, slotKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]clinic.Slot, 0, len(members))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		s, err := parseSlot(ids[i], fields)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, nil
}

func (r *SlotStore) DoctorsWithOpenSlots(ctx context.Context, date time.Time) ([]uuid.UUID, error) {
	counts, err := r.client.HGetAll(ctx, openCountKey(clinic.FormatDate(date))).Result()
	if err != nil {
		return nil, err
	}

	var ids []uuid.UUID
	for doctor, raw := range counts {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			continue
		}
		id, err := uuid.Parse(doctor)
		if err != nil {
			return nil, fmt.Errorf("bad doctor id %q in %s: %w", doctor, openCountKey(clinic.FormatDate(date)), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// InsertMany writes every slot, its index entries and its event in one
// MULTI/EXEC block. The availability cache generations of every touched
// doctor and date are bumped in the same block.
func (r *SlotStore) InsertMany(ctx context.Context, slots []clinic.Slot) error {
	if len(slots) == 0 {
		return nil
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		bumped := make(map[string]bool)
		for _, s := range slots {
			date := clinic.FormatDate(s.Date)
			if key := slotsGenKey(s.DoctorID.String(), date); !bumped[key] {
				bumped[key] = true
				pipe.Incr(ctx, key)
				pipe.Incr(ctx, doctorsGenKey(date))
			}
			pipe.HSet(ctx, slotKey(s.ID), map[string]any{
				"doctor_id":  s.DoctorID.String(),
				"date":       date,
				"start":      int(s.Start),
				"end":        int(s.End),
				"booked":     "0",
				"created_at": s.CreatedAt.UTC().Format(time.RFC3339Nano),
			})
			pipe.ZAdd(ctx, doctorDayKey(s.DoctorID, s.Date), redis.Z{
				Score:  float64(s.Start),
				Member: s.ID.String(),
			})
			pipe.HIncrBy(ctx, openCountKey(date), s.DoctorID.String(), 1)
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: eventsStream,
				Values: map[string]any{
					"type":      clinic.EventSlotCreated,
					"slot_id":   s.ID.String(),
					"doctor_id": s.DoctorID.String(),
					"date":      date,
					"start":     s.Start.String(),
					"end":       s.End.String(),
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert slots: %w", err)
	}
	return nil
}

// bookScript returns -1 when the slot does not exist, 0 when it is already
// booked and 1 when this call booked it. A booking also bumps the
// availability cache generations of the slot's doctor and date.
var bookScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "booked") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "booked", "1", "patient_id", ARGV[1], "booked_at", ARGV[2])
redis.call("HINCRBY", KEYS[2], ARGV[3], -1)
redis.call("XADD", KEYS[3], "*", "type", ARGV[4], "slot_id", ARGV[5], "patient_id", ARGV[1])
redis.call("INCR", KEYS[4])
redis.call("INCR", KEYS[5])
return 1
`)

func (r *SlotStore) CompareAndBook(ctx context.Context, slotID, patientID uuid.UUID) (bool, error) {
	// doctor and date never change, so reading them outside the script is safe
	vals, err := r.client.HMGet(ctx, slotKey(slotID), "doctor_id", "date").Result()
	if err != nil {
		return false, err
	}
	doctor, _ := vals[0].(string)
	date, _ := vals[1].(string)
	if doctor == "" || date == "" {
		return false, nil
	}

	res, err := bookScript.Run(ctx, r.client,
		[]string{slotKey(slotID), openCountKey(date), eventsStream, doctorsGenKey(date), slotsGenKey(doctor, date)},
		patientID.String(),
		r.now().UTC().Format(time.RFC3339Nano),
		doctor,
		clinic.EventSlotBooked,
		slotID.String(),
	).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("run book script: %w", err)
	}
	return res == 1, nil
}

// BookedEvents counts SLOT_BOOKED entries per slot id in the event stream.
func (r *SlotStore) BookedEvents(ctx context.Context) (map[uuid.UUID]int, error) {
	entries, err := r.client.XRange(ctx, eventsStream, "-", "+").Result()
	if err != nil {
		return nil, err
	}

	counts := make(map[uuid.UUID]int)
	for _, e := range entries {
		if e.Values["type"] != clinic.EventSlotBooked {
			continue
		}
		raw, _ := e.Values["slot_id"].(string)
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		counts[id]++
	}
	return counts, nil
}
