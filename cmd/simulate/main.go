package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ReadRatio    float64
	PatientLimit int
	HotSlots     int
	Days         int
}

type patient struct {
	ID    uuid.UUID
	Token string
}

type DataPool struct {
	Patients []patient
	Slots    []uuid.UUID
	Doctors  []uuid.UUID
	Dates    []string

	mu      sync.Mutex
	winners map[uuid.UUID][]uuid.UUID // slot -> patients that got 200
}

func (dp *DataPool) RecordWin(slotID, patientID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.winners[slotID] = append(dp.winners[slotID], patientID)
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]

	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking     OperationMetrics
	ListDoctors OperationMetrics
	ListSlots   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	logger := logging.New(baseCfg.Env)
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking_ratio", cfg.BookingRatio),
		zap.Float64("read_ratio", cfg.ReadRatio),
		zap.Int("hot_slots", cfg.HotSlots),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    logger,
	}

	verifier := auth.NewVerifier(baseCfg.Secret(), baseCfg.AuthTokenTTL)
	sim.pool, err = sim.loadDataPool(ctx, pgPool, verifier)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded",
		zap.Int("patients", len(sim.pool.Patients)),
		zap.Int("slots", len(sim.pool.Slots)),
		zap.Int("doctors", len(sim.pool.Doctors)),
	)

	sim.Run()
	sim.PrintReport()

	violations, err := sim.audit(context.Background(), baseCfg, pgPool)
	if err != nil {
		logger.Fatal("audit", zap.Error(err))
	}
	if violations > 0 {
		logger.Error("double bookings detected", zap.Int("slots", violations))
		os.Exit(1)
	}
	logger.Info("audit passed: no slot booked more than once")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		HotSlots:     getInt("SIM_HOT_SLOTS", 50),
		Days:         getInt("SIM_DAYS", 7),
	}

	total := cfg.BookingRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotSlots <= 0 {
		return fmt.Errorf("SIM_HOT_SLOTS must be > 0")
	}
	return nil
}

// loadDataPool mints patient tokens from the directory and discovers open
// slots through the public listing endpoints.
func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool, verifier *auth.Verifier) (*DataPool, error) {
	dp := &DataPool{winners: make(map[uuid.UUID][]uuid.UUID)}

	rows, err := pool.Query(ctx, `SELECT id, user_id FROM patients LIMIT $1`, s.config.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id, userID uuid.UUID
		if err := rows.Scan(&id, &userID); err != nil {
			rows.Close()
			return nil, err
		}
		token, err := verifier.Issue(userID, auth.RolePatient)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("issue token: %w", err)
		}
		dp.Patients = append(dp.Patients, patient{ID: id, Token: token})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	today := clinic.DateOf(time.Now())
	for day := 1; day <= s.config.Days && len(dp.Slots) < s.config.HotSlots; day++ {
		date := clinic.FormatDate(today.AddDate(0, 0, day))
		dp.Dates = append(dp.Dates, date)

		var doctors []clinic.DoctorSummary
		if err := s.getJSON(ctx, "/api/appointments/doctors/available?date="+date, &doctors); err != nil {
			return nil, fmt.Errorf("list doctors on %s: %w", date, err)
		}
		for _, d := range doctors {
			dp.Doctors = append(dp.Doctors, d.DoctorID)

			var slots []clinic.OpenSlot
			q := url.Values{"doctorId": {d.DoctorID.String()}, "date": {date}}
			if err := s.getJSON(ctx, "/api/appointments/slots/available?"+q.Encode(), &slots); err != nil {
				return nil, fmt.Errorf("list slots of %s on %s: %w", d.DoctorID, date, err)
			}
			for _, sl := range slots {
				if len(dp.Slots) >= s.config.HotSlots {
					break
				}
				dp.Slots = append(dp.Slots, sl.SlotID)
			}
		}
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no open slots found in the next %d days", s.config.Days)
	}
	return dp, nil
}

func (s *Simulator) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	faker := gofakeit.New(uint64(time.Now().UnixNano()) + uint64(workerID))
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if rng.Float64() < s.config.BookingRatio {
				s.doBooking(ctx, rng)
				continue
			}
			if faker.Bool() {
				s.doListDoctors(ctx, rng)
			} else {
				s.doListSlots(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	p := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body, _ := json.Marshal(map[string]string{"slotId": slotID.String()})

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/api/appointments/book", bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.Token)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if ctx.Err() != nil {
		// cut off by the end of the run; the outcome is unknown
		if err == nil {
			resp.Body.Close()
		}
		return
	}

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			success = true
			s.pool.RecordWin(slotID, p.ID)
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doListDoctors(ctx context.Context, rng *rand.Rand) {
	date := s.pool.Dates[rng.Intn(len(s.pool.Dates))]
	s.timedGet(ctx, &s.metrics.ListDoctors, "/api/appointments/doctors/available?date="+date)
}

func (s *Simulator) doListSlots(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Doctors) == 0 {
		return
	}
	q := url.Values{
		"doctorId": {s.pool.Doctors[rng.Intn(len(s.pool.Doctors))].String()},
		"date":     {s.pool.Dates[rng.Intn(len(s.pool.Dates))]},
	}
	s.timedGet(ctx, &s.metrics.ListSlots, "/api/appointments/slots/available?"+q.Encode())
}

func (s *Simulator) timedGet(ctx context.Context, om *OperationMetrics, path string) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return
	}
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if ctx.Err() != nil {
		if err == nil {
			resp.Body.Close()
		}
		return
	}

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	om.Record(latency, success, false)
}

// audit checks that every slot has at most one successful booking, both as
// seen by the clients and in the store's event log.
func (s *Simulator) audit(ctx context.Context, cfg config.Config, pool *pgxpool.Pool) (int, error) {
	violations := 0
	for slotID, winners := range s.pool.winners {
		if len(winners) > 1 {
			s.log.Error("slot won by several clients", zap.String("slot_id", slotID.String()), zap.Int("winners", len(winners)))
			violations++
		}
	}

	events := make(map[uuid.UUID]int)
	if cfg.SlotBackend == config.BackendRedis {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return 0, err
		}
		defer rdb.Close()
		if events, err = redisclient.NewSlotStore(rdb).BookedEvents(ctx); err != nil {
			return 0, err
		}
	} else {
		rows, err := pool.Query(ctx, `
			SELECT slot_id, count(*)
			FROM slot_events
			WHERE event_type = $1
			GROUP BY slot_id
			HAVING count(*) > 1
		`, clinic.EventSlotBooked)
		if err != nil {
			return 0, err
		}
		defer rows.Close()
		for rows.Next() {
			var id uuid.UUID
			var n int
			if err := rows.Scan(&id, &n); err != nil {
				return 0, err
			}
			events[id] = n
		}
		if err := rows.Err(); err != nil {
			return 0, err
		}
	}

	for slotID, n := range events {
		if n > 1 {
			s.log.Error("slot has several booked events", zap.String("slot_id", slotID.String()), zap.Int("events", n))
			violations++
		}
	}
	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot slots: %d, slots won: %d\n", len(s.pool.Slots), len(s.pool.winners))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("List doctors", &s.metrics.ListDoctors)
	printOperationReport("List slots", &s.metrics.ListSlots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
