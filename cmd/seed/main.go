package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/clinic"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

type seedConfig struct {
	Doctors      int
	Unapproved   float64
	Patients     int
	Days         int
	PrintTokens  int
	WindowLength time.Duration
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	sc := seedConfig{
		Doctors:      getInt("SEED_DOCTORS", 20),
		Unapproved:   getFloat("SEED_UNAPPROVED_RATIO", 0.2),
		Patients:     getInt("SEED_PATIENTS", 500),
		Days:         getInt("SEED_DAYS", 7),
		PrintTokens:  getInt("SEED_PRINT_TOKENS", 3),
		WindowLength: 30 * time.Minute,
	}
	if cfg.SlotLength > 0 {
		sc.WindowLength = cfg.SlotLength
	}
	logger.Info("seed starting",
		zap.String("slot_backend", cfg.SlotBackend),
		zap.Duration("slot_length", cfg.SlotLength),
		zap.Int("doctors", sc.Doctors),
		zap.Int("patients", sc.Patients),
		zap.Int("days", sc.Days),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	dir := clinic.NewPgDirectory(pool)

	// A running api-server may hold cached listings; seeded slots must bump them.
	rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		if cfg.SlotBackend == config.BackendRedis {
			logger.Fatal("connect redis", zap.Error(err))
		}
		logger.Warn("redis unavailable, seeding without cache invalidation", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	deps := serviceDeps(cfg, pool, dir, rdb)
	svc := clinic.NewService(deps)
	verifier := auth.NewVerifier(cfg.Secret(), cfg.AuthTokenTTL)

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	doctors, err := seedDoctors(ctx, logger, faker, dir, sc)
	if err != nil {
		logger.Fatal("seed doctors", zap.Error(err))
	}
	patients, err := seedPatients(ctx, logger, faker, dir, sc.Patients)
	if err != nil {
		logger.Fatal("seed patients", zap.Error(err))
	}
	if err := seedAvailability(ctx, logger, faker, svc, doctors, sc); err != nil {
		logger.Fatal("seed availability", zap.Error(err))
	}

	for i := 0; i < sc.PrintTokens && i < len(doctors); i++ {
		printToken(logger, verifier, "doctor", doctors[i].ID.String(), doctors[i].UserID, auth.RoleDoctor)
	}
	for i := 0; i < sc.PrintTokens && i < len(patients); i++ {
		printToken(logger, verifier, "patient", patients[i].ID.String(), patients[i].UserID, auth.RolePatient)
	}

	logger.Info("seed complete")
}

// serviceDeps wires the same store, slot length and cache as the api-server.
func serviceDeps(cfg config.Config, pool *pgxpool.Pool, dir *clinic.PgDirectory, rdb *redis.Client) clinic.Deps {
	deps := clinic.Deps{
		Store:      clinic.NewPgStore(pool),
		Doctors:    dir,
		Patients:   dir,
		SlotLength: cfg.SlotLength,
	}
	if rdb == nil {
		return deps
	}
	if cfg.SlotBackend == config.BackendRedis {
		deps.Store = redisclient.NewSlotStore(rdb)
	}
	if cfg.CacheTTL > 0 {
		deps.Cache = redisclient.NewAvailabilityCache(rdb, cfg.CacheTTL)
	}
	return deps
}

func seedDoctors(ctx context.Context, logger *zap.Logger, faker *gofakeit.Faker, dir *clinic.PgDirectory, sc seedConfig) ([]clinic.Doctor, error) {
	logger.Info("seeding doctors", zap.Int("count", sc.Doctors))

	doctors := make([]clinic.Doctor, 0, sc.Doctors)
	unapproved := 0
	for i := 0; i < sc.Doctors; i++ {
		approved := faker.Float64Range(0, 1) >= sc.Unapproved
		if !approved {
			unapproved++
		}
		name := "Dr. " + faker.Name()
		d, err := dir.CreateDoctor(ctx, name, uniqueEmail(faker, "d", i), approved)
		if err != nil {
			return nil, err
		}
		doctors = append(doctors, *d)
	}

	logger.Info("doctors seeded", zap.Int("count", len(doctors)), zap.Int("unapproved", unapproved))
	return doctors, nil
}

func seedPatients(ctx context.Context, logger *zap.Logger, faker *gofakeit.Faker, dir *clinic.PgDirectory, count int) ([]clinic.Patient, error) {
	logger.Info("seeding patients", zap.Int("count", count))

	const progressEvery = 500

	patients := make([]clinic.Patient, 0, count)
	for i := 0; i < count; i++ {
		p, err := dir.CreatePatient(ctx, faker.Name(), uniqueEmail(faker, "p", i))
		if err != nil {
			return nil, err
		}
		patients = append(patients, *p)

		if (i+1)%progressEvery == 0 {
			logger.Info("patients seeded", zap.Int("done", i+1), zap.Int("total", count))
		}
	}

	logger.Info("patients seeded", zap.Int("count", len(patients)))
	return patients, nil
}

// seedAvailability declares a morning and an afternoon block per doctor per
// day, each cut into back-to-back windows.
func seedAvailability(ctx context.Context, logger *zap.Logger, faker *gofakeit.Faker, svc *clinic.Service, doctors []clinic.Doctor, sc seedConfig) error {
	today := clinic.DateOf(time.Now())
	step := clinic.TimeOfDay(sc.WindowLength / time.Minute)
	total := 0

	for _, d := range doctors {
		for day := 1; day <= sc.Days; day++ {
			date := clinic.FormatDate(today.AddDate(0, 0, day))

			var windows []clinic.Window
			blocks := [][2]int{
				{faker.Number(8, 9), faker.Number(11, 12)},
				{faker.Number(13, 14), faker.Number(16, 17)},
			}
			for _, b := range blocks {
				for start := clinic.TimeOfDay(b[0] * 60); start+step <= clinic.TimeOfDay(b[1]*60); start += step {
					windows = append(windows, clinic.Window{Start: start, End: start + step})
				}
			}

			slots, err := svc.SubmitAvailability(ctx, d.ID, date, windows)
			if err != nil {
				return fmt.Errorf("doctor %s on %s: %w", d.ID, date, err)
			}
			total += len(slots)
		}
	}

	logger.Info("availability seeded", zap.Int("slots", total))
	return nil
}

func printToken(logger *zap.Logger, v *auth.Verifier, kind, profileID string, userID uuid.UUID, role auth.Role) {
	token, err := v.Issue(userID, role)
	if err != nil {
		logger.Warn("issue dev token", zap.String("kind", kind), zap.Error(err))
		return
	}
	logger.Info("dev token",
		zap.String("kind", kind),
		zap.String("profile_id", profileID),
		zap.String("token", token),
	)
}

func uniqueEmail(faker *gofakeit.Faker, kind string, i int) string {
	return fmt.Sprintf("%s%d.%s", kind, i, faker.Email())
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
