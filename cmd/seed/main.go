package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Pediatrics",
	"Ophthalmology",
}

var slotLengths = []int{15, 20, 30, 45}

// Morning and afternoon blocks, Monday to Friday.
var shifts = [][2]int{{8 * 60, 12 * 60}, {13 * 60, 18 * 60}}

func main() {
	clinics := flag.Int("clinics", 3, "clinics to create")
	doctorsPer := flag.Int("doctors", 8, "doctors per clinic")
	tz := flag.String("tz", "America/Sao_Paulo", "clinic timezone")
	flag.Parse()

	_ = godotenv.Load()
	logger := logging.New("seed", os.Getenv("LOG_LEVEL"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Error("POSTGRES_DSN is required")
		os.Exit(1)
	}
	if _, err := time.LoadLocation(*tz); err != nil {
		logger.Error("invalid timezone", "tz", *tz, "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	for i := 0; i < *clinics; i++ {
		tx, err := pool.Begin(ctx)
		if err != nil {
			logger.Error("begin", "error", err)
			os.Exit(1)
		}
		clinicID, err := seedClinic(ctx, tx, logger, *tz, *doctorsPer)
		if err != nil {
			_ = tx.Rollback(ctx)
			logger.Error("seed clinic", "error", err)
			os.Exit(1)
		}
		if err := tx.Commit(ctx); err != nil {
			logger.Error("commit", "error", err)
			os.Exit(1)
		}
		logger.Info("clinic seeded", "clinic_id", clinicID)
	}

	logger.Info("seed complete", "clinics", *clinics, "doctors_per_clinic", *doctorsPer)
}

func seedClinic(ctx context.Context, tx pgx.Tx, logger *slog.Logger, tz string, doctors int) (uuid.UUID, error) {
	clinicID := uuid.New()
	name := gofakeit.Company() + " Clinic"
	if _, err := tx.Exec(ctx, `
		INSERT INTO clinics (id, name, timezone) VALUES ($1, $2, $3)
	`, clinicID, name, tz); err != nil {
		return uuid.Nil, fmt.Errorf("insert clinic: %w", err)
	}

	specIDs := make([]uuid.UUID, len(specialties))
	for i, s := range specialties {
		specIDs[i] = uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO specialties (id, clinic_id, name) VALUES ($1, $2, $3)
		`, specIDs[i], clinicID, s); err != nil {
			return uuid.Nil, fmt.Errorf("insert specialty: %w", err)
		}
	}

	for i := 0; i < doctors; i++ {
		doctorID := uuid.New()
		spec := gofakeit.Number(0, len(specIDs)-1)
		minutes := slotLengths[gofakeit.Number(0, len(slotLengths)-1)]
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, specialty_id, name, slot_minutes, timezone)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, doctorID, clinicID, specIDs[spec], "Dr. "+gofakeit.Name(), minutes, tz); err != nil {
			return uuid.Nil, fmt.Errorf("insert doctor: %w", err)
		}

		for wd := time.Monday; wd <= time.Friday; wd++ {
			for _, sh := range shifts {
				if _, err := tx.Exec(ctx, `
					INSERT INTO doctor_working_hours (doctor_id, weekday, start_minute, end_minute)
					VALUES ($1, $2, $3, $4)
				`, doctorID, int(wd), sh[0], sh[1]); err != nil {
					return uuid.Nil, fmt.Errorf("insert working hours: %w", err)
				}
			}
		}
		logger.Debug("doctor seeded", "clinic_id", clinicID, "doctor_id", doctorID,
			"specialty", specialties[spec], "slot_minutes", minutes)
	}
	return clinicID, nil
}
