package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
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

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

// The simulator races several patients for the same slot and checks that the
// API never hands out a slot twice.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Contenders   int     // concurrent bookings fired at one slot
	CancelRatio  float64 // share of won slots cancelled again
	ConfirmRatio float64 // share of won slots confirmed
	DoctorLimit  int
	HorizonDays  int
	PostgresDSN  string
}

type doctorRef struct {
	ClinicID    uuid.UUID
	DoctorID    uuid.UUID
	SpecialtyID uuid.UUID
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = percentile(latencies, 50)
	p95 = percentile(latencies, 95)
	return avg, min, max, p50, p95
}

// percentile expects sorted, non-empty input.
func percentile(sorted []time.Duration, p int) time.Duration {
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Metrics struct {
	Slots   OperationMetrics
	Booking OperationMetrics
	Confirm OperationMetrics
	Cancel  OperationMetrics

	Races         int64
	DoubleBooked  int64 // races with more than one winner
	NoWinnerRaces int64
}

type Simulator struct {
	config  SimConfig
	doctors []doctorRef
	client  *http.Client
	logger  *slog.Logger
	metrics Metrics
}

func main() {
	logger := logging.New("simulate", os.Getenv("LOG_LEVEL"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logger.Info("simulator starting",
		"duration", cfg.Duration, "workers", cfg.Workers, "contenders", cfg.Contenders)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	doctors, err := loadDoctors(ctx, pool, cfg.DoctorLimit)
	if err != nil {
		logger.Error("load doctors", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded doctors", "count", len(doctors))

	sim := &Simulator{
		config:  cfg,
		doctors: doctors,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
	sim.Run()
	sim.PrintReport()

	if atomic.LoadInt64(&sim.metrics.DoubleBooked) > 0 {
		os.Exit(3)
	}
}

func loadConfig() (SimConfig, error) {
	baseCfg, err := config.Load()
	if err != nil {
		return SimConfig{}, fmt.Errorf("load base config: %w", err)
	}

	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 4),
		Contenders:   getInt("SIM_CONTENDERS", 8),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.3),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.5),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 50),
		HorizonDays:  getInt("SIM_HORIZON_DAYS", 14),
		PostgresDSN:  baseCfg.PostgresDSN,
	}
	switch {
	case cfg.Workers <= 0:
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	case cfg.Contenders < 2:
		return cfg, fmt.Errorf("SIM_CONTENDERS must be >= 2")
	case cfg.Duration <= 0:
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	case cfg.HorizonDays <= 0:
		return cfg, fmt.Errorf("SIM_HORIZON_DAYS must be > 0")
	}
	return cfg, nil
}

func loadDoctors(ctx context.Context, pool *pgxpool.Pool, limit int) ([]doctorRef, error) {
	rows, err := pool.Query(ctx, `
		SELECT clinic_id, id, specialty_id FROM doctors WHERE active LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []doctorRef
	for rows.Next() {
		var d doctorRef
		if err := rows.Scan(&d.ClinicID, &d.DoctorID, &d.SpecialtyID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no doctors found, run cmd/seed first")
	}
	return out, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	for ctx.Err() == nil {
		doc := s.doctors[rng.Intn(len(s.doctors))]
		slots, ok := s.fetchSlots(ctx, doc)
		if !ok || len(slots) == 0 {
			continue
		}
		slot := slots[rng.Intn(len(slots))]

		winner, ok := s.race(ctx, doc, slot)
		if !ok {
			continue
		}

		switch r := rng.Float64(); {
		case r < s.config.CancelRatio:
			s.transition(ctx, doc.ClinicID, winner, "cancel", &s.metrics.Cancel)
		case r < s.config.CancelRatio+s.config.ConfirmRatio:
			s.transition(ctx, doc.ClinicID, winner, "confirm", &s.metrics.Confirm)
		}
	}
}

func (s *Simulator) fetchSlots(ctx context.Context, doc doctorRef) ([]api.SlotResponse, bool) {
	from := time.Now().UTC().Add(time.Hour)
	q := url.Values{}
	q.Set("doctor_id", doc.DoctorID.String())
	q.Set("from", from.Format(time.RFC3339))
	q.Set("to", from.AddDate(0, 0, s.config.HorizonDays).Format(time.RFC3339))

	start := time.Now()
	resp, err := s.do(ctx, doc.ClinicID, http.MethodGet, "/clinics/slots?"+q.Encode(), nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Slots.Record(latency, false, false)
		return nil, false
	}
	defer resp.Body.Close()

	var body api.SlotsResponse
	ok := resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&body) == nil
	s.metrics.Slots.Record(latency, ok, false)
	return body.Slots, ok
}

// race fires Contenders bookings at one slot at once and returns the winner.
func (s *Simulator) race(ctx context.Context, doc doctorRef, slot api.SlotResponse) (uuid.UUID, bool) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []uuid.UUID
		gate    = make(chan struct{})
	)
	for i := 0; i < s.config.Contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			if id, ok := s.book(ctx, doc, slot); ok {
				mu.Lock()
				winners = append(winners, id)
				mu.Unlock()
			}
		}()
	}
	close(gate)
	wg.Wait()

	if ctx.Err() != nil {
		return uuid.Nil, false
	}
	atomic.AddInt64(&s.metrics.Races, 1)
	switch len(winners) {
	case 0:
		atomic.AddInt64(&s.metrics.NoWinnerRaces, 1)
		return uuid.Nil, false
	case 1:
		return winners[0], true
	default:
		atomic.AddInt64(&s.metrics.DoubleBooked, 1)
		s.logger.Error("slot booked more than once",
			"clinic_id", doc.ClinicID, "doctor_id", doc.DoctorID,
			"starts_at", slot.StartsAt, "winners", len(winners))
		return winners[0], true
	}
}

func (s *Simulator) book(ctx context.Context, doc doctorRef, slot api.SlotResponse) (uuid.UUID, bool) {
	body, _ := json.Marshal(api.CreateAppointmentRequest{
		DoctorID:    doc.DoctorID.String(),
		SpecialtyID: doc.SpecialtyID.String(),
		StartsAt:    slot.StartsAt,
		Patient: api.PatientPayload{
			Name:  gofakeit.Name(),
			Phone: fmt.Sprintf("+55119%08d", gofakeit.Number(0, 99999999)),
			Email: gofakeit.Email(),
		},
	})

	start := time.Now()
	resp, err := s.do(ctx, doc.ClinicID, http.MethodPost, "/appointments", body)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Booking.Record(latency, false, false)
		return uuid.Nil, false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var appt api.AppointmentResponse
		if err := json.NewDecoder(resp.Body).Decode(&appt); err != nil {
			s.metrics.Booking.Record(latency, false, false)
			return uuid.Nil, false
		}
		s.metrics.Booking.Record(latency, true, false)
		return appt.ID, true
	case http.StatusConflict:
		s.metrics.Booking.Record(latency, false, true)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.logger.Debug("booking failed", "status", resp.StatusCode, "body", string(msg))
		s.metrics.Booking.Record(latency, false, false)
	}
	return uuid.Nil, false
}

func (s *Simulator) transition(ctx context.Context, clinicID, apptID uuid.UUID, action string, om *OperationMetrics) {
	body, _ := json.Marshal(api.TransitionRequest{Reason: "simulated"})

	start := time.Now()
	resp, err := s.do(ctx, clinicID, http.MethodPost, "/appointments/"+apptID.String()+"/"+action, body)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()
	om.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusConflict)
}

func (s *Simulator) do(ctx context.Context, clinicID uuid.UUID, method, path string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.ClinicHeader, clinicID.String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d  Contenders per slot: %d\n", s.config.Workers, s.config.Contenders)
	fmt.Println()

	printOperationReport("List slots", &s.metrics.Slots)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Cancel", &s.metrics.Cancel)

	races := atomic.LoadInt64(&s.metrics.Races)
	fmt.Printf("Races: %d\n", races)
	fmt.Printf("  Without a winner: %d\n", atomic.LoadInt64(&s.metrics.NoWinnerRaces))
	fmt.Printf("  Double booked: %d\n", atomic.LoadInt64(&s.metrics.DoubleBooked))
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
