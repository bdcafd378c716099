package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/config"
	"github.com/hackgods/mediquory-connect/internal/db"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	StartRatio    float64
	MessageRatio  float64
	FinishRatio   float64
	BookingRatio  float64
	PairLimit     int
	PostgresDSN   string
	JWTSecret     string
	SessionTTL    time.Duration
	VideoTokenTTL time.Duration
}

// Pair is a seeded provider and one of their requesters.
type Pair struct {
	ProviderID  uuid.UUID
	RequesterID uuid.UUID
}

type DataPool struct {
	Pairs  []Pair
	mu     sync.Mutex
	active map[uuid.UUID]Pair // consultation id -> pair, as seen by this simulator
}

func (dp *DataPool) AddActive(id uuid.UUID, p Pair) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.active[id] = p
}

// TakeActive removes and returns a random consultation the simulator started.
func (dp *DataPool) TakeActive(rng *rand.Rand) (uuid.UUID, Pair, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.active) == 0 {
		return uuid.Nil, Pair{}, false
	}
	n := rng.Intn(len(dp.active))
	for id, p := range dp.active {
		if n == 0 {
			delete(dp.active, id)
			return id, p, true
		}
		n--
	}
	return uuid.Nil, Pair{}, false
}

func (dp *DataPool) PeekActive(rng *rand.Rand) (uuid.UUID, Pair, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.active) == 0 {
		return uuid.Nil, Pair{}, false
	}
	n := rng.Intn(len(dp.active))
	for id, p := range dp.active {
		if n == 0 {
			return id, p, true
		}
		n--
	}
	return uuid.Nil, Pair{}, false
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	issuer  *auth.Issuer
	load    loadStats
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d start=%.2f message=%.2f finish=%.2f booking=%.2f",
		cfg.Duration, cfg.Workers, cfg.StartRatio, cfg.MessageRatio, cfg.FinishRatio, cfg.BookingRatio)

	// Load data from Postgres
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d provider/requester pairs", len(dataPool.Pairs))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		// sessions are minted locally with the server's secret
		issuer: auth.NewIssuer(cfg.JWTSecret, cfg.SessionTTL, cfg.VideoTokenTTL),
	}

	// Run simulation
	sim.Run()

	// Print report
	sim.printReport()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCheck()
	if err := checkInvariants(checkCtx, pgPool); err != nil {
		log.Fatalf("invariant check failed: %v", err)
	}
	log.Println("invariants hold: one active consultation per pair, contiguous prescription serials")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:    getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:      getDuration("SIM_DURATION", 30*time.Second),
		Workers:       getInt("SIM_WORKERS", 10),
		StartRatio:    getFloat("SIM_START_RATIO", 0.35),
		MessageRatio:  getFloat("SIM_MESSAGE_RATIO", 0.3),
		FinishRatio:   getFloat("SIM_FINISH_RATIO", 0.2),
		BookingRatio:  getFloat("SIM_BOOKING_RATIO", 0.15),
		PairLimit:     getInt("SIM_PAIR_LIMIT", 200),
		PostgresDSN:   baseCfg.PostgresDSN,
		JWTSecret:     baseCfg.JWTSecret,
		SessionTTL:    baseCfg.TokenTTL,
		VideoTokenTTL: baseCfg.VideoTokenTTL,
	}

	// Normalize ratios
	total := cfg.StartRatio + cfg.MessageRatio + cfg.FinishRatio + cfg.BookingRatio
	if total > 0 {
		cfg.StartRatio /= total
		cfg.MessageRatio /= total
		cfg.FinishRatio /= total
		cfg.BookingRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to mint sessions")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{active: make(map[uuid.UUID]Pair)}

	// Only pairs whose provider can still work
	rows, err := pool.Query(ctx, `
		SELECT p.id, r.id
		FROM requesters r
		JOIN providers p ON p.id = r.provider_id
		WHERE p.status = 'VERIFIED'
		  AND r.status = 'ACTIVE'
		  AND (
		    (p.subscription_status = 'TRIAL' AND p.trial_ends_at > now()) OR
		    (p.subscription_status = 'ACTIVE' AND p.subscription_ends_at > now())
		  )
		LIMIT $1
	`, cfg.PairLimit)
	if err != nil {
		return nil, fmt.Errorf("load pairs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.ProviderID, &p.RequesterID); err != nil {
			return nil, err
		}
		dataPool.Pairs = append(dataPool.Pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Pairs) == 0 {
		return nil, fmt.Errorf("no pairs loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.StartRatio:
				s.doStart(ctx, rng)
			case r < s.config.StartRatio+s.config.MessageRatio:
				s.doMessage(ctx, rng)
			case r < s.config.StartRatio+s.config.MessageRatio+s.config.FinishRatio:
				s.doFinish(ctx, rng)
			default:
				s.doBooking(ctx, rng)
			}
		}
	}
}

func (s *Simulator) token(role auth.Role, id uuid.UUID) string {
	tok, _, err := s.issuer.IssueSession(auth.Principal{Role: role, ID: id})
	if err != nil {
		log.Fatalf("mint session: %v", err)
	}
	return tok
}

func (s *Simulator) call(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return 0, nil, latency, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, latency, nil
}

// doStart hammers get-or-create; racing starts for a pair must all land on
// the same consultation.
func (s *Simulator) doStart(ctx context.Context, rng *rand.Rand) {
	pair := s.pool.Pairs[rng.Intn(len(s.pool.Pairs))]

	status, body, latency, err := s.call(ctx, http.MethodPost, "/consultations",
		s.token(auth.RoleProvider, pair.ProviderID),
		map[string]string{"requester_id": pair.RequesterID.String(), "kind": "CHAT"})

	success := err == nil && (status == http.StatusCreated || status == http.StatusOK)
	if success {
		var resp struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(body, &resp) == nil && resp.ID != uuid.Nil {
			s.pool.AddActive(resp.ID, pair)
		}
	}

	s.load.start.record(latency, success, status == http.StatusConflict)
}

func (s *Simulator) doMessage(ctx context.Context, rng *rand.Rand) {
	id, pair, ok := s.pool.PeekActive(rng)
	if !ok {
		return
	}

	token := s.token(auth.RoleRequester, pair.RequesterID)
	if rng.Intn(2) == 0 {
		token = s.token(auth.RoleProvider, pair.ProviderID)
	}

	status, _, latency, err := s.call(ctx, http.MethodPost, "/consultations/"+id.String()+"/messages", token,
		map[string]string{"body": fmt.Sprintf("simulated message %d", rng.Int())})

	s.load.messages.record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

// doFinish ends a consultation and issues its prescription, so that serials
// are assigned under concurrent load.
func (s *Simulator) doFinish(ctx context.Context, rng *rand.Rand) {
	id, pair, ok := s.pool.TakeActive(rng)
	if !ok {
		return
	}
	token := s.token(auth.RoleProvider, pair.ProviderID)

	status, _, latency, err := s.call(ctx, http.MethodPost, "/consultations/"+id.String()+"/end", token, nil)
	s.load.ends.record(latency, err == nil && status == http.StatusOK, status == http.StatusConflict)

	status, _, latency, err = s.call(ctx, http.MethodPost, "/consultations/"+id.String()+"/prescription", token,
		map[string]any{
			"diagnosis":   "Simulated viral fever",
			"medications": []map[string]string{{"name": "Paracetamol", "dosage": "500mg", "frequency": "TDS", "duration": "3 days"}},
		})
	s.load.prescriptions.record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	pair := s.pool.Pairs[rng.Intn(len(s.pool.Pairs))]
	prefs := []string{"MORNING", "AFTERNOON", "EVENING", "ANY"}

	status, _, latency, err := s.call(ctx, http.MethodPost, "/requester/appointments",
		s.token(auth.RoleRequester, pair.RequesterID),
		map[string]string{
			"requested_date":  time.Now().AddDate(0, 0, 1+rng.Intn(14)).Format(time.DateOnly),
			"time_preference": prefs[rng.Intn(len(prefs))],
			"reason":          "simulated follow-up",
		})

	s.load.bookings.record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

// checkInvariants reads the database after the run.
func checkInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var duplicates int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT requester_id, provider_id
			FROM consultations
			WHERE status = 'ACTIVE'
			GROUP BY requester_id, provider_id
			HAVING count(*) > 1
		) d
	`).Scan(&duplicates)
	if err != nil {
		return fmt.Errorf("count active duplicates: %w", err)
	}
	if duplicates > 0 {
		return fmt.Errorf("%d pairs have more than one active consultation", duplicates)
	}

	var gaps int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM providers p
		LEFT JOIN (
			SELECT provider_id, count(*) AS n, count(DISTINCT serial) AS distinct_n, max(serial) AS top
			FROM prescriptions
			GROUP BY provider_id
		) s ON s.provider_id = p.id
		WHERE coalesce(s.n, 0) <> p.last_prescription_serial
		   OR coalesce(s.distinct_n, 0) <> coalesce(s.n, 0)
		   OR coalesce(s.top, 0) <> p.last_prescription_serial
	`).Scan(&gaps)
	if err != nil {
		return fmt.Errorf("check serials: %w", err)
	}
	if gaps > 0 {
		return fmt.Errorf("%d providers have duplicate or missing prescription serials", gaps)
	}
	return nil
}

// Helper functions

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
