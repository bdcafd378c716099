package main

import (
	"context"
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/db"
)

// Every seeded provider logs in with this password.
const seedPassword = "mediquory-dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	providers := envInt("SEED_PROVIDERS", 20)
	perProvider := envInt("SEED_REQUESTERS_PER_PROVIDER", 25)

	ids, err := seedProviders(context.Background(), pool, providers)
	if err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	for _, id := range ids {
		if err := seedRequesters(context.Background(), pool, id, perProvider); err != nil {
			log.Fatalf("seed requesters provider_id=%s: %v", id, err)
		}
	}

	log.Printf("seed complete providers=%d password=%q", len(ids), seedPassword)
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d providers", count)

	specializations := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		return nil, err
	}

	var patientLimit, monthlyMinutes int
	err = pool.QueryRow(ctx, `
		SELECT patient_limit, monthly_minutes FROM subscription_plans WHERE tier = 'TRIAL'
	`).Scan(&patientLimit, &monthlyMinutes)
	if err != nil {
		return nil, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	trialEnds := time.Now().AddDate(0, 0, 14)

	for i := 0; i < count; i++ {
		id := uuid.New()
		spec := specializations[gofakeit.Number(0, len(specializations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (
				id, name, email, password_hash, specialization, registration_number,
				status, subscription_tier, subscription_status, trial_ends_at,
				monthly_video_minutes, patient_limit, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, 'VERIFIED', 'TRIAL', 'TRIAL', $7, $8, $9, now(), now())
			ON CONFLICT (email) DO NOTHING
		`, id, gofakeit.Name(), gofakeit.Email(), hash, spec, gofakeit.Regex("[A-Z]{2}-[0-9]{6}"),
			trialEnds, monthlyMinutes, patientLimit)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("providers seeded")
	return ids, nil
}

// seedRequesters stays inside the provider's patient limit, as the API does.
func seedRequesters(ctx context.Context, pool *pgxpool.Pool, providerID uuid.UUID, count int) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var limit, current int
		err := tx.QueryRow(ctx, `
			SELECT patient_limit, patient_count FROM providers WHERE id = $1 FOR UPDATE
		`, providerID).Scan(&limit, &current)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// lost an email collision above
				return nil
			}
			return err
		}
		if limit > 0 && current+count > limit {
			count = max(limit-current, 0)
		}

		for i := 0; i < count; i++ {
			token, err := auth.NewAccessToken()
			if err != nil {
				return err
			}
			email := gofakeit.Email()
			phone := gofakeit.Phone()

			_, err = tx.Exec(ctx, `
				INSERT INTO requesters (id, provider_id, name, email, phone, status, access_token, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, 'ACTIVE', $6, now(), now())
			`, uuid.New(), providerID, gofakeit.Name(), email, phone, token)
			if err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE providers SET patient_count = patient_count + $2, updated_at = now() WHERE id = $1
		`, providerID, count)
		return err
	})
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
