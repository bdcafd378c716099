package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hackgods/mediquory-connect/internal/config"
	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/eventlog"
	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/quota"
	redisclient "github.com/hackgods/mediquory-connect/internal/redis"
	"github.com/hackgods/mediquory-connect/internal/subscription"
)

const jobTimeout = 5 * time.Minute

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("quota-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running quota worker in env=%s reset=%q expiry=%q reconcile=%q",
		cfg.Env, cfg.CronResetSpec, cfg.CronExpirySpec, cfg.CronReconcileSpec)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatalf("postgres connection error: %v", err)
	}
	defer pgPool.Close()
	log.Println("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connection error: %v", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("error closing redis: %v", err)
		}
	}()
	log.Println("connected to Redis")

	ledger := quota.NewLedger(quota.NewPgStore(pgPool))
	subscriptions := subscription.NewService(subscription.Deps{
		Providers: provider.NewPgRepository(pgPool),
		Repo:      subscription.NewPgRepository(pgPool),
		Events:    eventlog.NewRecorder(eventlog.NewPgStore(pgPool)),
	})
	runner := redisclient.NewJobRunner(rdb, jobTimeout)

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"monthly-reset", cfg.CronResetSpec, func(ctx context.Context) error {
			n, err := ledger.ResetDueQuotas(ctx)
			if err == nil {
				log.Printf("monthly reset complete providers=%d", n)
			}
			return err
		}},
		{"subscription-expiry", cfg.CronExpirySpec, func(ctx context.Context) error {
			n, err := subscriptions.ExpireLapsed(ctx)
			if err == nil {
				log.Printf("expiry sweep complete expired=%d", n)
			}
			return err
		}},
		{"tier-reconcile", cfg.CronReconcileSpec, func(ctx context.Context) error {
			report, err := subscriptions.ReconcileTiers(ctx)
			if err != nil {
				return err
			}
			log.Printf("tier reconcile complete checked=%d corrected=%d unresolved=%d",
				report.Checked, len(report.Corrected), len(report.Unresolved))
			for _, u := range report.Unresolved {
				log.Printf("tier reconcile unresolved provider_id=%s tier=%s candidates=%v", u.ProviderID, u.Tier, u.Candidates)
			}
			return nil
		}},
	}

	scheduler := cron.New(cron.WithSeconds())
	for _, job := range jobs {
		job := job
		_, err := scheduler.AddFunc(job.spec, func() {
			runOnce(rootCtx, runner, job.name, job.run)
		})
		if err != nil {
			log.Fatalf("invalid schedule job=%s spec=%q: %v", job.name, job.spec, err)
		}
	}

	// Catch up at startup in case the worker was down over a boundary
	for _, job := range jobs {
		runOnce(rootCtx, runner, job.name, job.run)
	}

	scheduler.Start()
	log.Printf("cron scheduler started jobs=%d", len(jobs))

	<-rootCtx.Done()
	log.Println("shutdown signal received, stopping quota worker")

	// Wait for running jobs
	<-scheduler.Stop().Done()
}

func runOnce(ctx context.Context, runner *redisclient.JobRunner, name string, fn func(ctx context.Context) error) {
	start := time.Now()
	if err := runner.Run(ctx, name, fn); err != nil {
		log.Printf("job=%s run error: %v", name, err)
		return
	}
	log.Printf("job=%s finished in %s", name, time.Since(start))
}
