package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/mediquory-connect/internal/api"
	"github.com/hackgods/mediquory-connect/internal/appointment"
	"github.com/hackgods/mediquory-connect/internal/auth"
	"github.com/hackgods/mediquory-connect/internal/config"
	"github.com/hackgods/mediquory-connect/internal/consultation"
	"github.com/hackgods/mediquory-connect/internal/db"
	"github.com/hackgods/mediquory-connect/internal/eventlog"
	"github.com/hackgods/mediquory-connect/internal/notify"
	"github.com/hackgods/mediquory-connect/internal/payment"
	"github.com/hackgods/mediquory-connect/internal/provider"
	"github.com/hackgods/mediquory-connect/internal/quota"
	redisclient "github.com/hackgods/mediquory-connect/internal/redis"
	"github.com/hackgods/mediquory-connect/internal/storage"
	"github.com/hackgods/mediquory-connect/internal/subscription"
)

var version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("api-server starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	log.Printf("running in env=%s http_port=%s", cfg.Env, cfg.HTTPPort)

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

	migrateCtx, cancelMigrate := context.WithTimeout(rootCtx, 30*time.Second)
	err = db.Migrate(migrateCtx, pgPool)
	cancelMigrate()
	if err != nil {
		log.Fatalf("schema migration error: %v", err)
	}

	// Connect Redis
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

	files, err := storage.NewLocal(cfg.StorageDir)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}

	var mailer notify.Mailer = notify.LogMailer{}
	if cfg.SMTPHost != "" {
		mailer = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	} else {
		log.Println("SMTP_HOST not set, outbound email is logged only")
	}

	hub := notify.NewRedisHub(rdb)
	notifier := notify.NewDispatcher(mailer, hub)
	events := eventlog.NewRecorder(eventlog.NewPgStore(pgPool))
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL, cfg.VideoTokenTTL)

	people := provider.NewPgRepository(pgPool)
	ledger := quota.NewLedger(quota.NewPgStore(pgPool))

	subscriptions := subscription.NewService(subscription.Deps{
		Providers:           people,
		Repo:                subscription.NewPgRepository(pgPool),
		Gateway:             payment.NewRazorpay(cfg.RazorpayKeyID, cfg.RazorpayKeySecret),
		Verifier:            payment.NewVerifier(cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret),
		Notifier:            notifier,
		Events:              events,
		PricePerMinutePaise: cfg.PricePerMinutePaise,
	})

	providers := provider.NewService(provider.Deps{
		Repo:        people,
		Allowances:  subscriptions,
		CheckAccess: subscription.CheckAccess,
		Files:       files,
		Notifier:    notifier,
		Events:      events,
		TrialPeriod: cfg.TrialPeriod(),
	})

	appointments := appointment.NewService(people, appointment.NewPgRepository(pgPool), notifier, events)

	consultations := consultation.NewService(consultation.Deps{
		People:         people,
		Repo:           consultation.NewPgRepository(pgPool),
		Locker:         redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		Usage:          ledger,
		Video:          issuer,
		Files:          files,
		Notifier:       notifier,
		Events:         events,
		RequirePayment: cfg.RequirePaymentBeforeCompletion,
	})

	router := api.NewRouter(api.RouterConfig{
		Providers:     providers,
		Subscriptions: subscriptions,
		Appointments:  appointments,
		Consultations: consultations,
		Quota:         ledger,
		Issuer:        issuer,
		Admin:         api.AdminCredentials{Email: cfg.AdminEmail, PasswordHash: cfg.AdminPasswordHash},
		Events:        hub,
		Postgres:      pgPool,
		Redis:         redisclient.NewPinger(rdb),
		Env:           cfg.Env,
		Version:       version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("http server listening addr=%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-rootCtx.Done()

	log.Println("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}
}
