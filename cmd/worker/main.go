package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ksavchuk/contacthub/internal/config"
	"github.com/ksavchuk/contacthub/internal/db"
	"github.com/ksavchuk/contacthub/internal/notifications"
	"github.com/ksavchuk/contacthub/internal/observability"
	"github.com/ksavchuk/contacthub/internal/queue/worker"
	"github.com/ksavchuk/contacthub/internal/repo/postgres"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	bootCtx, bootCancel := config.WithTimeout(30 * time.Second)
	defer bootCancel()

	if err := db.RunMigrations(bootCtx, cfg.DBURL); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	jobsRepo := postgres.NewJobsRepo(pool, nil)
	usersRepo := postgres.NewUsersRepo(pool, nil)

	// real SMTP when configured, log-only otherwise (dev)
	var base notifications.Notifier

	if cfg.SMTPHost != "" {
		base = notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.MailFrom,
			BaseURL:  cfg.BaseURL,
		})
	} else {
		log.Warn("SMTP not configured, emails are logged only")
		base = notifications.NewLogNotifier()
	}

	notifier := notifications.NewProtectedNotifier(base, notifications.ProtectedNotifierConfig{
		Timeout:          5 * time.Second,
		FailureThreshold: 3,
		Cooldown:         15 * time.Second,
		HalfOpenMaxCalls: 1,
	})

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		PollInterval: 250 * time.Millisecond,
		WorkerID:     workerID,
		LockTTL:      time.Minute,
	}, jobsRepo, usersRepo, notifier, observability.NewJobMetrics(), log)

	// ops surface on its own port
	healthSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           w.HealthHandler(pool),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("worker health server failed", "err", err)
		}
	}()

	log.Info("worker started", "worker_id", workerID)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	_ = healthSrv.Shutdown(shutdownCtx)

	log.Info("worker shutdown complete")
}
