package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/invoicer/pkg/plans"
	"github.com/platinummonkey/invoicer/pkg/storage"
	"github.com/platinummonkey/invoicer/pkg/storage/postgres"
	"github.com/platinummonkey/invoicer/pkg/users"
)

var (
	dbURL         = flag.String("db-url", getEnv("INVOICER_POSTGRES_URL", "postgres://localhost/invoicer?sslmode=disable"), "PostgreSQL connection URL")
	redisURL      = flag.String("redis-url", getEnv("INVOICER_REDIS_URL", ""), "Redis URL of the shared user cache to flush after a reset (optional)")
	resetSchedule = flag.String("reset-schedule", getEnv("INVOICER_USAGE_RESET_SCHEDULE", "5 0 1 * *"), "Cron schedule for the monthly usage reset (default: 1st day 00:05 UTC)")
	runOnce       = flag.Bool("run-once", false, "Reset usage once and exit")
	logLevel      = flag.String("log-level", getEnv("INVOICER_LOG_LEVEL", "info"), "Log level")
)

func main() {
	flag.Parse()

	logger := setupLogger(*logLevel)

	db, err := connectDatabase(*dbURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo, closeRepo := newRepository(db, logger)
	defer closeRepo()

	if *runOnce {
		if err := resetUsage(context.Background(), repo, time.Now(), logger); err != nil {
			logger.Fatalf("Usage reset failed: %v", err)
		}
		return
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err = c.AddFunc(*resetSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := resetUsage(ctx, repo, time.Now(), logger); err != nil {
			logger.Errorf("Usage reset failed: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule usage reset: %v", err)
	}

	c.Start()
	logger.WithField("schedule", *resetSchedule).Info("Invoicer scheduler started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	ctx := c.Stop()
	<-ctx.Done()
	logger.Info("Scheduler stopped")
}

// resetUsage starts a new usage period for every account still counting
// an older one. Accounts already in the current period are untouched, so
// running it twice in a month is harmless.
func resetUsage(ctx context.Context, repo users.Repository, now time.Time, logger *logrus.Logger) error {
	period := plans.PeriodStart(now)
	logger.WithField("period", period.Format("2006-01")).Info("Resetting monthly invoice usage")

	n, err := repo.ResetMonthlyUsage(ctx, period)
	if err != nil {
		return err
	}
	logger.WithField("accounts", n).Info("Monthly usage reset completed")
	return nil
}

// newRepository wraps the user table in the cache layer when Redis is
// configured, so the reset also flushes users cached by API replicas.
func newRepository(db *sql.DB, logger *logrus.Logger) (users.Repository, func()) {
	repo := users.NewPostgresRepository(db)
	if *redisURL == "" {
		return repo, func() {}
	}

	cfg := storage.DefaultConfig()
	cfg.RedisURL = *redisURL
	client, err := postgres.NewRedisClient(cfg)
	if err != nil {
		logger.Warnf("Redis unavailable, cached users expire on their own TTL: %v", err)
		return repo, func() {}
	}
	return users.NewCachedRepository(repo, client, 1, time.Minute, nil, nil), func() { client.Close() }
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func connectDatabase(connectionString string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	db.SetMaxOpenConns(2)
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
