package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/duedate/emitracker/pkg/config"
	"github.com/duedate/emitracker/pkg/ledger"
	"github.com/duedate/emitracker/pkg/mailer"
	"github.com/duedate/emitracker/pkg/notify"
	"github.com/duedate/emitracker/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Initialize SQLite Store
	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize SQLite store: %v", err)
	}

	var sink notify.Sink
	if cfg.EmailEnabled() {
		sink = mailer.NewSender(cfg, logger)
		logger.Infof("Due reminders will be emailed to %s", cfg.ReminderEmail)
	}

	l := ledger.NewLedger(sqliteStore, logger, ledger.WithDeleteConfirmation(cfg.RescheduleRetries, cfg.RescheduleDelay))
	n := notify.NewNotifier(sqliteStore, logger, sink)
	server := NewServer(sqliteStore, l, n, logger, cfg.UpcomingDays)
	defer server.storage.Close()

	// Due-notification polling and stats refresh run on independent timers.
	c := cron.New()
	if _, err := c.AddFunc(cfg.NotifySchedule, server.pollNotifications); err != nil {
		logger.Fatalf("Invalid NOTIFY_SCHEDULE %q: %v", cfg.NotifySchedule, err)
	}
	if _, err := c.AddFunc(cfg.StatsSchedule, server.refreshStats); err != nil {
		logger.Fatalf("Invalid STATS_SCHEDULE %q: %v", cfg.StatsSchedule, err)
	}
	server.pollNotifications()
	server.refreshStats()
	c.Start()
	logger.Info("Notification and stats scheduler started")

	addr := fmt.Sprintf(":%s", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("Server starting on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Graceful shutdown failed: %v", err)
	}
}
