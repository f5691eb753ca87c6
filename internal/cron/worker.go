package cron

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bher20/telebill/internal/billing"
	"github.com/bher20/telebill/internal/config"
	"github.com/bher20/telebill/internal/metrics"
	"github.com/bher20/telebill/internal/storage"
	"github.com/bher20/telebill/internal/tariff"
)

// buildBillingService wires a billing service onto the given storage using
// the configured tariff plan and timezone.
func buildBillingService(cfg config.Config, st storage.Storage) (*billing.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	rate, err := cfg.Rate()
	if err != nil {
		return nil, err
	}
	return billing.NewService(st, tariff.NewCalculator(rate, loc), loc), nil
}

// Run starts a cron worker that periodically builds the previous month's
// bills for every subscriber, using a Postgres pgxpool backend and PostgreSQL
// advisory locks so that in a multi-instance deployment only one worker
// executes the job.
func Run(ctx context.Context, cfg config.Config) error {
	driver := cfg.DBDriver
	if driver == "" {
		driver = "postgrespool"
	}
	if driver != "postgrespool" {
		return fmt.Errorf("cron worker requires TELEBILL_DB_DRIVER=postgrespool (got %q)", driver)
	}

	// Open storage via the generic factory so that it still satisfies the
	// storage.Storage interface for the billing service. We then assert the
	// concrete type to gain access to advisory locks.
	stGeneric, err := storage.Open(ctx, storage.Config{Driver: driver, DSN: cfg.DBDSN})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stGeneric.Close()

	pg, ok := stGeneric.(*storage.PostgresPoolStorage)
	if !ok {
		return fmt.Errorf("storage driver %q is not PostgresPoolStorage", driver)
	}

	svc, err := buildBillingService(cfg, stGeneric)
	if err != nil {
		return fmt.Errorf("build billing service: %w", err)
	}

	// Initial interval from env or default.
	// Can be integer seconds or a cron expression.
	intervalSetting := "3600"
	if raw := os.Getenv("TELEBILL_CRON_INTERVAL_SECONDS"); raw != "" {
		intervalSetting = raw
	}

	// Check DB for override
	if val, err := stGeneric.GetSetting(ctx, "billing_interval_seconds"); err == nil && val != "" {
		intervalSetting = val
	}

	// Control loop ticker (check config and run time)
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	// Helper to calculate next run time
	getNextRun := func(setting string, lastRun time.Time) time.Time {
		// Try integer seconds
		if v, err := strconv.Atoi(setting); err == nil && v > 0 {
			return lastRun.Add(time.Duration(v) * time.Second)
		}
		// Try cron expression
		if sched, err := cron.ParseStandard(setting); err == nil {
			return sched.Next(lastRun)
		}
		// Fallback to hourly
		return lastRun.Add(time.Hour)
	}

	// If starting fresh, run immediately, then schedule next
	nextRun := time.Now()

	jobName := "build_bills"
	const lockKey int64 = 42
	var lastAcquires uint64

	log.Printf("cron worker starting, initial setting=%q driver=%s", intervalSetting, driver)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// AcquireCount is cumulative, the counter wants the delta.
			stat := pg.Pool().Stat()
			acquires := uint64(stat.AcquireCount()) - lastAcquires
			lastAcquires = uint64(stat.AcquireCount())
			metrics.UpdateDBPoolMetrics(driver,
				float64(stat.TotalConns()),
				float64(stat.IdleConns()),
				float64(stat.AcquiredConns()),
				acquires)

			// 1. Check for config update
			if val, err := stGeneric.GetSetting(ctx, "billing_interval_seconds"); err == nil && val != "" {
				if val != intervalSetting {
					log.Printf("cron: interval updated from %q to %q", intervalSetting, val)
					intervalSetting = val
					nextRun = getNextRun(intervalSetting, time.Now())
				}
			}

			// 2. Check if it's time to run
			if time.Now().Before(nextRun) {
				continue
			}

			started := time.Now()

			ok, err := pg.AcquireAdvisoryLock(ctx, lockKey)
			if err != nil {
				log.Printf("cron: acquire advisory lock failed: %v", err)
				metrics.UpdateJobMetrics(jobName, started, err)
				nextRun = getNextRun(intervalSetting, time.Now())
				continue
			}
			if !ok {
				// Another worker is running this job.
				log.Printf("cron: advisory lock held by another worker, skipping run")
				nextRun = getNextRun(intervalSetting, time.Now())
				continue
			}

			// We hold the lock for the duration of the job.
			var runErr error
			func() {
				defer func() {
					if _, err := pg.ReleaseAdvisoryLock(ctx, lockKey); err != nil {
						log.Printf("cron: release advisory lock failed: %v", err)
					}
				}()
				runErr = buildPeriodBills(ctx, svc)
			}()

			// Record metrics & job row.
			metrics.UpdateJobMetrics(jobName, started, runErr)
			dur := time.Since(started)
			errMsg := ""
			success := runErr == nil
			if runErr != nil {
				errMsg = runErr.Error()
			}
			if err := pg.UpdateScheduledJob(ctx, jobName, started, dur, success, errMsg); err != nil {
				log.Printf("cron: update scheduled_jobs failed: %v", err)
			}

			if runErr != nil {
				log.Printf("cron: job %s completed with error: %v (duration=%s)", jobName, runErr, dur)
			} else {
				log.Printf("cron: job %s completed successfully (duration=%s)", jobName, dur)
			}

			// Schedule next run
			nextRun = getNextRun(intervalSetting, time.Now())
		}
	}
}

// buildPeriodBills builds and snapshots the previous month's bill for every
// subscriber with calls in that period. The first failure is reported but the
// remaining subscribers are still processed.
func buildPeriodBills(ctx context.Context, svc *billing.Service) error {
	from, to, label, err := svc.ResolvePeriod("")
	if err != nil {
		return err
	}

	subscribers, err := svc.SubscribersForPeriod(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list subscribers for %s: %w", label, err)
	}

	var firstErr error
	for _, phone := range subscribers {
		buildStart := time.Now()
		if _, err := svc.BuildBill(ctx, phone, label); err != nil {
			log.Printf("cron: build bill %s %s failed: %v", phone, label, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		metrics.BillBuildDurationSeconds.Observe(time.Since(buildStart).Seconds())
		metrics.BillsBuiltTotal.WithLabelValues("cron").Inc()
	}
	log.Printf("cron: built %d bills for period %s", len(subscribers), label)
	return firstErr
}
