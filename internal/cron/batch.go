package cron

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/bher20/telebill/internal/alerting"
	"github.com/bher20/telebill/internal/billing"
	"github.com/bher20/telebill/internal/config"
	"github.com/bher20/telebill/internal/metrics"
	"github.com/bher20/telebill/internal/notification"
	"github.com/bher20/telebill/internal/storage"
)

// RunBatch periodically generates the previous month's bills for ALL
// subscribers with resumable per-subscriber progress, using *advisory locks*
// so that multiple replicas DO NOT run the batch simultaneously. Failed
// subscribers are retried on the next cycle and reported through the alerting
// webhook.
func RunBatch(ctx context.Context, cfg config.Config) error {
	if cfg.DBDriver != "postgrespool" {
		return fmt.Errorf("batch worker requires TELEBILL_DB_DRIVER=postgrespool (got %q)", cfg.DBDriver)
	}

	// open DB
	st, err := storage.Open(ctx, storage.Config{Driver: cfg.DBDriver, DSN: cfg.DBDSN})
	if err != nil {
		return fmt.Errorf("batch: open storage: %w", err)
	}
	defer st.Close()

	pg, ok := st.(*storage.PostgresPoolStorage)
	if !ok {
		return fmt.Errorf("batch: storage is not PostgresPoolStorage")
	}

	svc, err := buildBillingService(cfg, st)
	if err != nil {
		return fmt.Errorf("batch: build billing service: %w", err)
	}
	notifier := notification.NewService(st)
	alerter := alerting.NewAlerter(alerting.DefaultAlertConfig())

	// Configurable interval
	intervalSec := 3600
	if raw := os.Getenv("BATCH_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			intervalSec = v
		}
	}

	ticker := time.NewTicker(time.Duration(intervalSec) * time.Second)
	defer ticker.Stop()

	jobName := "batch_bills"
	const advisoryKey int64 = 13371337 // unique lock key

	log.Printf("batch worker starting: interval=%ds driver=postgrespool", intervalSec)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			started := time.Now()

			// ----- ACQUIRE LOCK -----
			gotLock, err := pg.AcquireAdvisoryLock(ctx, advisoryKey)
			if err != nil {
				log.Printf("batch: lock acquire error: %v", err)
				metrics.UpdateJobMetrics(jobName, started, err)
				continue
			}
			if !gotLock {
				log.Printf("batch: lock held by another node, skipping this cycle")
				continue
			}

			var runErr error
			var result batchResult
			func() {
				defer func() {
					// always release
					if _, err := pg.ReleaseAdvisoryLock(ctx, advisoryKey); err != nil {
						log.Printf("batch: lock release error: %v", err)
					}
				}()

				result, runErr = runBatchCycle(ctx, svc, st, notifier)
			}()

			// ----- METRICS -----
			metrics.UpdateJobMetrics(jobName, started, runErr)

			dur := time.Since(started)
			errMsg := ""
			success := runErr == nil
			if runErr != nil {
				errMsg = runErr.Error()
			}
			if err := pg.UpdateScheduledJob(ctx, jobName, started, dur, success, errMsg); err != nil {
				log.Printf("batch: update scheduled_jobs failed: %v", err)
			}

			if len(result.failed) > 0 {
				if err := alerter.SendBatchAlert(ctx, alerting.BatchAlert{
					JobName:       jobName,
					Period:        result.period,
					TotalCount:    result.total,
					SuccessCount:  result.total - len(result.failed),
					FailedCount:   len(result.failed),
					Duration:      dur,
					FailedDetails: result.failed,
					Timestamp:     time.Now(),
				}); err != nil {
					log.Printf("batch: send alert failed: %v", err)
				}
			}

			if runErr != nil {
				log.Printf("batch: run completed WITH ERROR: %v", runErr)
			} else {
				log.Printf("batch: run completed successfully")
			}
		}
	}
}

type batchResult struct {
	period string
	total  int
	failed []alerting.SubscriberFailure
}

// runBatchCycle seeds the progress table for the previous period and works
// through the subscribers that are still pending or failed. Completed
// subscribers from earlier cycles are not reprocessed, so an interrupted
// batch resumes where it stopped.
func runBatchCycle(ctx context.Context, svc *billing.Service, st storage.Storage, notifier *notification.Service) (batchResult, error) {
	from, to, label, err := svc.ResolvePeriod("")
	if err != nil {
		return batchResult{period: label}, err
	}

	subscribers, err := svc.SubscribersForPeriod(ctx, from, to)
	if err != nil {
		return batchResult{period: label}, fmt.Errorf("list subscribers: %w", err)
	}
	if err := st.SeedBatchProgress(ctx, label, subscribers); err != nil {
		return batchResult{period: label}, fmt.Errorf("seed progress: %w", err)
	}

	pending, err := st.GetPendingBatchSubscribers(ctx, label)
	if err != nil {
		return batchResult{period: label}, fmt.Errorf("load pending subscribers: %w", err)
	}

	res := batchResult{period: label, total: len(pending)}
	for _, phone := range pending {
		buildStart := time.Now()
		bill, err := svc.BuildBill(ctx, phone, label)
		if err != nil {
			log.Printf("batch: build bill %s %s failed: %v", phone, label, err)
			res.failed = append(res.failed, alerting.SubscriberFailure{
				PhoneNumber: phone,
				Error:       err.Error(),
				Attempts:    1,
			})
			if err := st.SaveBatchProgress(ctx, storage.BatchProgress{
				BatchID: label, PhoneNumber: phone, Status: "failed", Error: err.Error(),
			}); err != nil {
				log.Printf("batch: save progress for %s failed: %v", phone, err)
			}
			continue
		}
		metrics.BillBuildDurationSeconds.Observe(time.Since(buildStart).Seconds())
		metrics.BillsBuiltTotal.WithLabelValues("batch").Inc()

		// Bill emails are best effort and only sent when email is configured.
		if to := os.Getenv("TELEBILL_BILL_EMAIL_TO"); to != "" {
			if err := notifier.SendBillSummary(ctx, to, bill); err != nil {
				log.Printf("batch: email bill %s %s failed: %v", phone, label, err)
			}
		}

		if err := st.SaveBatchProgress(ctx, storage.BatchProgress{
			BatchID: label, PhoneNumber: phone, Status: "done",
		}); err != nil {
			log.Printf("batch: save progress for %s failed: %v", phone, err)
		}
	}

	log.Printf("batch: period %s processed=%d failed=%d", label, res.total, len(res.failed))
	if len(res.failed) > 0 {
		return res, fmt.Errorf("%d of %d subscriber bills failed", len(res.failed), res.total)
	}
	return res, nil
}
