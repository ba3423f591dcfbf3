// Command reaper cancels carts and pending orders that were abandoned. It runs
// once and exits, so schedule it with cron or a Kubernetes CronJob.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/autoparts-store/internal/config"
	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/logging"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/safar/autoparts-store/internal/orders"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	svc := orders.NewService(db, orders.Options{Currency: cfg.Orders.Currency}, log)

	now := time.Now()
	sweeps := []struct {
		status models.OrderStatus
		maxAge time.Duration
	}{
		{models.OrderStatusCart, cfg.Reaper.CartMaxAge},
		{models.OrderStatusPending, cfg.Reaper.PendingMaxAge},
	}

	failed := false
	for _, sw := range sweeps {
		n, err := sweep(ctx, svc, sw.status, now.Add(-sw.maxAge), cfg.Reaper.Batch)
		entry := log.WithFields(logrus.Fields{"status": sw.status, "canceled": n})
		if err != nil {
			entry.WithError(err).Error("sweep failed")
			failed = true
			continue
		}
		entry.Info("sweep complete")
	}

	if failed {
		os.Exit(1)
	}
}

// sweep cancels batch after batch until a batch comes back short.
func sweep(ctx context.Context, svc *orders.Service, status models.OrderStatus, before time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	total := 0
	for {
		n, err := svc.CancelStale(ctx, status, before, batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < batch {
			return total, nil
		}
	}
}
