package main

import (
	"context"
	"os"
	"time"

	"github.com/safar/autoparts-store/internal/config"
	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/logging"
	"github.com/sirupsen/logrus"
)

func main() {
	if len(os.Args) < 2 {
		logrus.Fatal("usage: go run scripts/run_migrations.go [up|down]")
	}
	direction := database.Direction(os.Args[1])

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("connect to database: %v", err)
	}
	defer db.Close()

	applied, err := database.Migrate(ctx, db, "migrations", direction, func(name string) {
		log.WithField("file", name).Info("running migration")
	})
	if err != nil {
		log.Fatalf("migrate %s: %v", direction, err)
	}

	log.Infof("successfully ran %d migration(s) %s", len(applied), direction)
}
