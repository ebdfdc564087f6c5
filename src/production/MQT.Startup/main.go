package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	config "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Config"
	container "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Container"
	logger "gitlab.com/maplesense1/mpt.sensor_server/src/production/MQT.Logger"
)

// Prepares the configured reading store (indexes or schema) and verifies it
// answers a ping, then exits. Run before the first deploy or from CI.
func main() {
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline for connecting and preparing the store")
	flag.Parse()

	cfg, err := config.LoadStartupConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("startup")
	ctr := container.New(cfg.Store, config.MQTTConfig{}, log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	repo, err := ctr.GetReadingRepository(ctx)
	if err != nil {
		_ = ctr.Shutdown(ctx)
		log.FatalWithError(err, "Failed to prepare reading store")
	}

	if err := repo.Ping(ctx); err != nil {
		_ = ctr.Shutdown(ctx)
		log.FatalWithError(err, "Reading store did not answer ping")
	}

	log.Logger.Info().Str("driver", cfg.Store.Driver).Msg("Reading store ready")
	_ = ctr.Shutdown(ctx)
}
