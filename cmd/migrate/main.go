package main

import (
	"flag"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/llm-gateway/internal/config"
	"github.com/Rrens/llm-gateway/internal/logging"
	"github.com/Rrens/llm-gateway/internal/repository/postgres"
)

func main() {
	down := flag.Bool("down", false, "roll back every applied migration")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	logging.Setup(cfg.Logging)

	if cfg.Database.Driver != config.DriverPostgres {
		log.Fatal().Str("driver", cfg.Database.Driver).Msg("Migrations apply to the postgres driver only; sqlite creates its schema on open")
	}

	log.Info().Str("host", cfg.Database.Host).Int("port", cfg.Database.Port).Msg("Connecting to database")

	if *down {
		if err := postgres.RollbackMigrations(cfg.Database.DSN()); err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
		log.Info().Msg("Rollback complete")
		return
	}

	if err := postgres.RunMigrations(cfg.Database.DSN()); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
