package main

import (
	"flag"
	"os"

	"github.com/Rrens/ally-chat/internal/config"
	"github.com/Rrens/ally-chat/internal/repository/postgres"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	down := flag.Int("down", 0, "roll back the given number of migrations instead of migrating up")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	pg := cfg.Storage.Postgres
	log.Info().Str("host", pg.Host).Int("port", pg.Port).Str("source", pg.MigrationsURL).Msg("Migrating document store")

	if *down > 0 {
		if err := postgres.RollbackMigrations(pg.DSN(), pg.MigrationsURL, *down); err != nil {
			log.Fatal().Err(err).Msg("Rollback failed")
		}
		log.Info().Int("steps", *down).Msg("Rollback complete")
		return
	}

	if err := postgres.RunMigrations(pg.DSN(), pg.MigrationsURL); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
