package main

import (
	"flag"
	"fmt"
	"os"

	"eventhub/internal/pkg/logger"
	"eventhub/internal/platform/config"
	"eventhub/internal/platform/database"

	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging, "migrate")

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	log.Info().Str("database", cfg.Database.URL).Msg("Migration completed successfully")
}
