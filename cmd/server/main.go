package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"

	"eboekhouden-importer/internal/config"
	"eboekhouden-importer/internal/database"
	"eboekhouden-importer/internal/eboekhouden"
	"eboekhouden-importer/internal/handlers"
	"eboekhouden-importer/internal/importer"
	"eboekhouden-importer/internal/logging"
	"eboekhouden-importer/internal/repositories"
	"eboekhouden-importer/internal/staging"
)

func main() {
	migrateCmd := flag.String("migrate", "", "Migration command (up/down/version)")
	steps := flag.Int("steps", 0, "Number of migration steps (0 means all)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog := logging.New("")
		bootLog.Fatal().Err(err).Msg("error loading config")
	}

	log := logging.New(cfg.Environment)

	db, err := database.NewConnection(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error connecting to database")
	}
	defer db.Close()

	if *migrateCmd != "" {
		handleMigration(cfg, *migrateCmd, *steps, log)
		return
	}

	docRepo := repositories.NewDocumentRepository(db)
	cacheRepo := repositories.NewMutationCacheRepository(db)
	batchRepo := repositories.NewBatchRepository(db)
	mappingRepo := repositories.NewMappingRepository(db)
	partyRepo := repositories.NewPartyRepository(db)

	client := eboekhouden.NewClient(cfg.EBoekhouden, log)
	cache := staging.NewCache(cacheRepo, client, cfg.EBoekhouden.MaxConsecutiveMisses, log)

	imp := importer.NewImporter(
		db,
		docRepo,
		cacheRepo,
		batchRepo,
		mappingRepo,
		partyRepo,
		cache,
		client,
		cfg.Accounts,
		cfg.Company,
		log,
	)

	importHandler := handlers.NewImportHandler(imp, cache, batchRepo)
	router := handlers.SetupRouter(importHandler, log)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // imports are synchronous and slow
	}

	go func() {
		log.Info().Str("address", cfg.ServerAddress).Msg("server is running")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("server exited gracefully")
}

func handleMigration(cfg *config.Config, command string, steps int, log zerolog.Logger) {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", cfg.Migration.Dir),
		cfg.GetMigrationDBURL(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "no change") {
			log.Info().Msg("no migration changes to apply")
			return
		}
		log.Fatal().Err(err).Msg("failed to initialize migrate")
	}
	defer m.Close()

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verErr := m.Version()
		if verErr != nil {
			if verErr == migrate.ErrNilVersion {
				log.Info().Msg("no migrations have been applied yet")
				return
			}
			log.Fatal().Err(verErr).Msg("failed to get version")
		}
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("current migration version")
		return
	default:
		log.Fatal().Str("command", command).Msg("invalid migration command")
	}

	if err != nil {
		if err == migrate.ErrNoChange {
			log.Info().Msg("no migration changes to apply")
			return
		}
		log.Fatal().Err(err).Msg("migration failed")
	}

	log.Info().Msg("migration completed successfully")
}
