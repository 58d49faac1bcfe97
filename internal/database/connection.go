package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"eboekhouden-importer/internal/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

func NewConnection(cfg *config.Config, log zerolog.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	err = db.Ping()
	if err != nil {
		if strings.Contains(err.Error(), "Unknown database") {
			log.Info().Str("database", cfg.Database.Name).Msg("database does not exist, attempting to create it")

			db.Close()

			rootDSN := getRootDSN(cfg)
			rootDB, err := sql.Open("mysql", rootDSN)
			if err != nil {
				return nil, fmt.Errorf("error connecting to MySQL root: %v", err)
			}
			defer rootDB.Close()
			_, err = rootDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.Database.Name))
			if err != nil {
				return nil, fmt.Errorf("error creating database: %v", err)
			}

			log.Info().Str("database", cfg.Database.Name).Msg("database created")

			db, err = sql.Open("mysql", cfg.GetDSN())
			if err != nil {
				return nil, fmt.Errorf("error connecting to new database: %v", err)
			}

			if err = db.Ping(); err != nil {
				return nil, fmt.Errorf("error verifying connection to new database: %v", err)
			}
		} else {
			return nil, fmt.Errorf("error pinging database: %v", err)
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Info().Msg("connected to MySQL database")
	return db, nil
}

func getRootDSN(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/?parseTime=true",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)
}
