package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string
	Environment   string
	Company       string
	Database      DatabaseConfig
	Migration     MigrationConfig
	Accounts      AccountsConfig
	EBoekhouden   EBoekhoudenConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Params   string
}

type MigrationConfig struct {
	Dir string
}

// AccountsConfig names the configured accounts the document builder relies
// on. The suspense and opening-balance accounts are required: generic entries
// and opening balances cannot be balanced without them.
type AccountsConfig struct {
	Suspense             string
	OpeningBalanceEquity string
	FallbackExpense      string
	DefaultCash          string
	Receivable           string
	Payable              string
}

// EBoekhoudenConfig holds the external API settings.
type EBoekhoudenConfig struct {
	BaseURL              string
	Token                string
	FetchTimeoutSeconds  int
	MaxConsecutiveMisses int
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	viper.SetDefault("EBH_FETCH_TIMEOUT_SECONDS", 30)
	viper.SetDefault("EBH_MAX_CONSECUTIVE_MISSES", 25)

	config := &Config{
		ServerAddress: viper.GetString("SERVER_ADDRESS"),
		Environment:   viper.GetString("ENVIRONMENT"),
		Company:       viper.GetString("COMPANY"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
			Params:   viper.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: viper.GetString("MIGRATION_DIR"),
		},
		Accounts: AccountsConfig{
			Suspense:             viper.GetString("SUSPENSE_ACCOUNT"),
			OpeningBalanceEquity: viper.GetString("OPENING_BALANCE_EQUITY_ACCOUNT"),
			FallbackExpense:      viper.GetString("FALLBACK_EXPENSE_ACCOUNT"),
			DefaultCash:          viper.GetString("DEFAULT_CASH_ACCOUNT"),
			Receivable:           viper.GetString("RECEIVABLE_ACCOUNT"),
			Payable:              viper.GetString("PAYABLE_ACCOUNT"),
		},
		EBoekhouden: EBoekhoudenConfig{
			BaseURL:              viper.GetString("EBH_API_URL"),
			Token:                viper.GetString("EBH_API_TOKEN"),
			FetchTimeoutSeconds:  viper.GetInt("EBH_FETCH_TIMEOUT_SECONDS"),
			MaxConsecutiveMisses: viper.GetInt("EBH_MAX_CONSECUTIVE_MISSES"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Company == "" {
		return fmt.Errorf("COMPANY is required")
	}
	if c.Accounts.Suspense == "" {
		return fmt.Errorf("SUSPENSE_ACCOUNT is required")
	}
	if c.Accounts.OpeningBalanceEquity == "" {
		return fmt.Errorf("OPENING_BALANCE_EQUITY_ACCOUNT is required")
	}
	if c.Accounts.FallbackExpense == "" {
		return fmt.Errorf("FALLBACK_EXPENSE_ACCOUNT is required")
	}
	return nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}
