// Package config loads facilitator configuration: per-chain RPC and
// Safe deployment metadata, token metadata and the ledger database DSN.
package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig              `mapstructure:"app"`
	DB     DBConfig               `mapstructure:"db"`
	Chains map[string]ChainConfig `mapstructure:"chains"`
	Tokens map[string]TokenConfig `mapstructure:"tokens"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

// DSN renders the Postgres connection string for the ledger store.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}

// ChainConfig is keyed by decimal chain id in the config file. The
// deployment block pins the deterministic single-owner wallet scheme:
// proxy factory, Safe singleton and a fixed salt nonce.
type ChainConfig struct {
	RPCURL       string           `mapstructure:"rpc_url"`
	SubmitterKey string           `mapstructure:"submitter_key"`
	Deployment   DeploymentConfig `mapstructure:"deployment"`
}

type DeploymentConfig struct {
	ProxyFactory    string `mapstructure:"proxy_factory"`
	Singleton       string `mapstructure:"singleton"`
	FallbackHandler string `mapstructure:"fallback_handler"`
	SaltNonce       string `mapstructure:"salt_nonce"`
}

func (d DeploymentConfig) FactoryAddress() common.Address {
	return common.HexToAddress(d.ProxyFactory)
}

func (d DeploymentConfig) SingletonAddress() common.Address {
	return common.HexToAddress(d.Singleton)
}

func (d DeploymentConfig) FallbackHandlerAddress() common.Address {
	return common.HexToAddress(d.FallbackHandler)
}

// TokenConfig is keyed by symbol.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals int    `mapstructure:"decimals"`
	ChainID  string `mapstructure:"chain_id"`
}

// Load reads config.yaml from the working directory or ./config, with
// environment variable overrides (SAFEPAY_DB_PASSWORD etc).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("safepay")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No file: defaults plus environment variables.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "safepay")
	// Empty default so SAFEPAY_DB_PASSWORD binds through AutomaticEnv.
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "safepay")
}
