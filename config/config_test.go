package config

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "localhost", cfg.DB.Host)
	assert.Equal(t, "5432", cfg.DB.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SAFEPAY_APP_LOG_LEVEL", "debug")
	t.Setenv("SAFEPAY_DB_PASSWORD", "hunter2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "hunter2", cfg.DB.Password)
}

func TestDSN(t *testing.T) {
	db := DBConfig{Host: "db", Port: "5433", User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", db.DSN())
}

func TestDeploymentAddresses(t *testing.T) {
	dep := DeploymentConfig{
		ProxyFactory:    "0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2",
		Singleton:       "0x41675C099F32341bf84BFc5382aF534df5C7461a",
		FallbackHandler: "0xfd0732Dc9E303f09fCEf3a7388Ad10A83459Ec99",
		SaltNonce:       "0",
	}

	assert.Equal(t, common.HexToAddress("0xa6B71E26C5e0845f74c812102Ca7114b6a896AB2"), dep.FactoryAddress())
	assert.Equal(t, common.HexToAddress("0x41675C099F32341bf84BFc5382aF534df5C7461a"), dep.SingletonAddress())
	assert.Equal(t, common.HexToAddress("0xfd0732Dc9E303f09fCEf3a7388Ad10A83459Ec99"), dep.FallbackHandlerAddress())
}
