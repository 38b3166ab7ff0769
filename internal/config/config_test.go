package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg := Load()
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, "8003", cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, time.Second, cfg.PublishTimeout)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.PollPendingGrace)
	assert.Equal(t, 30*time.Second, cfg.PollCreditGrace)
	assert.Equal(t, "paystack", cfg.DefaultProvider)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/payments")
	t.Setenv("GATEWAY_TIMEOUT", "10s")
	t.Setenv("POLL_CONCURRENCY", "8")
	t.Setenv("POLL_LOCK", "false")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg := Load()
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 8, cfg.PollConcurrency)
	assert.False(t, cfg.PollLock)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
}

func TestBadValuesFallBack(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "soon")
	t.Setenv("POLL_BATCH_SIZE", "many")

	assert.Equal(t, 30*time.Second, getDuration("POLL_INTERVAL", 30*time.Second))
	assert.Equal(t, 200, getInt("POLL_BATCH_SIZE", 200))
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"ok, default provider keyed": {
			cfg: Config{AppEnv: "production", DefaultProvider: "paystack", PaystackSecretKey: "sk_live"},
		},
		"ok, simulation outside production": {
			cfg: Config{AppEnv: "development", DefaultProvider: "paystack", PaymentSimulation: true},
		},
		"fail, simulation in production": {
			cfg:     Config{AppEnv: "production", DefaultProvider: "paystack", PaystackSecretKey: "sk_live", PaymentSimulation: true},
			wantErr: true,
		},
		"fail, default provider without key": {
			cfg:     Config{AppEnv: "development", DefaultProvider: "flutterwave", PaystackSecretKey: "sk_test"},
			wantErr: true,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSimulationIsOptIn(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	assert.False(t, Load().PaymentSimulation)

	t.Setenv("PAYMENT_SIMULATION", "true")
	assert.True(t, Load().PaymentSimulation)
}
