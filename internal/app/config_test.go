package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, ":50051", cfg.GRPCAddr)
	assert.Equal(t, SessionDriverMemory, cfg.SessionDriver)
	assert.Equal(t, DurableDriverMemory, cfg.DurableDriver)
	assert.Equal(t, EventSinkLog, cfg.EventSink)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Equal(t, 1024, cfg.EventQueueSize)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, "owner", cfg.RecordPrivilege)
	assert.Equal(t, "private", cfg.RecordVisibility)
	assert.True(t, cfg.PostgresAutoMigrate)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_ReadsPrefixedEnv(t *testing.T) {
	t.Setenv("DRAFTS_HTTP_ADDR", ":18080")
	t.Setenv("DRAFTS_SESSION_TTL", "5m")
	t.Setenv("DRAFTS_EVENT_SINK", "kafka")
	t.Setenv("DRAFTS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DRAFTS_CATALOG_SEED", "A:1000:eur,B:500:EUR:50")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, ":18080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Len(t, cfg.CatalogSeed, 2)
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	t.Setenv("DRAFTS_DURABLE_DRIVER", "postgres")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres dsn is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown session driver",
			mutate:  func(c *Config) { c.SessionDriver = "etcd" },
			wantErr: "unsupported session driver",
		},
		{
			name:    "unknown durable driver",
			mutate:  func(c *Config) { c.DurableDriver = "mongo" },
			wantErr: "unsupported durable driver",
		},
		{
			name:    "remote without url",
			mutate:  func(c *Config) { c.DurableDriver = DurableDriverRemote },
			wantErr: "remote base url is required",
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *Config) { c.EventSink = EventSinkKafka },
			wantErr: "kafka brokers are required",
		},
		{
			name:    "lock longer than session",
			mutate:  func(c *Config) { c.LockTTL = time.Hour },
			wantErr: "lock ttl",
		},
		{
			name:    "call outlives lock",
			mutate:  func(c *Config) { c.CallTimeout = c.LockTTL },
			wantErr: "call timeout must be shorter than lock ttl",
		},
		{
			name:    "negative event queue",
			mutate:  func(c *Config) { c.EventQueueSize = -1 },
			wantErr: "event queue size",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad catalog seed",
			mutate:  func(c *Config) { c.CatalogSeed = []string{"A:abc:EUR"} },
			wantErr: "invalid price",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseCatalogSeed(t *testing.T) {
	products, err := parseCatalogSeed([]string{" A:1000:eur ", "", "B:500:USD:75"})
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "A", products[0].ID)
	assert.Equal(t, int64(1000), products[0].PriceMinor)
	assert.Equal(t, "EUR", products[0].Currency)
	assert.True(t, products[0].Active)
	assert.Equal(t, int64(75), products[1].TaxMinor)

	_, err = parseCatalogSeed([]string{"A:1000"})
	assert.Error(t, err)
	_, err = parseCatalogSeed([]string{"A:10:EURO"})
	assert.Error(t, err)
	_, err = parseCatalogSeed([]string{"A:10:EUR:-1"})
	assert.Error(t, err)
}
