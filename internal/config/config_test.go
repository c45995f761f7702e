package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjod/cpqcart/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCartSync_Defaults(t *testing.T) {
	t.Setenv("CART_ID", "C1")

	cfg, err := LoadCartSync()
	require.NoError(t, err)
	assert.Equal(t, "C1", cfg.CartID)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, TransportGRPC, cfg.PricingTransport)
	assert.Equal(t, BridgeNone, cfg.BusBridge)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 15*time.Minute, cfg.CatalogCacheTTL)
	assert.Equal(t, "discard", cfg.AddFailurePolicy)
	assert.False(t, cfg.LogPretty)
}

func TestLoadCartSync_Overrides(t *testing.T) {
	t.Setenv("CART_ID", "C9")
	t.Setenv("PRICING_TRANSPORT", "http")
	t.Setenv("BUS_BRIDGE", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CATALOG_CACHE_TTL", "90s")
	t.Setenv("ROW_ACTION_RATE", "2.5")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := LoadCartSync()
	require.NoError(t, err)
	assert.Equal(t, TransportHTTP, cfg.PricingTransport)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 90*time.Second, cfg.CatalogCacheTTL)
	assert.Equal(t, 2.5, cfg.RowActionRate)
	assert.True(t, cfg.LogPretty)
}

func TestLoadCartSync_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing cart", map[string]string{}},
		{"bad transport", map[string]string{"CART_ID": "C1", "PRICING_TRANSPORT": "smtp"}},
		{"bad bridge", map[string]string{"CART_ID": "C1", "BUS_BRIDGE": "carrier-pigeon"}},
		{"redis without addr", map[string]string{"CART_ID": "C1", "BUS_BRIDGE": "redis"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CART_ID", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadCartSync()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadPricingd(t *testing.T) {
	cfg, err := LoadPricingd()
	require.NoError(t, err)
	assert.Equal(t, LineStoreMemory, cfg.LineStore)
	assert.Equal(t, "50061", cfg.GRPCPort)

	t.Setenv("LINE_STORE", "postgres")
	_, err = LoadPricingd()
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadFieldMap(t *testing.T) {
	m, err := LoadFieldMap("")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultFieldMap(), m)

	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quantity: Qty__c\nrecurring_total: MRC_Total__c\n"), 0o600))

	m, err = LoadFieldMap(path)
	require.NoError(t, err)
	assert.Equal(t, "Qty__c", m.Quantity)
	assert.Equal(t, "MRC_Total__c", m.RecurringTotal)
	assert.Equal(t, "Name", m.Name)
}

func TestLoadFieldMap_Errors(t *testing.T) {
	_, err := LoadFieldMap(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "fields.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quantitty: Qty__c\n"), 0o600))
	_, err = LoadFieldMap(path)
	assert.Error(t, err)
}
