package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromConfig(t *testing.T) {
	o := options(ClientConfig{
		Host:        "ch",
		Port:        9000,
		Database:    "omni",
		User:        "u",
		Password:    "p",
		DialTimeout: 2 * time.Second,
		ReadTimeout: 5 * time.Second,
		MaxExecTime: 90 * time.Second,
		AsyncInsert: true,
	})

	assert.Equal(t, []string{"ch:9000"}, o.Addr)
	assert.Equal(t, "default", o.Auth.Database)
	assert.Equal(t, "u", o.Auth.Username)
	assert.Equal(t, 2*time.Second, o.DialTimeout)
	require.NotNil(t, o.Compression)
	assert.Equal(t, ch.CompressionLZ4, o.Compression.Method)
	assert.Equal(t, 90, o.Settings["max_execution_time"])
	assert.Equal(t, 1, o.Settings["async_insert"])
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(WithPort(9000))
	assert.Error(t, err)
}

func TestSchemaStatementsQualifyTables(t *testing.T) {
	stmts := SchemaStatements("omni", "candles", "forecasts")
	assert.Len(t, stmts, 3)
	assert.Contains(t, stmts[1], "omni.candles")
	assert.Contains(t, stmts[2], "omni.forecasts")
}
