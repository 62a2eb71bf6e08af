package clickhouse

import "fmt"

// SchemaStatements returns idempotent DDL for the daily candle table that
// feeds the pipeline and the table that keeps forecast history.
func SchemaStatements(database, candles, forecasts string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	symbol LowCardinality(String),
	day    Date,
	open   Float64,
	high   Float64,
	low    Float64,
	close  Float64,
	volume Float64
) ENGINE = ReplacingMergeTree
ORDER BY (symbol, day)`, database, candles),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	run_id         UUID,
	symbol         LowCardinality(String),
	ts             DateTime64(3, 'UTC'),
	close          Float64,
	bear           Float64,
	neutral        Float64,
	bull           Float64,
	expansion_prob Nullable(Float64),
	week_move      Float64,
	model_version  String,
	document       String
) ENGINE = MergeTree
ORDER BY (symbol, ts)`, database, forecasts),
	}
}
