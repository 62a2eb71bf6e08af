package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"OmniSpectrum/internal/domain/models"
	pkgch "OmniSpectrum/pkg/clickhouse"
	applogger "OmniSpectrum/pkg/logger"
	"OmniSpectrum/pkg/util"
)

// CHSeriesStore reads daily candles and keeps forecast history in ClickHouse.
// It implements CandleStore, ForecastHistory and ForecastSink.
type CHSeriesStore struct {
	db        *sql.DB
	symbol    string
	candles   string
	forecasts string
	l         *applogger.Logger
}

func NewCHSeriesStore(ch *pkgch.Client, candles, forecasts, symbol string) *CHSeriesStore {
	return &CHSeriesStore{
		db:        ch.DB(),
		symbol:    symbol,
		candles:   ch.Database() + "." + candles,
		forecasts: ch.Database() + "." + forecasts,
		l:         applogger.Nop(),
	}
}

// SetLogger injects a structured logger.
func (s *CHSeriesStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

func (s *CHSeriesStore) LatestBars(ctx context.Context, symbol string, n int) ([]models.Bar, error) {
	start := time.Now()
	const qtpl = `
        SELECT day, open, high, low, close, volume
        FROM %s FINAL
        WHERE symbol = ?
        ORDER BY day DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.candles), symbol, n)
	if err != nil {
		s.l.Error("clickhouse latest_bars query error",
			applogger.String("table", s.candles),
			applogger.String("symbol", symbol),
			applogger.Int("limit", n),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("latest bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, n)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			s.l.Error("clickhouse latest_bars scan error",
				applogger.String("table", s.candles),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	// reverse to ascending
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s.l.Info("clickhouse latest_bars ok",
		applogger.String("table", s.candles),
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}

// StoreBars upserts daily bars in chunks of multi-row VALUES inserts. The
// candles table is a ReplacingMergeTree so re-sending a day replaces it.
func (s *CHSeriesStore) StoreBars(ctx context.Context, symbol string, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			if b.Time.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, symbol, b.Time.UTC(), b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (symbol, day, open, high, low, close, volume) VALUES %s",
			s.candles, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert bars: %w", err)
		}
	}
	s.l.Info("clickhouse store_bars ok",
		applogger.String("table", s.candles),
		applogger.String("symbol", symbol),
		applogger.Int("rows", len(bars)),
	)
	return nil
}

// Write appends one forecast row together with the full document.
func (s *CHSeriesStore) Write(ctx context.Context, runID string, out *models.ForecastOutput) error {
	doc, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}
	rec := out.Record(runID, s.symbol)
	ts := util.ParseTimeDefault(rec.Timestamp, time.Now().UTC())

	q := fmt.Sprintf(`INSERT INTO %s (run_id, symbol, ts, close, bear, neutral, bull, expansion_prob, week_move, model_version, document)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.forecasts)
	_, err = s.db.ExecContext(ctx, q,
		rec.RunID, rec.Symbol, ts, rec.Close,
		rec.Bear, rec.Neutral, rec.Bull, rec.ExpansionProb,
		rec.WeekMove, rec.ModelVersion, string(doc),
	)
	if err != nil {
		s.l.Error("clickhouse insert forecast error",
			applogger.String("table", s.forecasts),
			applogger.String("run_id", runID),
			applogger.Error(err),
		)
		return fmt.Errorf("insert forecast: %w", err)
	}
	return nil
}

func (s *CHSeriesStore) Recent(ctx context.Context, symbol string, limit int) ([]models.ForecastRecord, error) {
	const qtpl = `
        SELECT toString(run_id), symbol, ts, close, bear, neutral, bull, expansion_prob, week_move, model_version
        FROM %s
        WHERE symbol = ?
        ORDER BY ts DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(qtpl, s.forecasts), symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("recent forecasts: %w", err)
	}
	defer rows.Close()

	out := make([]models.ForecastRecord, 0, limit)
	for rows.Next() {
		var (
			r   models.ForecastRecord
			ts  time.Time
			exp sql.NullFloat64
		)
		if err := rows.Scan(&r.RunID, &r.Symbol, &ts, &r.Close, &r.Bear, &r.Neutral, &r.Bull, &exp, &r.WeekMove, &r.ModelVersion); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		r.Timestamp = ts.UTC().Format(time.RFC3339)
		if exp.Valid {
			v := exp.Float64
			r.ExpansionProb = &v
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHSeriesStore) Close() error { return nil }
