package features

import (
	"OmniSpectrum/internal/domain/models"
)

// ComputeFeatureTable derives the engineered columns for every bar and drops
// warm-up rows and any row holding a non-finite value. The result must keep at
// least MinFeatureRows rows.
func ComputeFeatureTable(series models.MarketSeries) (*models.FeatureTable, error) {
	bars := series.Bars
	n := len(bars)

	closes := series.Closes()
	ranges := make([]float64, n)
	for i, b := range bars {
		ranges[i] = (b.High - b.Low) / (b.Close + models.Epsilon)
	}

	returns := PctChange(closes)
	rv5 := RealizedVolatility(returns, 5)
	rv10 := RealizedVolatility(returns, 10)
	rv20 := RealizedVolatility(returns, 20)
	rv60 := RealizedVolatility(returns, 60)
	ema8 := EMA(closes, 8)
	ema21 := EMA(closes, 21)
	range10 := RollingMean(ranges, 10)
	retZ := ZScore(returns, 20)

	rows := make([]models.FeatureRow, 0, max(0, n-models.WarmupRows))
	for i := models.WarmupRows; i < n; i++ {
		b := bars[i]
		row := models.FeatureRow{
			Time:        b.Time,
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			Return:      returns[i],
			RV5:         rv5[i],
			RV10:        rv10[i],
			RV20:        rv20[i],
			RV60:        rv60[i],
			EMA8:        ema8[i],
			EMA21:       ema21[i],
			EMASlope:    (ema8[i] - ema21[i]) / (ema21[i] + models.Epsilon),
			Range:       ranges[i],
			Range10:     range10[i],
			RVRatio1060: rv10[i] / (rv60[i] + models.Epsilon),
			ReturnZ20:   retZ[i],
		}
		if !rowFinite(&row) {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) < models.MinFeatureRows {
		return nil, models.NewError("compute features", models.ErrInsufficientHistory,
			"%d usable rows from %d bars, need %d", len(rows), n, models.MinFeatureRows)
	}
	return &models.FeatureTable{Rows: rows}, nil
}

func rowFinite(r *models.FeatureRow) bool {
	return finite(r.Open, r.High, r.Low, r.Close, r.Volume,
		r.Return, r.RV5, r.RV10, r.RV20, r.RV60,
		r.EMA8, r.EMA21, r.EMASlope, r.Range, r.Range10,
		r.RVRatio1060, r.ReturnZ20)
}
