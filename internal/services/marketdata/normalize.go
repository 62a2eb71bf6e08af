package marketdata

import (
	"encoding/json"
	"fmt"
	"math"

	"OmniSpectrum/internal/domain/models"
	"OmniSpectrum/pkg/util"
)

type normalizer func(doc *rawDocument, symbol string) (*models.MarketSnapshot, error)

var normalizers = map[models.CacheVariant]normalizer{
	models.VariantCanonical:   normalizeCanonical,
	models.VariantMultiSeries: normalizeMultiSeries,
	models.VariantSynthetic:   normalizeSynthetic,
}

// Decode parses a cache document of any supported shape into a snapshot with
// at least MinBars bars.
func Decode(data []byte, symbol string) (*models.MarketSnapshot, error) {
	var doc rawDocument
	if err := json.Unmarshal(sanitizeJSON(data), &doc); err != nil {
		return nil, models.WrapError("decode cache", models.ErrCacheInvalid, err)
	}

	variant, ok := classify(&doc)
	if !ok {
		return nil, models.NewError("decode cache", models.ErrCacheInvalid,
			"neither ohlc nor series.%s present", primarySeriesKey)
	}

	snap, err := normalizers[variant](&doc, symbol)
	if err != nil {
		return nil, err
	}
	if n := snap.Series.Len(); n < models.MinBars {
		return nil, models.NewError("decode cache", models.ErrInsufficientHistory,
			"%d bars, need %d", n, models.MinBars)
	}
	return snap, nil
}

func normalizeCanonical(doc *rawDocument, symbol string) (*models.MarketSnapshot, error) {
	cols := doc.OHLC
	n := len(cols.Close)
	if n == 0 {
		return nil, models.NewError("normalize canonical", models.ErrCacheInvalid, "empty close column")
	}
	for name, col := range map[string][]*float64{"open": cols.Open, "high": cols.High, "low": cols.Low} {
		if len(col) != n {
			return nil, models.NewError("normalize canonical", models.ErrCacheInvalid,
				"%s has %d values, close has %d", name, len(col), n)
		}
	}
	if len(cols.Volume) != 0 && len(cols.Volume) != n {
		return nil, models.NewError("normalize canonical", models.ErrCacheInvalid,
			"volume has %d values, close has %d", len(cols.Volume), n)
	}

	bars := make([]models.Bar, 0, n)
	for i := 0; i < n; i++ {
		closePx, ok := value(cols.Close[i])
		if !ok {
			continue
		}
		bar := models.Bar{
			Open:   orDefault(cols.Open[i], closePx),
			High:   orDefault(cols.High[i], closePx),
			Low:    orDefault(cols.Low[i], closePx),
			Close:  closePx,
			Volume: 0,
		}
		if len(cols.Volume) == n {
			bar.Volume = orDefault(cols.Volume[i], 0)
		}
		if i < len(cols.Dates) {
			bar.Time, _ = util.ParseTime(cols.Dates[i])
		}
		bars = append(bars, bar)
	}

	snap := baseSnapshot(doc, symbol, bars, models.VariantCanonical)
	return snap, nil
}

func normalizeMultiSeries(doc *rawDocument, symbol string) (*models.MarketSnapshot, error) {
	bars, err := seriesBars(doc.Series[primarySeriesKey])
	if err != nil {
		return nil, err
	}
	snap := baseSnapshot(doc, symbol, bars, models.VariantMultiSeries)
	fillFromSeriesContext(doc, snap)
	return snap, nil
}

// normalizeSynthetic reads the generator's output. Besides the shared series
// handling it takes the VIX OHLC from the synthetic VIX series, which the
// generator always emits.
func normalizeSynthetic(doc *rawDocument, symbol string) (*models.MarketSnapshot, error) {
	bars, err := seriesBars(doc.Series[primarySeriesKey])
	if err != nil {
		return nil, err
	}
	snap := baseSnapshot(doc, symbol, bars, models.VariantSynthetic)
	fillFromSeriesContext(doc, snap)

	if vix, ok := doc.Series[vixSeriesKey]; ok && doc.VIXOHLC == nil {
		if vbars, err := seriesBars(vix); err == nil && len(vbars) > 0 {
			last := vbars[len(vbars)-1]
			snap.VIXOHLC = models.PartialOHLC{Open: &last.Open, High: &last.High, Low: &last.Low, Close: &last.Close}
		}
	}
	return snap, nil
}

func seriesBars(s rawSeries) ([]models.Bar, error) {
	if len(s.Data) == 0 {
		return nil, models.NewError("normalize series", models.ErrCacheInvalid, "series %s has no data", primarySeriesKey)
	}
	bars := make([]models.Bar, 0, len(s.Data))
	for i, rec := range s.Data {
		closePx, ok := value(rec.Close)
		if !ok {
			continue
		}
		if rec.Open == nil && rec.High == nil && rec.Low == nil {
			return nil, models.NewError("normalize series", models.ErrCacheInvalid, "record %d has no Open/High/Low", i)
		}
		stamp := rec.Date
		if stamp == "" {
			stamp = rec.Datetime
		}
		t, _ := util.ParseTime(stamp)
		bars = append(bars, models.Bar{
			Time:   t,
			Open:   orDefault(rec.Open, closePx),
			High:   orDefault(rec.High, closePx),
			Low:    orDefault(rec.Low, closePx),
			Close:  closePx,
			Volume: orDefault(rec.Volume, 0),
		})
	}
	return bars, nil
}

func baseSnapshot(doc *rawDocument, symbol string, bars []models.Bar, v models.CacheVariant) *models.MarketSnapshot {
	snap := &models.MarketSnapshot{
		Series:    models.MarketSeries{Symbol: symbol, Bars: bars},
		Timestamp: parseTimestamp(doc.Timestamp),
		Variant:   v,
	}
	if q, ok := parseQuote(doc.Spot); ok {
		snap.Spot = q.Price
	}
	if q, ok := parseQuote(doc.VIX); ok {
		snap.VIX = q.Price
	}
	if doc.NiftyOHLC != nil {
		snap.SpotOHLC = doc.NiftyOHLC.partial()
	}
	if doc.VIXOHLC != nil {
		snap.VIXOHLC = doc.VIXOHLC.partial()
	}
	return snap
}

// fillFromSeriesContext completes quote data that series documents carry in
// other places: the spot object's open/high/low and the VIX series.
func fillFromSeriesContext(doc *rawDocument, snap *models.MarketSnapshot) {
	if doc.NiftyOHLC == nil {
		if q, ok := parseQuote(doc.Spot); ok {
			snap.SpotOHLC = models.PartialOHLC{Open: q.Open, High: q.High, Low: q.Low, Close: q.Price}
		}
	}
	if snap.VIX == nil || *snap.VIX == 0 {
		if vix, ok := doc.Series[vixSeriesKey]; ok {
			for i := len(vix.Data) - 1; i >= 0; i-- {
				if c, ok := value(vix.Data[i].Close); ok && c != 0 {
					snap.VIX = &c
					break
				}
			}
		}
	}
}

func (q *rawQuoteOHLC) partial() models.PartialOHLC {
	return models.PartialOHLC{Open: q.Open, High: q.High, Low: q.Low, Close: q.Close}
}

func value(p *float64) (float64, bool) {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

func orDefault(p *float64, def float64) float64 {
	if v, ok := value(p); ok {
		return v
	}
	return def
}

// Describe is a one-line summary used in logs.
func Describe(s *models.MarketSnapshot) string {
	if s.Series.Len() == 0 {
		return fmt.Sprintf("%s: empty", s.Variant)
	}
	first, last := s.Series.Bars[0], s.Series.Bars[s.Series.Len()-1]
	return fmt.Sprintf("%s: %d bars %s..%s close=%.2f", s.Variant, s.Series.Len(),
		first.Time.Format("2006-01-02"), last.Time.Format("2006-01-02"), last.Close)
}
