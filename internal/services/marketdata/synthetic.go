package marketdata

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"time"

	"OmniSpectrum/pkg/util"
)

// SyntheticConfig drives the offline cache generator.
type SyntheticConfig struct {
	Seed          uint64
	Days          int
	BasePrice     float64
	Volatility    float64
	VIXBase       float64
	VIXVolatility float64
	End           time.Time
}

func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Seed:          42,
		Days:          730,
		BasePrice:     23500,
		Volatility:    0.015,
		VIXBase:       15,
		VIXVolatility: 0.05,
		End:           time.Now().UTC(),
	}
}

type syntheticQuote struct {
	Price     float64 `json:"price"`
	Open      float64 `json:"open,omitempty"`
	High      float64 `json:"high,omitempty"`
	Low       float64 `json:"low,omitempty"`
	Change    float64 `json:"change,omitempty"`
	ChangePct float64 `json:"change_pct,omitempty"`
}

type syntheticRecord struct {
	Date   string  `json:"Date"`
	Open   float64 `json:"Open"`
	High   float64 `json:"High"`
	Low    float64 `json:"Low"`
	Close  float64 `json:"Close"`
	Volume int64   `json:"Volume"`
}

type syntheticSeries struct {
	Meta map[string]string `json:"meta"`
	Data []syntheticRecord `json:"data"`
}

type syntheticDocument struct {
	Timestamp string                     `json:"timestamp"`
	Source    string                     `json:"source"`
	Note      string                     `json:"note"`
	Series    map[string]syntheticSeries `json:"series"`
	Spot      syntheticQuote             `json:"spot"`
	VIX       syntheticQuote             `json:"vix"`
}

// GenerateSynthetic renders a reproducible random-walk cache document in the
// synthetic series shape.
func GenerateSynthetic(cfg SyntheticConfig) ([]byte, error) {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	nifty := randomWalk(rng, cfg.End, cfg.Days, cfg.BasePrice, cfg.Volatility, 500_000)
	vix := randomWalk(rng, cfg.End, cfg.Days, cfg.VIXBase, cfg.VIXVolatility, 0)

	last, prev := nifty[len(nifty)-1], nifty[len(nifty)-2]
	doc := syntheticDocument{
		Timestamp: cfg.End.Format(time.RFC3339),
		Source:    "SYNTHETIC (for testing)",
		Note:      "Generated offline data. Do not use for trading decisions.",
		Series: map[string]syntheticSeries{
			primarySeriesKey: {
				Meta: map[string]string{"ticker": "^NSEI", "interval": "1d", "source": syntheticTag},
				Data: nifty,
			},
			vixSeriesKey: {
				Meta: map[string]string{"ticker": "^INDIAVIX", "interval": "1d", "source": syntheticTag},
				Data: vix,
			},
		},
		Spot: syntheticQuote{
			Price:     last.Close,
			Open:      last.Open,
			High:      last.High,
			Low:       last.Low,
			Change:    util.Round(last.Close-prev.Close, 2),
			ChangePct: util.Round((last.Close/prev.Close-1)*100, 4),
		},
		VIX: syntheticQuote{Price: vix[len(vix)-1].Close},
	}
	return json.MarshalIndent(doc, "", "  ")
}

func randomWalk(rng *rand.Rand, end time.Time, days int, base, vol, volumeScale float64) []syntheticRecord {
	days = max(days, 2)
	start := end.AddDate(0, 0, -(days - 1))
	out := make([]syntheticRecord, days)
	price := base
	for i := range out {
		if i > 0 {
			price *= 1 + rng.NormFloat64()*vol
		}
		high := price * (1 + math.Abs(rng.NormFloat64()*vol/2))
		low := price * (1 - math.Abs(rng.NormFloat64()*vol/2))
		open := price * (1 + rng.NormFloat64()*vol/3)
		// shape-2 gamma as the sum of two unit exponentials
		volume := int64((rng.ExpFloat64() + rng.ExpFloat64()) * volumeScale)

		out[i] = syntheticRecord{
			Date:   start.AddDate(0, 0, i).Format("2006-01-02 15:04:05"),
			Open:   util.Round(open, 2),
			High:   util.Round(math.Max(high, math.Max(open, price)), 2),
			Low:    util.Round(math.Min(low, math.Min(open, price)), 2),
			Close:  util.Round(price, 2),
			Volume: volume,
		}
	}
	return out
}
