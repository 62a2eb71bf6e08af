package marketdata

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"OmniSpectrum/internal/domain/models"
)

const (
	primarySeriesKey = "nifty_daily"
	vixSeriesKey     = "vix"
	syntheticTag     = "SYNTHETIC"
)

// rawDocument is the union of every cache document shape. Exactly one of OHLC
// or Series carries the bar history.
type rawDocument struct {
	Timestamp json.RawMessage      `json:"timestamp"`
	Source    string               `json:"source"`
	OHLC      *rawColumns          `json:"ohlc"`
	Series    map[string]rawSeries `json:"series"`
	Spot      json.RawMessage      `json:"spot"`
	VIX       json.RawMessage      `json:"vix"`
	NiftyOHLC *rawQuoteOHLC        `json:"niftyOhlc"`
	VIXOHLC   *rawQuoteOHLC        `json:"vixOhlc"`
}

type rawColumns struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
	Dates  []string   `json:"dates"`
}

type rawSeries struct {
	Meta struct {
		Ticker   string `json:"ticker"`
		Interval string `json:"interval"`
		Source   string `json:"source"`
	} `json:"meta"`
	Data []rawRecord `json:"data"`
}

type rawRecord struct {
	Date     string   `json:"Date"`
	Datetime string   `json:"Datetime"`
	Open     *float64 `json:"Open"`
	High     *float64 `json:"High"`
	Low      *float64 `json:"Low"`
	Close    *float64 `json:"Close"`
	Volume   *float64 `json:"Volume"`
}

type rawQuoteOHLC struct {
	Open  *float64 `json:"open"`
	High  *float64 `json:"high"`
	Low   *float64 `json:"low"`
	Close *float64 `json:"close"`
}

// rawQuote accepts either a bare number or an object with a price field and
// optional open/high/low.
type rawQuote struct {
	Price *float64 `json:"price"`
	Open  *float64 `json:"open"`
	High  *float64 `json:"high"`
	Low   *float64 `json:"low"`
}

func parseQuote(raw json.RawMessage) (rawQuote, bool) {
	var q rawQuote
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return q, false
	}
	if raw[0] == '{' {
		if err := json.Unmarshal(raw, &q); err != nil {
			return q, false
		}
		return q, q.Price != nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return q, false
	}
	q.Price = &v
	return q, true
}

func parseTimestamp(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// classify picks the variant. A series document is synthetic when either the
// top-level source or the primary series meta says so.
func classify(doc *rawDocument) (models.CacheVariant, bool) {
	if primary, ok := doc.Series[primarySeriesKey]; ok {
		if strings.HasPrefix(strings.ToUpper(doc.Source), syntheticTag) ||
			strings.EqualFold(primary.Meta.Source, syntheticTag) {
			return models.VariantSynthetic, true
		}
		return models.VariantMultiSeries, true
	}
	if doc.OHLC != nil {
		return models.VariantCanonical, true
	}
	return 0, false
}

// sanitizeJSON rewrites the NaN and Infinity literals that Python's json module
// emits into null so encoding/json can read the document.
func sanitizeJSON(b []byte) []byte {
	var out []byte
	inString, escaped := false, false
	last := 0
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		for _, lit := range nonFiniteLiterals {
			if bytes.HasPrefix(b[i:], lit) {
				if out == nil {
					out = make([]byte, 0, len(b))
				}
				out = append(out, b[last:i]...)
				out = append(out, "null"...)
				i += len(lit) - 1
				last = i + 1
				break
			}
		}
	}
	if out == nil {
		return b
	}
	return append(out, b[last:]...)
}

var nonFiniteLiterals = [][]byte{
	[]byte("-Infinity"),
	[]byte("Infinity"),
	[]byte("NaN"),
}
