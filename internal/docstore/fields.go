package docstore

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Exists reports whether key is present, even with a null value.
func (d *Document) Exists(key string) bool {
	_, ok := d.Data[key]
	return ok
}

func (d *Document) String(key string) string {
	switch v := d.Data[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func (d *Document) Bool(key string) (bool, bool) {
	switch v := d.Data[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// Int64 reads an integer field stored as a number or a numeric string.
// Fractional values are truncated toward zero.
func (d *Document) Int64(key string) (int64, bool) {
	dec, ok := d.Decimal(key)
	if !ok {
		return 0, false
	}
	return dec.IntPart(), true
}

// Decimal reads a numeric field stored as a number or a numeric string.
func (d *Document) Decimal(key string) (decimal.Decimal, bool) {
	switch v := d.Data[key].(type) {
	case json.Number:
		dec, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return dec, true
	case string:
		dec, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false
		}
		return dec, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case decimal.Decimal:
		return v, true
	default:
		return decimal.Zero, false
	}
}

// Time reads an RFC 3339 timestamp or a YYYY-MM-DD date (midnight UTC).
// Numeric values are taken as unix seconds.
func (d *Document) Time(key string) (*time.Time, bool) {
	switch v := d.Data[key].(type) {
	case time.Time:
		t := v
		return &t, true
	case string:
		if v == "" {
			return nil, false
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			if t, err = time.Parse(time.DateOnly, v); err != nil {
				return nil, false
			}
		}
		return &t, true
	case json.Number:
		secs, err := v.Int64()
		if err != nil {
			return nil, false
		}
		t := time.Unix(secs, 0).UTC()
		return &t, true
	default:
		return nil, false
	}
}
