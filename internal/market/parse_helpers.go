package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// parseKlineRows reads exchange kline rows shaped
// [startMs, open, high, low, close, volume, ...] where numbers may be strings.
func parseKlineRows(rows []any) ([]Candle, error) {
	candles := make([]Candle, 0, len(rows))
	for i, row := range rows {
		fields, ok := toSlice(row)
		if !ok || len(fields) < 6 {
			return nil, fmt.Errorf("kline row %d malformed", i)
		}
		start, ok := floatFromAny(fields[0])
		if !ok {
			return nil, fmt.Errorf("kline row %d start time malformed", i)
		}
		var vals [5]float64
		for j := 0; j < 5; j++ {
			v, ok := floatFromAny(fields[j+1])
			if !ok {
				return nil, fmt.Errorf("kline row %d field %d malformed", i, j+1)
			}
			vals[j] = v
		}
		candles = append(candles, Candle{
			Start:  time.UnixMilli(int64(start)).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	if len(candles) == 0 {
		return nil, errors.New("no klines returned")
	}
	sort.Slice(candles, func(i, j int) bool { return candles[i].Start.Before(candles[j].Start) })
	return candles, nil
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intFromAny(v any, fallback int) int {
	if f, ok := floatFromAny(v); ok {
		return int(f)
	}
	return fallback
}
