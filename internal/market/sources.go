package market

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Source returns candles for a symbol, oldest first.
type Source interface {
	Name() string
	Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

type Binance struct {
	rest *restClient
}

func NewBinance(baseURL string, timeout time.Duration, log *zap.Logger) *Binance {
	return &Binance{rest: newRESTClient(baseURL, timeout, log)}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	payload, err := b.rest.getAny(ctx, "/api/v3/klines", q)
	if err != nil {
		return nil, err
	}
	rows, ok := toSlice(payload)
	if !ok {
		return nil, fmt.Errorf("binance klines: unexpected payload %T", payload)
	}
	return parseKlineRows(rows)
}

type Bybit struct {
	rest *restClient
}

func NewBybit(baseURL string, timeout time.Duration, log *zap.Logger) *Bybit {
	return &Bybit{rest: newRESTClient(baseURL, timeout, log)}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) Candles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	bybitInterval, err := bybitIntervalFor(interval)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("category", "spot")
	q.Set("symbol", symbol)
	q.Set("interval", bybitInterval)
	q.Set("limit", strconv.Itoa(limit))
	payload, err := b.rest.getAny(ctx, "/v5/market/kline", q)
	if err != nil {
		return nil, err
	}
	body, ok := toMap(payload)
	if !ok {
		return nil, fmt.Errorf("bybit kline: unexpected payload %T", payload)
	}
	if code := intFromAny(body["retCode"], -1); code != 0 {
		return nil, fmt.Errorf("bybit kline: code %d: %s", code, stringFromMap(body, "retMsg"))
	}
	result, _ := toMap(body["result"])
	rows, ok := toSlice(result["list"])
	if !ok {
		return nil, fmt.Errorf("bybit kline: missing result list")
	}
	return parseKlineRows(rows)
}

func bybitIntervalFor(interval string) (string, error) {
	switch interval {
	case "1m":
		return "1", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "4h":
		return "240", nil
	case "1d":
		return "D", nil
	default:
		return "", fmt.Errorf("interval %q not supported by bybit", interval)
	}
}
