// Package market provides the price oracle adapter: an EODHD-style HTTP
// client plus an optional Redis read-through cache.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 10 // requests per second
)

// Oracle fetches last prices from an EODHD-compatible real-time endpoint.
// Missing or unpriced symbols are omitted from results rather than failing
// the batch.
type Oracle struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOracle constructs an Oracle from config.
func NewOracle(cfg config.Config) *Oracle {
	return &Oracle{
		baseURL: strings.TrimRight(cfg.MarketBaseURL, "/"),
		apiKey:  cfg.MarketAPIKey,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
	}
}

// flexFloat tolerates providers returning numbers as strings or "NA".
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

type quote struct {
	Code  string    `json:"code"`
	Close flexFloat `json:"close"`
}

// LastPrices implements domain.MarketOracle. The whole batch goes out as one
// real-time request: first symbol in the path, the rest in the s= parameter.
func (o *Oracle) LastPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("op=market.LastPrices: rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("api_token", o.apiKey)
	params.Set("fmt", "json")
	if len(symbols) > 1 {
		params.Set("s", strings.Join(symbols[1:], ","))
	}
	reqURL := fmt.Sprintf("%s/real-time/%s?%s", o.baseURL, url.PathEscape(symbols[0]), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("op=market.LastPrices: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("op=market.LastPrices: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("op=market.LastPrices: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("op=market.LastPrices: %w", err)
	}
	quotes, err := decodeQuotes(body)
	if err != nil {
		return nil, fmt.Errorf("op=market.LastPrices: %w", err)
	}

	// Single-symbol requests come back without a code field on some
	// providers; fall back to the requested symbol.
	prices := make(map[string]float64, len(quotes))
	for i, q := range quotes {
		sym := q.Code
		if sym == "" && i < len(symbols) {
			sym = symbols[i]
		}
		if sym == "" || q.Close <= 0 {
			continue
		}
		prices[sym] = float64(q.Close)
	}
	return prices, nil
}

// decodeQuotes accepts both the single-object and array response shapes.
func decodeQuotes(body []byte) ([]quote, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var q quote
		if err := json.Unmarshal(body, &q); err != nil {
			return nil, err
		}
		return []quote{q}, nil
	}
	var qs []quote
	if err := json.Unmarshal(body, &qs); err != nil {
		return nil, err
	}
	return qs, nil
}

var _ domain.MarketOracle = (*Oracle)(nil)
