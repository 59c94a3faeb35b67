package lighter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dexagg/orderbook-aggregator/business/marketdata/domain"
	"github.com/dexagg/orderbook-aggregator/internal/apperror"
	"github.com/dexagg/orderbook-aggregator/internal/circuitbreaker"
	"github.com/dexagg/orderbook-aggregator/internal/httpclient"
	"github.com/dexagg/orderbook-aggregator/internal/logger"
	"github.com/dexagg/orderbook-aggregator/internal/ratelimit"
)

const (
	ordersEndpoint = "/api/v1/orderBookOrders"

	// The API caps limit at 100 orders per side.
	maxOrderLimit = 100

	httpTimeout = 10 * time.Second

	defaultRequestsPerMinute = 60
)

// HTTPClientConfig holds configuration for the Lighter REST client.
type HTTPClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
}

// DefaultHTTPClientConfig returns sensible defaults.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:           BaseAPIURL,
		Timeout:           httpTimeout,
		RequestsPerMinute: defaultRequestsPerMinute,
	}
}

// RestLevel is one resting order on the REST order book.
type RestLevel struct {
	Price               string `json:"price"`
	RemainingBaseAmount string `json:"remaining_base_amount"`
}

// OrderBookOrdersResponse is the response of the orderBookOrders endpoint.
type OrderBookOrdersResponse struct {
	Code      int         `json:"code"`
	TotalAsks int         `json:"total_asks"`
	TotalBids int         `json:"total_bids"`
	Asks      []RestLevel `json:"asks"`
	Bids      []RestLevel `json:"bids"`
}

// BookSnapshot is a parsed full book fetched over REST.
type BookSnapshot struct {
	MarketIndex int
	Bids        []domain.Level
	Asks        []domain.Level
	Timestamp   float64
}

// HTTPClient provides Lighter REST API access for order book snapshots.
// Requests are rate limited and wrapped in a circuit breaker so a failing
// API does not get hammered.
type HTTPClient struct {
	client  httpclient.Client
	config  HTTPClientConfig
	logger  logger.LoggerInterface
	tracer  trace.Tracer
	limiter *ratelimit.Limiter
	breaker *circuitbreaker.CircuitBreaker[*OrderBookOrdersResponse]
}

// NewHTTPClient creates a new Lighter REST client.
func NewHTTPClient(cfg HTTPClientConfig, log logger.LoggerInterface) (*HTTPClient, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseAPIURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = httpTimeout
	}

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}

	tracer := otel.Tracer(tracerName)

	client, err := httpclient.NewInstrumentedClient(
		httpclient.WithProviderName("lighter"),
		httpclient.WithBaseURL(baseURL),
		httpclient.WithRequestTimeout(timeout),
		httpclient.WithTraceOptions(tracer, httpclient.TraceRequest, httpclient.TraceResponse),
		httpclient.WithHeaders(map[string]string{
			"Accept": "application/json",
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	cbCfg := circuitbreaker.DefaultConfig("lighter-rest")
	cbCfg.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn(context.Background(), "circuit breaker state changed",
			"name", name, "from", from.String(), "to", to.String())
	}

	return &HTTPClient{
		client:  client,
		config:  cfg,
		logger:  log,
		tracer:  tracer,
		limiter: ratelimit.New(rpm),
		breaker: circuitbreaker.New[*OrderBookOrdersResponse](cbCfg),
	}, nil
}

// GetOrderBook fetches the full order book for a market. depth limits the
// number of levels per side; zero means the API default.
func (c *HTTPClient) GetOrderBook(ctx context.Context, marketIndex, depth int) (*BookSnapshot, error) {
	ctx, span := c.tracer.Start(ctx, "lighter.http.get_order_book",
		trace.WithAttributes(
			attribute.Int("market", marketIndex),
			attribute.Int("depth", depth),
		),
	)
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (*OrderBookOrdersResponse, error) {
		return c.fetchOrders(ctx, marketIndex, depth)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	snap := &BookSnapshot{
		MarketIndex: marketIndex,
		Bids:        c.parseLevels(ctx, marketIndex, "bid", result.Bids),
		Asks:        c.parseLevels(ctx, marketIndex, "ask", result.Asks),
		Timestamp:   float64(time.Now().UnixMilli()) / 1000,
	}

	span.SetAttributes(
		attribute.Int("bids", len(snap.Bids)),
		attribute.Int("asks", len(snap.Asks)),
	)

	c.logger.Debug(ctx, "fetched order book via HTTP",
		"market", marketIndex,
		"bids", len(snap.Bids),
		"asks", len(snap.Asks))

	return snap, nil
}

func (c *HTTPClient) fetchOrders(ctx context.Context, marketIndex, depth int) (*OrderBookOrdersResponse, error) {
	var result OrderBookOrdersResponse
	req := c.client.NewRequestWithOptions(
		httpclient.WithLabels(
			httpclient.NewLabel("endpoint", "orderBookOrders"),
			httpclient.NewLabel("market", strconv.Itoa(marketIndex)),
		),
		httpclient.WithResponseErrorHandler(lighterErrorHandler),
	).
		SetQueryParam("market_id", strconv.Itoa(marketIndex)).
		SetQueryParam("limit", strconv.Itoa(maxOrderLimit))
	if depth > 0 {
		req = req.SetQueryParam("depth", strconv.Itoa(depth))
	}

	resp, err := req.SetResult(&result).Get(ctx, ordersEndpoint)
	if err != nil {
		return nil, apperror.New(apperror.CodeSnapshotFetchFailed,
			apperror.WithCause(err),
			apperror.WithContext("market "+strconv.Itoa(marketIndex)))
	}
	if resp.IsError() {
		return nil, apperror.New(apperror.CodeLighterAPIError,
			apperror.WithContext(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, resp.String())))
	}
	return &result, nil
}

// parseLevels converts REST levels to domain levels, skipping any that fail
// to parse.
func (c *HTTPClient) parseLevels(ctx context.Context, marketIndex int, side string, raw []RestLevel) []domain.Level {
	levels := make([]domain.Level, 0, len(raw))
	for _, r := range raw {
		lvl, err := domain.ParseLevel(r.Price, r.RemainingBaseAmount)
		if err != nil {
			c.logger.Warn(ctx, "skipping unparsable level",
				"market", marketIndex,
				"side", side,
				"price", r.Price,
				"size", r.RemainingBaseAmount,
				"error", err)
			continue
		}
		levels = append(levels, lvl)
	}
	return levels
}

// GetMultipleOrderBooks fetches several markets concurrently. Markets that
// fail are omitted from the result.
func (c *HTTPClient) GetMultipleOrderBooks(ctx context.Context, marketIndexes []int, depth int) map[int]*BookSnapshot {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		books = make(map[int]*BookSnapshot, len(marketIndexes))
	)

	for _, idx := range marketIndexes {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			snap, err := c.GetOrderBook(ctx, idx, depth)
			if err != nil {
				c.logger.Warn(ctx, "order book fetch failed", "market", idx, "error", err)
				return
			}
			mu.Lock()
			books[idx] = snap
			mu.Unlock()
		}(idx)
	}
	wg.Wait()

	return books
}

// LighterAPIError represents an error response from the Lighter API.
type LighterAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *LighterAPIError) Error() string {
	return fmt.Sprintf("lighter API error %d: %s", e.Code, e.Message)
}

// lighterErrorHandler parses Lighter API error responses.
func lighterErrorHandler(statusCode int, body []byte) error {
	if statusCode >= 400 {
		var apiErr LighterAPIError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != 0 {
			return &apiErr
		}
		return fmt.Errorf("HTTP %d: %s", statusCode, string(body))
	}
	return nil
}
