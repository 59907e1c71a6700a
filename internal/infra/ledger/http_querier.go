package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/core/port"
)

const maxResponseBytes = 64 << 10

// HTTPQuerierOptions configures the ledger gateway client.
type HTTPQuerierOptions struct {
	BaseURL        string
	AuthToken      string
	Retries        int
	Client         *http.Client
	TracerProvider trace.TracerProvider
}

// HTTPQuerier asks the ledger gateway whether a tenant settled a period:
// GET {base}/agreements/{tenant}/periods/{period} -> {"paid": bool}.
type HTTPQuerier struct {
	base    *url.URL
	token   string
	retries int
	client  *http.Client
	tracer  trace.Tracer
	logger  *zap.Logger
}

type entitlementResponse struct {
	Paid *bool `json:"paid"`
}

var _ port.LedgerQuerier = (*HTTPQuerier)(nil)

// NewHTTPQuerier validates the base URL and builds the client.
func NewHTTPQuerier(opts HTTPQuerierOptions, logger *zap.Logger) (*HTTPQuerier, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid ledger query url %q", opts.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	retries := opts.Retries
	if retries < 0 {
		retries = 0
	}

	return &HTTPQuerier{
		base:    base,
		token:   opts.AuthToken,
		retries: retries,
		client:  client,
		tracer:  tp.Tracer("github.com/arklim/paid-storage/internal/infra/ledger"),
		logger:  logger,
	}, nil
}

// QueryEntitlement performs the lookup. Every failure is reported as domain.ErrLedgerUnavailable.
func (q *HTTPQuerier) QueryEntitlement(ctx context.Context, tenant string, period domain.Period) (bool, error) {
	ctx, span := q.tracer.Start(ctx, "ledger.QueryEntitlement",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("paidstore.tenant", tenant),
			attribute.Int64("paidstore.period", int64(period)),
		),
	)
	defer span.End()

	endpoint := q.base.JoinPath("agreements", tenant, "periods", strconv.FormatInt(int64(period), 10))

	paid, err := backoff.Retry(ctx, func() (bool, error) {
		return q.fetch(ctx, endpoint.String())
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(50*time.Millisecond)),
		backoff.WithMaxTries(uint(q.retries+1)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ledger query failed")
		if !errors.Is(err, domain.ErrLedgerUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
		}
		return false, err
	}

	span.SetAttributes(attribute.Bool("paidstore.settled", paid))
	return paid, nil
}

func (q *HTTPQuerier) fetch(ctx context.Context, endpoint string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, backoff.Permanent(fmt.Errorf("build ledger request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if q.token != "" {
		req.Header.Set("Authorization", "Bearer "+q.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, ctx.Err()))
		}
		return false, fmt.Errorf("%w: %w", domain.ErrLedgerUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return false, fmt.Errorf("%w: gateway returned %d", domain.ErrLedgerUnavailable, resp.StatusCode)
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return false, backoff.Permanent(fmt.Errorf("%w: gateway returned %d", domain.ErrLedgerUnavailable, resp.StatusCode))
	}

	var body entitlementResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return false, backoff.Permanent(fmt.Errorf("%w: decode gateway response: %w", domain.ErrLedgerUnavailable, err))
	}
	if body.Paid == nil {
		return false, backoff.Permanent(fmt.Errorf("%w: gateway response missing paid flag", domain.ErrLedgerUnavailable))
	}
	return *body.Paid, nil
}
