package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fernwood-labs/messenger-sync/pkg/logger"
	"github.com/fernwood-labs/messenger-sync/pkg/metrics"
	"github.com/fernwood-labs/messenger-sync/pkg/tracing"
)

// Caller is the transport contract the gateway mediates.
type Caller interface {
	Call(ctx context.Context, method string, params Params) (json.RawMessage, error)
}

// Scanner is a post-processing hook every successful payload passes through.
// It is the single extension point for opportunistic cache population.
type Scanner func(payload json.RawMessage)

// GatewayConfig tunes the request gateway.
type GatewayConfig struct {
	// RequestDelay is the minimum interval between consecutive outbound
	// dispatches.
	RequestDelay time.Duration
	// CacheTTL bounds the age of cached response payloads.
	CacheTTL time.Duration
	// QuotaBackoff is the fixed wait before retrying a quota-exceeded call.
	QuotaBackoff time.Duration
	// QuotaRetries bounds how many times one call is retried on quota
	// errors before the error propagates.
	QuotaRetries int
}

// Gateway wraps every outbound API call: it paces dispatches to respect the
// remote quota, serves repeat reads from a short-TTL cache, and retries
// quota-exceeded calls a bounded number of times.
type Gateway struct {
	client   Caller
	limiter  *rate.Limiter
	cache    *responseCache
	scanners []Scanner

	quotaBackoff time.Duration
	quotaRetries int

	log    *logger.Logger
	tracer trace.Tracer
}

// NewGateway creates an explicitly owned gateway instance. One gateway per
// process; its owner passes it to every component that performs remote calls.
func NewGateway(client Caller, cfg GatewayConfig, log *logger.Logger) *Gateway {
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = 350 * time.Millisecond
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.QuotaBackoff <= 0 {
		cfg.QuotaBackoff = time.Second
	}
	if cfg.QuotaRetries <= 0 {
		cfg.QuotaRetries = 2
	}
	return &Gateway{
		client:       client,
		limiter:      rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		cache:        newResponseCache(cfg.CacheTTL),
		quotaBackoff: cfg.QuotaBackoff,
		quotaRetries: cfg.QuotaRetries,
		log:          log.Named("gateway"),
		tracer:       tracing.Tracer("gateway"),
	}
}

// RegisterScanner adds a response scanner. Not safe to call after the first
// Call; register everything during startup wiring.
func (g *Gateway) RegisterScanner(s Scanner) {
	g.scanners = append(g.scanners, s)
}

// Call dispatches one logical API call. With useCache set, a payload cached
// within the TTL is returned without touching the network, and a fresh
// payload is stored on the way out.
func (g *Gateway) Call(ctx context.Context, method string, params Params, useCache bool) (json.RawMessage, error) {
	key := cacheKey(method, params)
	if useCache {
		if payload, ok := g.cache.get(key); ok {
			metrics.RemoteCacheHits.WithLabelValues("hit").Inc()
			return payload, nil
		}
		metrics.RemoteCacheHits.WithLabelValues("miss").Inc()
	}

	ctx, span := g.tracer.Start(ctx, "gateway.call",
		trace.WithAttributes(attribute.String("rpc.method", method)))
	defer span.End()

	start := time.Now()
	payload, err := g.dispatch(ctx, method, params)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	metrics.RecordRemoteCall(method, status, time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}

	for _, scan := range g.scanners {
		scan(payload)
	}
	if useCache {
		g.cache.put(key, payload)
	}
	return payload, nil
}

// dispatch performs the paced network call with bounded quota retries. The
// retry is an explicit loop via backoff, never recursion.
func (g *Gateway) dispatch(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	var payload json.RawMessage

	op := func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(networkError(err))
		}
		result, err := g.client.Call(ctx, method, params)
		if err != nil {
			if IsKind(err, KindQuota) {
				return err
			}
			return backoff.Permanent(err)
		}
		payload = result
		return nil
	}

	notify := func(err error, _ time.Duration) {
		metrics.QuotaRetriesTotal.Inc()
		g.log.Warn("quota exceeded, retrying",
			zap.String("method", method),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(g.quotaBackoff), uint64(g.quotaRetries)),
		ctx,
	)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return payload, nil
}
