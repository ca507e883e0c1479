package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fernwood-labs/messenger-sync/pkg/logger"
	"github.com/fernwood-labs/messenger-sync/pkg/metrics"
)

// Result settles one enqueued logical call.
type Result struct {
	Payload json.RawMessage
	Err     error
}

type pendingCall struct {
	method string
	params Params
	done   chan Result
}

// BatcherConfig tunes the batch scheduler.
type BatcherConfig struct {
	// Window is the coalescing delay before an armed batch drains.
	Window time.Duration
	// MaxSize drains a batch early once this many calls are queued.
	MaxSize int
}

// Batcher coalesces logical calls issued within a short window into one
// composite invocation, trading latency for fewer requests against quota.
// An enqueued call always eventually dispatches or fails; it cannot be
// withdrawn mid-window.
type Batcher struct {
	gateway *Gateway
	window  time.Duration
	maxSize int

	// baseCtx bounds dispatch lifetime; composite calls span entries from
	// different callers, so they use the batcher's lifecycle context.
	baseCtx context.Context

	mu    sync.Mutex
	queue []*pendingCall
	timer *time.Timer

	log *logger.Logger
}

// NewBatcher creates a batch scheduler dispatching through the given gateway.
// ctx bounds the lifetime of all composite dispatches.
func NewBatcher(ctx context.Context, gateway *Gateway, cfg BatcherConfig, log *logger.Logger) *Batcher {
	if cfg.Window <= 0 {
		cfg.Window = 100 * time.Millisecond
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 25
	}
	return &Batcher{
		gateway: gateway,
		window:  cfg.Window,
		maxSize: cfg.MaxSize,
		baseCtx: ctx,
		log:     log.Named("batch"),
	}
}

// Enqueue schedules one logical call and returns a channel that settles with
// its individual result. The first call of an idle window arms the drain
// timer; reaching MaxSize drains immediately.
func (b *Batcher) Enqueue(method string, params Params) <-chan Result {
	entry := &pendingCall{method: method, params: params, done: make(chan Result, 1)}

	b.mu.Lock()
	b.queue = append(b.queue, entry)
	switch {
	case len(b.queue) >= b.maxSize:
		batch := b.take()
		b.mu.Unlock()
		go b.dispatch(batch)
	case len(b.queue) == 1:
		b.timer = time.AfterFunc(b.window, b.drain)
		b.mu.Unlock()
	default:
		b.mu.Unlock()
	}

	return entry.done
}

// take detaches the queue and disarms the timer. Caller holds b.mu.
func (b *Batcher) take() []*pendingCall {
	batch := b.queue
	b.queue = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

func (b *Batcher) drain() {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	if len(batch) > 0 {
		b.dispatch(batch)
	}
}

func (b *Batcher) dispatch(batch []*pendingCall) {
	metrics.BatchSize.Observe(float64(len(batch)))

	// A batch of one skips the composite round-trip entirely.
	if len(batch) == 1 {
		entry := batch[0]
		payload, err := b.gateway.Call(b.baseCtx, entry.method, entry.params, false)
		b.settle(entry, Result{Payload: payload, Err: err})
		return
	}

	payload, err := b.gateway.Call(b.baseCtx, "execute", Params{"code": compositeScript(batch)}, false)
	if err != nil {
		// Composite failure rejects every entry with the same error.
		for _, entry := range batch {
			b.settle(entry, Result{Err: err})
		}
		return
	}

	var slots []json.RawMessage
	if err := json.Unmarshal(payload, &slots); err != nil || len(slots) != len(batch) {
		b.log.Error("composite result shape mismatch",
			zap.Int("expected", len(batch)),
			zap.Int("got", len(slots)),
			zap.Error(err),
		)
		shapeErr := &Error{Kind: KindRemoteAPI, Message: "composite result shape mismatch"}
		for _, entry := range batch {
			b.settle(entry, Result{Err: shapeErr})
		}
		return
	}

	// Each slot settles its own entry; a failed slot never affects siblings.
	for i, entry := range batch {
		b.settle(entry, slotResult(slots[i]))
	}
}

func (b *Batcher) settle(entry *pendingCall, res Result) {
	outcome := "resolved"
	if res.Err != nil {
		outcome = "rejected"
	}
	metrics.BatchEntriesTotal.WithLabelValues(outcome).Inc()
	entry.done <- res
}

// slotResult interprets one slot of the composite result array. A literal
// false or an error-shaped object rejects only that entry.
func slotResult(slot json.RawMessage) Result {
	trimmed := bytes.TrimSpace(slot)
	if bytes.Equal(trimmed, []byte("false")) {
		return Result{Err: &Error{Kind: KindRemoteAPI, Message: "composite sub-call failed"}}
	}
	var we wireError
	if bytes.HasPrefix(trimmed, []byte("{")) {
		if err := json.Unmarshal(trimmed, &we); err == nil && we.Code != 0 {
			return Result{Err: apiError(we.Code, we.Message)}
		}
	}
	return Result{Payload: slot}
}

// compositeScript renders the server-side script that executes each sub-call
// and returns the results array in input order.
func compositeScript(batch []*pendingCall) string {
	var b strings.Builder
	b.WriteString("return [")
	for i, entry := range batch {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("API.")
		b.WriteString(entry.method)
		b.WriteByte('(')
		b.WriteString(scriptArgs(entry.params))
		b.WriteByte(')')
	}
	b.WriteString("];")
	return b.String()
}

func scriptArgs(params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(params[k])
		b.Write(kb)
		b.WriteString(": ")
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.String()
}
