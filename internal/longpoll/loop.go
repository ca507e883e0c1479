// Package longpoll holds the persistent polling session against the remote
// event endpoint and turns its update stream into typed events.
package longpoll

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fernwood-labs/messenger-sync/internal/model"
	"github.com/fernwood-labs/messenger-sync/internal/remote"
	"github.com/fernwood-labs/messenger-sync/pkg/logger"
	"github.com/fernwood-labs/messenger-sync/pkg/metrics"
)

// Session is the long-poll endpoint state. It is mutated only by the loop
// and replaced wholesale when the remote signals the cursor is invalid.
type Session struct {
	Server string
	Key    string
	TS     int64
}

// Caller dispatches method calls; session acquisition goes through the
// gateway like every other outbound call.
type Caller interface {
	Call(ctx context.Context, method string, params remote.Params, useCache bool) (json.RawMessage, error)
}

// Config tunes the loop.
type Config struct {
	// Wait is the server-side hold hint in seconds.
	Wait int
	// RetryDelay is the pause after a transient network failure before
	// re-polling with the same cursor.
	RetryDelay time.Duration
}

// The cursor-invalid failure code carries a fresh cursor; all other failure
// codes require a new session.
const failedStaleCursor = 1

// Loop runs the long-poll state machine:
// Stopped → AcquiringServer → Polling ⇄ Recovering → Stopped.
type Loop struct {
	gw         Caller
	httpClient *http.Client
	wait       int
	retryDelay time.Duration

	updates   chan model.Update
	connected atomic.Bool

	log *logger.Logger
}

// New creates a loop. Updates are delivered on the Updates channel until the
// run context is cancelled.
func New(gw Caller, cfg Config, log *logger.Logger) *Loop {
	if cfg.Wait <= 0 {
		cfg.Wait = 25
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Loop{
		gw: gw,
		// No client-level timeout: each poll carries its own deadline
		// derived from the wait hint.
		httpClient: &http.Client{},
		wait:       cfg.Wait,
		retryDelay: cfg.RetryDelay,
		updates:    make(chan model.Update, 128),
		log:        log.Named("longpoll"),
	}
}

// Updates returns the decoded event stream.
func (l *Loop) Updates() <-chan model.Update {
	return l.updates
}

// Connected reports whether a live session is currently polling.
func (l *Loop) Connected() bool {
	return l.connected.Load()
}

// Run drives the loop until ctx is cancelled. Errors never escape an
// iteration: they resolve to either continued polling or session
// re-acquisition.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		sess, err := l.acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn("session acquisition failed", zap.Error(err))
			if err := sleepCtx(ctx, l.retryDelay); err != nil {
				return err
			}
			continue
		}

		metrics.LongPollSessionsTotal.Inc()
		l.connected.Store(true)
		l.log.Info("long-poll session acquired", zap.Int64("ts", sess.TS))

		err = l.runSession(ctx, sess)
		l.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Info("long-poll session ended, re-acquiring", zap.Error(err))
	}
}

// acquire requests a fresh session from the remote.
func (l *Loop) acquire(ctx context.Context) (*Session, error) {
	payload, err := l.gw.Call(ctx, "messages.getLongPollServer", remote.Params{"lp_version": "3"}, false)
	if err != nil {
		return nil, err
	}

	var wire struct {
		Key    string `json:"key"`
		Server string `json:"server"`
		TS     int64  `json:"ts"`
	}
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("longpoll: decode session: %w", err)
	}
	server := wire.Server
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	return &Session{Server: server, Key: wire.Key, TS: wire.TS}, nil
}

// runSession polls until the session dies. Iterative by construction; the
// call stack never grows with session length.
func (l *Loop) runSession(ctx context.Context, sess *Session) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		resp, err := l.poll(ctx, sess)
		// A poll completing after stop is abandoned: its result must not
		// advance the cursor or emit events.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			l.log.Warn("poll failed, retrying with same cursor", zap.Error(err))
			if err := sleepCtx(ctx, l.retryDelay); err != nil {
				return err
			}
			continue
		}

		if resp.Failed != 0 {
			if resp.Failed == failedStaleCursor && resp.TS > 0 {
				// The remote handed us a usable cursor; the session
				// itself is still valid.
				sess.TS = resp.TS
				continue
			}
			return &remote.Error{
				Kind:    remote.KindStaleCursor,
				Code:    resp.Failed,
				Message: "long-poll session invalid",
			}
		}

		sess.TS = resp.TS
		for _, raw := range resp.Updates {
			u, err := DecodeUpdate(raw)
			if err != nil {
				l.log.Debug("malformed update skipped", zap.Error(err))
				continue
			}
			metrics.LongPollUpdatesTotal.WithLabelValues(u.UpdateKind()).Inc()
			select {
			case l.updates <- u:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// pollResponse is the long-poll wire shape: either updates plus the next
// cursor, or a failure code.
type pollResponse struct {
	TS      int64             `json:"ts"`
	Failed  int               `json:"failed"`
	Updates []json.RawMessage `json:"updates"`
}

func (l *Loop) poll(ctx context.Context, sess *Session) (*pollResponse, error) {
	endpoint := fmt.Sprintf("%s?act=a_check&key=%s&ts=%d&wait=%d&mode=2",
		sess.Server, url.QueryEscape(sess.Key), sess.TS, l.wait)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(l.wait)*time.Second+10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("longpoll: create request: %w", err)
	}

	res, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &remote.Error{Kind: remote.KindNetwork, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &remote.Error{
			Kind: remote.KindNetwork,
			Err:  fmt.Errorf("unexpected status %d from long-poll endpoint", res.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return nil, &remote.Error{Kind: remote.KindNetwork, Err: err}
	}

	var resp pollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("longpoll: decode response: %w", err)
	}
	return &resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
