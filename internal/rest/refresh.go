package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/beamkit/mixer-go/internal/store"
)

type result struct {
	data json.RawMessage
	err  error
}

// pending is a request queued while a refresh is in flight, replayed exactly
// once when the refresh completes.
type pending struct {
	ctx context.Context
	d   Descriptor
	ch  chan result
}

// refresher serializes token refreshes: at most one refresh runs at a time,
// concurrent callers queue, and queued requests replay in arrival order once
// the refresh completes. All state is owned by this struct and guarded by
// one mutex.
type refresher struct {
	mu       sync.Mutex
	inFlight bool
	queue    []pending
	exec     *Executor
}

// admit queues the request when a refresh is in flight. Requests that are
// themselves part of a token grant (store-token) pass through so the refresh
// can complete.
func (r *refresher) admit(ctx context.Context, d Descriptor) (<-chan result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inFlight || d.Options.Has(OptStoreToken) {
		return nil, false
	}
	ch := make(chan result, 1)
	r.queue = append(r.queue, pending{ctx: ctx, d: d, ch: ch})
	return ch, true
}

// run is entered when a request failed with 401 "Invalid token". The first
// caller performs the refresh; every other caller queues and waits for
// replay.
func (r *refresher) run(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	r.mu.Lock()
	if r.inFlight {
		ch := make(chan result, 1)
		r.queue = append(r.queue, pending{ctx: ctx, d: d, ch: ch})
		r.mu.Unlock()
		res := <-ch
		return res.data, res.err
	}
	r.inFlight = true
	r.mu.Unlock()

	r.exec.log.Debug("Token expired, refreshing")
	usedCookies, err := r.refreshToken(ctx)

	if err != nil {
		if usedCookies && IsKind(err, KindInvalidCredentials) {
			// The stored cookie set itself is invalid: force a logout and
			// retry the original request once with no credential.
			r.exec.log.Warn("Stored cookie set rejected, logging out")
			r.exec.store.Clear()
			r.replay(r.drain())
			return r.exec.do(ctx, d.with(OptNoAuth, OptCookieAuth|OptBearerAuth), "", true)
		}

		r.exec.log.Warn("Token refresh failed", "error", err)
		failed := &Error{Kind: KindInvalidCredentials}
		for _, p := range r.drain() {
			p.ch <- result{err: failed}
		}
		return nil, failed
	}

	r.exec.log.Debug("Token refresh complete, replaying queued requests")
	r.replay(r.drain())
	return r.exec.do(ctx, d, "", true)
}

// refreshToken acquires a new grant token: via the stored cookie set when
// one exists, else via the external token issuer. Reports whether the cookie
// path was used. A refresh is never cancelled once started; a partially
// completed refresh would leave the credential store inconsistent.
func (r *refresher) refreshToken(ctx context.Context) (usedCookies bool, err error) {
	if r.exec.store.Get(store.KeyCookies) != "" {
		grant := Descriptor{
			Path:    "/jwt/authorize",
			Method:  http.MethodPost,
			Options: OptCookieAuth | OptStoreToken,
		}
		if _, err := r.exec.do(ctx, grant, "", true); err != nil {
			return true, err
		}
		if r.exec.store.Get(store.KeyJWT) == "" {
			return true, &Error{Kind: KindInvalidCredentials}
		}
		return true, nil
	}

	if r.exec.issuer == nil {
		return false, &Error{Kind: KindInvalidCredentials}
	}
	return false, r.exec.issuer.IssueToken(ctx)
}

// drain clears the in-flight flag and takes ownership of the queue.
func (r *refresher) drain() []pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queue
	r.queue = nil
	r.inFlight = false
	return q
}

// replay re-issues queued requests in arrival order with the refreshed
// credential. Replays never trigger a nested refresh.
func (r *refresher) replay(queue []pending) {
	for _, p := range queue {
		data, err := r.exec.do(p.ctx, p.d, "", true)
		p.ch <- result{data: data, err: err}
	}
}
