// Package rest implements the authenticated request pipeline for the Mixer
// API: building and issuing HTTP requests per auth mode, interpreting
// responses into typed outcomes, serializing token refreshes with a pending
// request queue, and answering CSRF challenges.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/beamkit/mixer-go/internal/logger"
	"github.com/beamkit/mixer-go/internal/store"
)

// Version is the client version reported in user-agent headers.
const Version = "0.1"

// DefaultBaseURL is the versioned Mixer API root.
const DefaultBaseURL = "https://mixer.com/api/v1"

const defaultHTTPTimeout = 15 * time.Second

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 1 << 20

// UserAgent returns the product/version/platform user-agent header value
// used for all API and WebSocket traffic.
func UserAgent() string {
	return fmt.Sprintf("MixerGo/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// TokenIssuer acquires a fresh grant token when no cookie-derived refresh is
// possible. Implementations must write the token to the credential store
// before returning.
type TokenIssuer interface {
	IssueToken(ctx context.Context) error
}

// Executor builds and issues API requests. Many requests may be in flight
// concurrently; the embedded refresh coordinator guarantees that at most one
// token refresh runs at a time and that requests arriving mid-refresh are
// queued and replayed in arrival order.
type Executor struct {
	baseURL string
	store   store.Store
	issuer  TokenIssuer
	log     *logger.Logger
	client  *http.Client
	refresh *refresher
}

// NewExecutor creates an Executor against the given API root. The issuer may
// be nil when no external token-issuing collaborator exists; refreshes then
// succeed only via the stored cookie set.
func NewExecutor(baseURL string, st store.Store, issuer TokenIssuer, log *logger.Logger) *Executor {
	e := &Executor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		store:   st,
		issuer:  issuer,
		log:     log,
		// Cookies are round-tripped explicitly through the credential
		// store, never through a transport cookie jar.
		client: &http.Client{Timeout: defaultHTTPTimeout},
	}
	e.refresh = &refresher{exec: e}
	return e
}

// Do executes the described request and returns the raw success payload.
// Failures are always one of the typed outcomes in this package; transport
// and sub-flow errors are never surfaced raw. If a refresh is in flight the
// request is queued and replayed once the refresh completes.
func (e *Executor) Do(ctx context.Context, d Descriptor) (json.RawMessage, error) {
	if ch, queued := e.refresh.admit(ctx, d); queued {
		select {
		case res := <-ch:
			return res.data, res.err
		case <-ctx.Done():
			return nil, &Error{Kind: KindUnknown}
		}
	}
	return e.do(ctx, d, "", false)
}

// do issues one wire-level request. csrfToken is attached when re-issuing
// after a challenge; refreshed marks a replay after a completed token
// refresh, which must not trigger a second refresh.
func (e *Executor) do(ctx context.Context, d Descriptor, csrfToken string, refreshed bool) (json.RawMessage, error) {
	opts := d.Options

	switch {
	case opts.Has(OptNoAuth) || opts.Has(OptCookieAuth):
	case opts.Has(OptBearerAuth):
		if e.store.Get(store.KeyBearer) == "" {
			return nil, &Error{Kind: KindNotAuthenticated}
		}
	default:
		if e.store.Get(store.KeyJWT) == "" {
			return nil, &Error{Kind: KindNotAuthenticated}
		}
	}

	var bodyReader io.Reader
	if d.Body != nil {
		payload, err := json.Marshal(d.Body)
		if err != nil {
			return nil, &Error{Kind: KindMalformedBody}
		}
		bodyReader = bytes.NewReader(payload)
	}

	method := d.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, e.buildURL(d), bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindUnknown}
	}

	req.Header.Set("User-Agent", UserAgent())
	if d.Body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	switch {
	case opts.Has(OptCookieAuth):
		for _, c := range store.DecodeCookies(e.store.Get(store.KeyCookies)) {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	case opts.Has(OptBearerAuth):
		req.Header.Set("Authorization", "Bearer "+e.store.Get(store.KeyBearer))
	case opts.Has(OptNoAuth):
	default:
		req.Header.Set("Authorization", "JWT "+e.store.Get(store.KeyJWT))
	}

	if csrfToken != "" {
		req.Header.Set("x-csrf-token", csrfToken)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &Error{Kind: KindUnknown}
	}

	// Credential side effects happen before interpretation so a refresh or
	// challenge retry sees the fresh values.
	if opts.Has(OptStoreCookies) || opts.Has(OptMayNeedCSRF) {
		if cookies := store.CookiesFromResponse(resp); len(cookies) > 0 {
			e.store.Set(store.KeyCookies, store.EncodeCookies(cookies))
		}
	}
	if opts.Has(OptStoreToken) {
		if jwt := resp.Header.Get("x-jwt"); jwt != "" {
			e.store.Set(store.KeyJWT, jwt)
		}
	}

	return e.interpret(ctx, d, resp, body, refreshed)
}

func (e *Executor) interpret(ctx context.Context, d Descriptor, resp *http.Response, body []byte, refreshed bool) (json.RawMessage, error) {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return body, nil

	case http.StatusBadRequest:
		return nil, refineBadRequest(body)

	case http.StatusUnauthorized:
		if bodyMessage(body) == "Invalid token" && !refreshed {
			return e.refresh.run(ctx, d)
		}
		return nil, &Error{Kind: KindInvalidCredentials, Data: body}

	case http.StatusForbidden:
		return nil, &Error{Kind: KindAccessDenied, Data: body}

	case http.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Data: body}

	case statusCSRFChallenge:
		if d.Options.Has(OptMayNeedCSRF) {
			if token := resp.Header.Get("x-csrf-token"); token != "" {
				e.log.Debug("CSRF challenge received, re-issuing with token", "path", d.Path)
				retry := d.with(OptCookieAuth, OptMayNeedCSRF)
				return e.do(ctx, retry, token, refreshed)
			}
		}
		return nil, &Error{Kind: KindUnknown, Data: body}

	case status2FARequired:
		return nil, &Error{Kind: KindRequires2FA, Data: body}

	default:
		e.log.Warn("Unexpected status code", "status", resp.StatusCode, "path", d.Path)
		return nil, &Error{Kind: KindUnknown, Data: body}
	}
}

const (
	// statusCSRFChallenge is Mixer's nonstandard status carrying a CSRF
	// challenge token in the x-csrf-token response header.
	statusCSRFChallenge = 461
	// status2FARequired is Mixer's nonstandard status for a missing
	// two-factor code.
	status2FARequired = 499
)

func (e *Executor) buildURL(d Descriptor) string {
	base := d.Path
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = e.baseURL + "/" + strings.TrimPrefix(d.Path, "/")
	}

	if len(d.Params) == 0 {
		return base
	}
	values := url.Values{}
	for k, v := range d.Params {
		values.Set(k, v)
	}
	return base + "?" + values.Encode()
}

// classifyTransport maps a transport failure to Offline when the server was
// not reachable, Unknown otherwise.
func classifyTransport(err error) *Error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Kind: KindOffline}
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return &Error{Kind: KindOffline}
	}
	return &Error{Kind: KindUnknown}
}

// validationError is the structured body Mixer returns on HTTP 400.
type validationError struct {
	Name    string `json:"name"`
	Details []struct {
		Path string `json:"path"`
		Type string `json:"type"`
	} `json:"details"`
}

// refineBadRequest inspects a 400 body for known validation failures.
// Anything unrecognized stays a plain BadRequest.
func refineBadRequest(body []byte) *Error {
	fallback := &Error{Kind: KindBadRequest, Data: body}

	var ve validationError
	if err := json.Unmarshal(body, &ve); err != nil {
		return fallback
	}
	if ve.Name != "ValidationError" || len(ve.Details) == 0 {
		return fallback
	}

	detail := ve.Details[0]
	switch detail.Path {
	case "payload.email":
		switch detail.Type {
		case "string.email":
			return &Error{Kind: KindInvalidEmail, Data: body}
		case "unique":
			return &Error{Kind: KindTakenEmail, Data: body}
		}
	case "payload.username":
		if detail.Type == "unique" {
			return &Error{Kind: KindTakenUsername, Data: body}
		}
	case "payload.password":
		if detail.Type == "string.min" || detail.Type == "string.password" {
			return &Error{Kind: KindWeakPassword, Data: body}
		}
	case "username":
		if detail.Type == "reserved" {
			return &Error{Kind: KindReservedUsername, Data: body}
		}
	}
	return fallback
}

func bodyMessage(body []byte) string {
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return ""
	}
	return msg.Message
}
