package rest

// Option is a flag set controlling how a request is authenticated and which
// response side effects apply.
type Option uint8

const (
	// OptNoAuth attaches no credentials.
	OptNoAuth Option = 1 << iota
	// OptCookieAuth reconstructs Cookie headers from the stored cookie set.
	OptCookieAuth
	// OptBearerAuth attaches "Authorization: Bearer <token>".
	OptBearerAuth
	// OptMayNeedCSRF marks a state-changing request that the server may
	// answer with a CSRF challenge.
	OptMayNeedCSRF
	// OptStoreCookies persists inbound Set-Cookie headers to the credential
	// store, replacing the prior cookie set wholesale.
	OptStoreCookies
	// OptStoreToken persists the x-jwt response header to the credential store.
	OptStoreToken
)

// Has reports whether flag is set.
func (o Option) Has(flag Option) bool {
	return o&flag != 0
}

// Descriptor is an immutable request value. When none of the auth options
// are set, the request uses default token auth ("Authorization: JWT <token>").
type Descriptor struct {
	// Path is the endpoint path joined to the executor's base URL, or an
	// absolute URL.
	Path    string
	Method  string
	Headers map[string]string
	Params  map[string]string
	// Body is serialized to JSON when non-nil.
	Body    any
	Options Option
}

// with clones the descriptor with flags toggled for a retry.
func (d Descriptor) with(add, remove Option) Descriptor {
	clone := d
	clone.Options = (d.Options &^ remove) | add
	return clone
}
