package rest

import (
	"encoding/json"
	"errors"
)

// Kind classifies a failed request outcome.
type Kind int

const (
	// KindUnknown covers unmapped statuses and non-network transport failures.
	KindUnknown Kind = iota
	// KindOffline indicates the server was not reachable.
	KindOffline
	// KindBadRequest is an HTTP 400 with no recognized validation detail.
	KindBadRequest
	// KindInvalidEmail is a validation failure on the email format.
	KindInvalidEmail
	// KindTakenEmail is a uniqueness violation on the email.
	KindTakenEmail
	// KindTakenUsername is a uniqueness violation on the username.
	KindTakenUsername
	// KindWeakPassword is a too-short or too-weak password.
	KindWeakPassword
	// KindReservedUsername is a reserved-username violation.
	KindReservedUsername
	// KindInvalidCredentials is an HTTP 401 that is not a refreshable token
	// expiry, or a failed refresh.
	KindInvalidCredentials
	// KindAccessDenied is an HTTP 403.
	KindAccessDenied
	// KindNotFound is an HTTP 404.
	KindNotFound
	// KindRequires2FA is an HTTP 499: the request needs a two-factor code.
	KindRequires2FA
	// KindNotAuthenticated means no credential was ever attempted: the auth
	// mode requires a stored token and none exists.
	KindNotAuthenticated
	// KindMalformedBody means the request body failed to serialize before
	// any network I/O.
	KindMalformedBody
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown error",
	KindOffline:            "offline",
	KindBadRequest:         "bad request",
	KindInvalidEmail:       "invalid email",
	KindTakenEmail:         "email already taken",
	KindTakenUsername:      "username already taken",
	KindWeakPassword:       "weak password",
	KindReservedUsername:   "reserved username",
	KindInvalidCredentials: "invalid credentials",
	KindAccessDenied:       "access denied",
	KindNotFound:           "not found",
	KindRequires2FA:        "two-factor code required",
	KindNotAuthenticated:   "not authenticated",
	KindMalformedBody:      "malformed request body",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown error"
}

// Error is a typed request failure. Data carries the response body for
// diagnostics where one was available.
type Error struct {
	Kind Kind
	Data json.RawMessage
}

func (e *Error) Error() string {
	return "mixer: " + e.Kind.String()
}

// IsKind reports whether err is a request Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var reqErr *Error
	return errors.As(err, &reqErr) && reqErr.Kind == kind
}
