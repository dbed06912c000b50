package store

import (
	"encoding/json"
	"net/http"
	"time"
)

// Cookie is a single HTTP cookie persisted as part of the session cookie set.
type Cookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Domain  string    `json:"domain,omitempty"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// EncodeCookies serializes a cookie set to the string form stored under
// KeyCookies. An empty set encodes to "".
func EncodeCookies(cookies []Cookie) string {
	if len(cookies) == 0 {
		return ""
	}
	data, err := json.Marshal(cookies)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeCookies parses a stored cookie set. Malformed input yields nil.
func DecodeCookies(raw string) []Cookie {
	if raw == "" {
		return nil
	}
	var cookies []Cookie
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		return nil
	}
	return cookies
}

// CookiesFromResponse converts the Set-Cookie headers of a response into a
// persistable cookie set.
func CookiesFromResponse(resp *http.Response) []Cookie {
	var cookies []Cookie
	for _, c := range resp.Cookies() {
		cookies = append(cookies, Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	return cookies
}
