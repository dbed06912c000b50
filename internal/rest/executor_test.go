package rest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamkit/mixer-go/internal/logger"
	"github.com/beamkit/mixer-go/internal/store"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.Setup(logger.Config{Level: slog.LevelError + 4, Colored: false})
	require.NoError(t, err)
	return log
}

func newTestExecutor(t *testing.T, handler http.Handler) (*Executor, *store.Memory, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	st := store.NewMemory()
	return NewExecutor(srv.URL, st, nil, testLogger(t)), st, srv
}

func TestExecutorSuccess(t *testing.T) {
	exec, st, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "JWT token123", r.Header.Get("Authorization"))
		assert.Equal(t, UserAgent(), r.Header.Get("User-Agent"))
		w.Write([]byte(`{"id":1}`))
	}))
	st.Set(store.KeyJWT, "token123")

	data, err := exec.Do(context.Background(), Descriptor{Path: "/users/current"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(data))
}

func TestExecutorNoContent(t *testing.T) {
	exec, _, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	data, err := exec.Do(context.Background(), Descriptor{Path: "/ping", Options: OptNoAuth})
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestExecutorAuthModes(t *testing.T) {
	var gotAuth, gotCookie atomic.Value
	exec, st, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotCookie.Store(r.Header.Get("Cookie"))
		w.WriteHeader(http.StatusOK)
	}))
	st.Set(store.KeyJWT, "jwt-token")
	st.Set(store.KeyBearer, "bearer-token")
	st.Set(store.KeyCookies, store.EncodeCookies([]store.Cookie{{Name: "sid", Value: "abc"}}))

	t.Run("default token auth", func(t *testing.T) {
		_, err := exec.Do(context.Background(), Descriptor{Path: "/x"})
		require.NoError(t, err)
		assert.Equal(t, "JWT jwt-token", gotAuth.Load())
	})

	t.Run("bearer auth", func(t *testing.T) {
		_, err := exec.Do(context.Background(), Descriptor{Path: "/x", Options: OptBearerAuth})
		require.NoError(t, err)
		assert.Equal(t, "Bearer bearer-token", gotAuth.Load())
	})

	t.Run("cookie auth", func(t *testing.T) {
		_, err := exec.Do(context.Background(), Descriptor{Path: "/x", Options: OptCookieAuth})
		require.NoError(t, err)
		assert.Empty(t, gotAuth.Load())
		assert.Contains(t, gotCookie.Load(), "sid=abc")
	})

	t.Run("no auth", func(t *testing.T) {
		_, err := exec.Do(context.Background(), Descriptor{Path: "/x", Options: OptNoAuth})
		require.NoError(t, err)
		assert.Empty(t, gotAuth.Load())
	})
}

func TestExecutorNotAuthenticatedBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	exec, _, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	t.Run("default token auth without token", func(t *testing.T) {
		_, err := exec.Do(context.Background(), Descriptor{Path: "/protected"})
		assert.True(t, IsKind(err, KindNotAuthenticated))
	})

	t.Run("bearer auth without token", func(t *testing.T) {
		_, err := exec.Do(context.Background(), Descriptor{Path: "/protected", Options: OptBearerAuth})
		assert.True(t, IsKind(err, KindNotAuthenticated))
	})

	assert.Zero(t, hits.Load(), "no network call may happen for un-refreshable states")
}

func TestExecutorMalformedBodyBeforeNetwork(t *testing.T) {
	var hits atomic.Int32
	exec, _, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))

	_, err := exec.Do(context.Background(), Descriptor{
		Path:    "/x",
		Method:  http.MethodPost,
		Body:    make(chan int),
		Options: OptNoAuth,
	})
	assert.True(t, IsKind(err, KindMalformedBody))
	assert.Zero(t, hits.Load())
}

func TestExecutorQueryParams(t *testing.T) {
	exec, _, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a value", r.URL.Query().Get("key"))
		assert.Equal(t, "x&y", r.URL.Query().Get("other"))
		w.WriteHeader(http.StatusOK)
	}))

	_, err := exec.Do(context.Background(), Descriptor{
		Path:    "/search",
		Params:  map[string]string{"key": "a value", "other": "x&y"},
		Options: OptNoAuth,
	})
	require.NoError(t, err)
}

func TestExecutorStatusTable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"401 other message", http.StatusUnauthorized, `{"message":"expired session"}`, KindInvalidCredentials},
		{"401 non-json body", http.StatusUnauthorized, `nope`, KindInvalidCredentials},
		{"403", http.StatusForbidden, `{}`, KindAccessDenied},
		{"404", http.StatusNotFound, `{}`, KindNotFound},
		{"461 without flag", statusCSRFChallenge, `{}`, KindUnknown},
		{"499", status2FARequired, `{}`, KindRequires2FA},
		{"500", http.StatusInternalServerError, `{}`, KindUnknown},
		{"418", http.StatusTeapot, `{}`, KindUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec, _, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))

			_, err := exec.Do(context.Background(), Descriptor{Path: "/x", Options: OptNoAuth})
			assert.True(t, IsKind(err, tc.kind), "expected %v, got %v", tc.kind, err)
		})
	}
}

func TestExecutorBadRequestRefinement(t *testing.T) {
	detail := func(path, typ string) string {
		return fmt.Sprintf(`{"name":"ValidationError","details":[{"path":%q,"type":%q}]}`, path, typ)
	}

	tests := []struct {
		name string
		body string
		kind Kind
	}{
		{"invalid email", detail("payload.email", "string.email"), KindInvalidEmail},
		{"taken email", detail("payload.email", "unique"), KindTakenEmail},
		{"taken username", detail("payload.username", "unique"), KindTakenUsername},
		{"short password", detail("payload.password", "string.min"), KindWeakPassword},
		{"weak password", detail("payload.password", "string.password"), KindWeakPassword},
		{"reserved username", detail("username", "reserved"), KindReservedUsername},
		{"unrecognized path", detail("payload.age", "number.min"), KindBadRequest},
		{"unrecognized type", detail("payload.email", "something.new"), KindBadRequest},
		{"not a validation error", `{"name":"OtherError"}`, KindBadRequest},
		{"empty details", `{"name":"ValidationError","details":[]}`, KindBadRequest},
		{"non-json body", `oops`, KindBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec, _, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(tc.body))
			}))

			_, err := exec.Do(context.Background(), Descriptor{
				Path:    "/users",
				Method:  http.MethodPost,
				Options: OptNoAuth,
			})
			assert.True(t, IsKind(err, tc.kind), "expected %v, got %v", tc.kind, err)
		})
	}
}

func TestExecutorOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	exec := NewExecutor(url, store.NewMemory(), nil, testLogger(t))
	_, err := exec.Do(context.Background(), Descriptor{Path: "/x", Options: OptNoAuth})
	assert.True(t, IsKind(err, KindOffline), "connection refused must classify as offline, got %v", err)
}

func TestExecutorStoresTokenHeader(t *testing.T) {
	exec, st, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-jwt", "issued-token")
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("stored when flagged", func(t *testing.T) {
		_, err := exec.Do(context.Background(), Descriptor{Path: "/jwt/authorize", Options: OptNoAuth | OptStoreToken})
		require.NoError(t, err)
		assert.Equal(t, "issued-token", st.Get(store.KeyJWT))
	})

	t.Run("ignored without flag", func(t *testing.T) {
		st.Clear()
		_, err := exec.Do(context.Background(), Descriptor{Path: "/other", Options: OptNoAuth})
		require.NoError(t, err)
		assert.Empty(t, st.Get(store.KeyJWT))
	})
}

func TestExecutorStoresCookies(t *testing.T) {
	exec, st, _ := newTestExecutor(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "fresh", Path: "/"})
		w.WriteHeader(http.StatusOK)
	}))
	st.Set(store.KeyCookies, store.EncodeCookies([]store.Cookie{{Name: "sid", Value: "old"}, {Name: "extra", Value: "gone"}}))

	_, err := exec.Do(context.Background(), Descriptor{Path: "/login", Options: OptNoAuth | OptStoreCookies})
	require.NoError(t, err)

	// The stored set is replaced wholesale, not merged.
	cookies := store.DecodeCookies(st.Get(store.KeyCookies))
	require.Len(t, cookies, 1)
	assert.Equal(t, "sid", cookies[0].Name)
	assert.Equal(t, "fresh", cookies[0].Value)
}
