package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posix4e/tdx-trust-gateway/internal/attestcache"
	"github.com/posix4e/tdx-trust-gateway/internal/chain"
	"github.com/posix4e/tdx-trust-gateway/internal/registration"
)

func TestHandleProxy_ForwardsWhenVerified(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/widgets", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	store := registration.NewStore()
	require.NoError(t, store.Put(registration.Registration{
		ID:              "app-1",
		ImageRepository: "example/app",
		AppEndpoint:     upstream.URL,
	}))

	cache := attestcache.New(4, time.Minute, func(ctx context.Context, appID string) chain.Result {
		return chain.Result{Outcome: chain.OutcomeSuccess}
	})

	router := NewRouter(store, cache, NewClient(5*time.Second))
	mux := chi.NewRouter()
	router.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/app-1/widgets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-TDX-Verified"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestHandleProxy_ForbiddenWhenUnverified(t *testing.T) {
	store := registration.NewStore()
	require.NoError(t, store.Put(registration.Registration{
		ID:              "app-1",
		ImageRepository: "example/app",
		AppEndpoint:     "http://127.0.0.1:1",
	}))

	cache := attestcache.New(4, time.Minute, func(ctx context.Context, appID string) chain.Result {
		return chain.Result{Outcome: chain.OutcomeFailed}
	})

	router := NewRouter(store, cache, NewClient(5*time.Second))
	mux := chi.NewRouter()
	router.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/app-1/widgets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"outcome":"failed"`)
	assert.Contains(t, body, `"dcap"`)
	assert.Contains(t, body, `"provenance"`)
	assert.Contains(t, body, `"measurements"`)
}

func TestHandleProxy_UpstreamTimeoutMapsTo502(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	store := registration.NewStore()
	require.NoError(t, store.Put(registration.Registration{
		ID:              "app-1",
		ImageRepository: "example/app",
		AppEndpoint:     slow.URL,
	}))

	cache := attestcache.New(4, time.Minute, func(ctx context.Context, appID string) chain.Result {
		return chain.Result{Outcome: chain.OutcomeSuccess}
	})

	router := NewRouter(store, cache, NewClient(1*time.Millisecond))
	mux := chi.NewRouter()
	router.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/app-1/widgets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), `"target"`)
}

func TestHandleProxy_UnknownApp(t *testing.T) {
	store := registration.NewStore()
	cache := attestcache.New(4, time.Minute, func(ctx context.Context, appID string) chain.Result {
		return chain.Result{Outcome: chain.OutcomeSuccess}
	})

	router := NewRouter(store, cache, NewClient(5*time.Second))
	mux := chi.NewRouter()
	router.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/unknown/widgets", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleStatus_ReportsCacheState(t *testing.T) {
	store := registration.NewStore()
	require.NoError(t, store.Put(registration.Registration{
		ID:              "app-1",
		ImageRepository: "example/app",
		AppEndpoint:     "http://127.0.0.1:1",
	}))
	cache := attestcache.New(4, time.Minute, func(ctx context.Context, appID string) chain.Result {
		return chain.Result{Outcome: chain.OutcomeSuccess}
	})
	cache.Put("app-1", chain.Result{Outcome: chain.OutcomeSuccess})

	router := NewRouter(store, cache, NewClient(5*time.Second))
	mux := chi.NewRouter()
	router.Mount(mux)

	req := httptest.NewRequest(http.MethodGet, "/app-1/_status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cached":true`)
}
