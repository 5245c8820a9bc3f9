package gatekeeper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kmerr "github.com/macterra/keymaster/pkg/errors"
)

// fastRetry keeps client tests quick.
func fastRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestClientVersion(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		_, _ = w.Write([]byte("1"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestClientResolveDID(t *testing.T) {
	t.Parallel()

	want := &DIDDocument{
		Document: Document{ID: "did:mdip:abc"},
		Metadata: Metadata{Version: 2, OpHash: "deadbeef"},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/did/did:mdip:abc", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(want))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	got, err := c.ResolveDID(context.Background(), "did:mdip:abc")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientResolveDIDAtTime(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, at.Format(TimeFormat), r.URL.Query().Get("atTime"))
		require.NoError(t, json.NewEncoder(w).Encode(&DIDDocument{}))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	_, err := c.ResolveDIDAtTime(context.Background(), "did:mdip:abc", at)
	require.NoError(t, err)
}

func TestClientCreateDID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/did", r.URL.Path)

		var op Operation
		require.NoError(t, json.NewDecoder(r.Body).Decode(&op))
		assert.Equal(t, OpCreate, op.Op)

		_, _ = w.Write([]byte(`{"did":"did:mdip:minted"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	did, err := c.CreateDID(context.Background(), &Operation{
		Op:   OpCreate,
		MDIP: MDIP{Version: MDIPVersion, Type: TypeAgent, Registry: RegistryPeerbit},
	})
	require.NoError(t, err)
	assert.Equal(t, "did:mdip:minted", did)
}

func TestClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "registry busy", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("1"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientRegistryUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	_, err := c.Version(context.Background())
	assert.ErrorIs(t, err, kmerr.ErrRegistryUnavailable)
}

func TestClientRejectionIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad op", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	err := c.UpdateDID(context.Background(), &Operation{Op: OpUpdate})
	assert.ErrorIs(t, err, kmerr.ErrOperationRejected)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such DID", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	_, err := c.ResolveDID(context.Background(), "did:mdip:missing")
	assert.ErrorIs(t, err, kmerr.ErrUnknownDID)
}

func TestClientTransportFailure(t *testing.T) {
	t.Parallel()

	// Point at a closed server
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, &ClientOptions{Retry: fastRetry()})
	_, err := c.Version(context.Background())
	require.Error(t, err)
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second}, func() (int, error) {
		return 0, WrapRetryable(assert.AnError)
	})
	assert.ErrorIs(t, err, context.Canceled)
}
