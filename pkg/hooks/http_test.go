package hooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPNotifier_Success(t *testing.T) {
	t.Parallel()

	var gotHook, gotForwarded, gotIdempotency string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHook = r.Header.Get("Hook-Name")
		gotForwarded = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewHTTPNotifier([]string{server.URL}, []string{"Authorization"}, time.Second)
	event := &Event{
		Hook:     PreCreate,
		UploadID: "abc",
		Payload:  []byte(`{"upload":{}}`),
		Headers: http.Header{
			"Authorization": {"Bearer token"},
			"X-Secret":      {"do-not-forward"},
		},
	}
	require.NoError(t, notifier.Send(context.Background(), event))

	assert.Equal(t, "pre-create", gotHook)
	assert.Equal(t, "Bearer token", gotForwarded)
	assert.NotEmpty(t, gotIdempotency)
	assert.Equal(t, `{"upload":{}}`, string(gotBody))
}

func TestHTTPNotifier_Non2xxRejects(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer server.Close()

	notifier := NewHTTPNotifier([]string{server.URL}, nil, time.Second)
	err := notifier.Send(context.Background(), execEvent(PreCreate, "{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestHTTPNotifier_AllURLsCalled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	first := httptest.NewServer(handler)
	defer first.Close()
	second := httptest.NewServer(handler)
	defer second.Close()

	notifier := NewHTTPNotifier([]string{first.URL, second.URL}, nil, time.Second)
	require.NoError(t, notifier.Send(context.Background(), execEvent(PostFinish, "{}")))
	assert.Equal(t, int64(2), calls.Load())
}

func TestHTTPNotifier_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer server.Close()

	notifier := NewHTTPNotifier([]string{server.URL}, nil, 100*time.Millisecond)
	start := time.Now()
	err := notifier.Send(context.Background(), execEvent(PreCreate, "{}"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
}
