package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/smartfan/internal/coordinator"
	"github.com/sweeney/smartfan/internal/logic"
	"github.com/sweeney/smartfan/internal/status"
	"github.com/sweeney/smartfan/internal/store"
	"github.com/sweeney/smartfan/internal/web"
)

func newCoordinator(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc, err := coordinator.New(context.Background(), mem)
	require.NoError(t, err)
	srv := web.New(":0", svc, status.NewTracker(time.Now(), status.Config{}), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mem
}

func TestSubmitAndRead(t *testing.T) {
	ts, _ := newCoordinator(t)
	c := New(ts.URL + "/")
	ctx := context.Background()

	got, err := c.ReadDesired(ctx)
	require.NoError(t, err)
	assert.Equal(t, logic.StateOff, got)

	accepted, err := c.Submit(ctx, logic.StateOn, true)
	require.NoError(t, err)
	assert.Equal(t, logic.StateOn, accepted)

	got, err = c.ReadDesired(ctx)
	require.NoError(t, err)
	assert.Equal(t, logic.StateOn, got)

	events, err := c.RecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "on", events[0].State)
	assert.True(t, events[0].Detected)
}

func TestSubmitCoercedValueReturned(t *testing.T) {
	ts, _ := newCoordinator(t)
	c := New(ts.URL)

	accepted, err := c.Submit(context.Background(), logic.State("sideways"), true)
	require.NoError(t, err)
	assert.Equal(t, logic.StateOff, accepted)
}

func TestSubmitStorageErrorIsAPIError(t *testing.T) {
	ts, mem := newCoordinator(t)
	mem.SetErr(errors.New("gone"))
	c := New(ts.URL)

	_, err := c.Submit(context.Background(), logic.StateOn, true)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestSubmitTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })

	c := New(ts.URL, WithTimeout(50*time.Millisecond))
	begin := time.Now()
	_, err := c.Submit(context.Background(), logic.StateOn, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(begin), 2*time.Second)
}

func TestSubmitConnectionRefused(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := New(url).Submit(context.Background(), logic.StateOn, true)
	assert.Error(t, err)
}

func TestReadDesiredRejectsUnknownValue(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"desired":"maybe"}`)
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL).ReadDesired(context.Background())
	assert.Error(t, err)
}

func TestRequestIDHeaderSet(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(web.RequestIDHeader)
		io.WriteString(w, `{"desired":"off"}`)
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL).ReadDesired(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 36)
}

func TestAPIErrorTruncatesBody(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write(long)
	}))
	t.Cleanup(ts.Close)

	_, err := New(ts.URL).ReadDesired(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Len(t, apiErr.Body, 512)
}
