package ingest

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiance-data/radiancefleet/internal/httputil"
	"github.com/radiance-data/radiancefleet/internal/timeutil"
)

func buildGet(url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, url, nil)
	}
}

func TestFetchWithRetrySucceedsAfter5xx(t *testing.T) {
	client := httputil.NewMockHTTPClient().
		AddResponse(http.StatusBadGateway, "").
		AddResponse(http.StatusOK, "payload")
	clock := timeutil.NewFakeClock(time.Now())

	resp, err := fetchWithRetry(context.Background(), client, clock,
		buildGet("https://example.test/feed"), nil)
	require.NoError(t, err)
	defer httputil.DrainAndClose(resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, clock.Sleeps, 1)
	assert.Equal(t, 5*time.Second, clock.Sleeps[0])
}

func TestFetchWithRetryHonorsRetryAfter(t *testing.T) {
	client := httputil.NewMockHTTPClient().
		AddResponseWithHeader(http.StatusTooManyRequests, "", "Retry-After", "12").
		AddResponse(http.StatusOK, "")
	clock := timeutil.NewFakeClock(time.Now())

	resp, err := fetchWithRetry(context.Background(), client, clock,
		buildGet("https://example.test/feed"), nil)
	require.NoError(t, err)
	httputil.DrainAndClose(resp)

	require.Len(t, clock.Sleeps, 1)
	assert.Equal(t, 12*time.Second, clock.Sleeps[0])
}

func TestFetchWithRetryExhaustsSchedule(t *testing.T) {
	client := httputil.NewMockHTTPClient()
	for i := 0; i < 4; i++ {
		client.AddResponse(http.StatusInternalServerError, "")
	}
	clock := timeutil.NewFakeClock(time.Now())

	_, err := fetchWithRetry(context.Background(), client, clock,
		buildGet("https://example.test/feed"), nil)
	require.Error(t, err)

	var fe *FeedError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusInternalServerError, fe.Status)
	assert.Equal(t, 4, fe.Attempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}, clock.Sleeps)
}

func TestFetchWithRetryRefreshesTokenOnce(t *testing.T) {
	client := httputil.NewMockHTTPClient().
		AddResponse(http.StatusUnauthorized, "").
		AddResponse(http.StatusOK, "")
	clock := timeutil.NewFakeClock(time.Now())

	refreshes := 0
	resp, err := fetchWithRetry(context.Background(), client, clock,
		buildGet("https://example.test/feed"),
		func() error { refreshes++; return nil })
	require.NoError(t, err)
	httputil.DrainAndClose(resp)
	assert.Equal(t, 1, refreshes)

	// A second 401 after refresh is terminal.
	client = httputil.NewMockHTTPClient().
		AddResponse(http.StatusUnauthorized, "").
		AddResponse(http.StatusUnauthorized, "")
	resp, err = fetchWithRetry(context.Background(), client, clock,
		buildGet("https://example.test/feed"),
		func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	httputil.DrainAndClose(resp)
}

func TestFetchWithRetryTransportErrors(t *testing.T) {
	boom := errors.New("connect refused")
	client := httputil.NewMockHTTPClient().
		AddErrorResponse(boom).
		AddErrorResponse(boom).
		AddErrorResponse(boom).
		AddErrorResponse(boom)
	clock := timeutil.NewFakeClock(time.Now())

	_, err := fetchWithRetry(context.Background(), client, clock,
		buildGet("https://example.test/feed"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
