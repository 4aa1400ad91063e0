package ingest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/radiance-data/radiancefleet/internal/httputil"
	"github.com/radiance-data/radiancefleet/internal/monitoring"
	"github.com/radiance-data/radiancefleet/internal/timeutil"
)

// backoffSchedule is the wait between retries on 429/5xx/transport errors.
var backoffSchedule = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}

// FeedError is the structured failure returned after retries are exhausted.
// Pipeline steps decide whether it is fatal.
type FeedError struct {
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *FeedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("feed %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("feed %s failed after %d attempts: status %d", e.URL, e.Attempts, e.Status)
}

func (e *FeedError) Unwrap() error { return e.Err }

// fetchWithRetry issues the request built by build, retrying on 429 (honoring
// Retry-After), 5xx, and transport errors per the backoff schedule. A 401
// invalidates the token via refresh and retries once; a second 401 fails.
// The returned response's body is the caller's to close.
func fetchWithRetry(ctx context.Context, client httputil.HTTPClient, clock timeutil.Clock,
	build func() (*http.Request, error), refresh func() error) (*http.Response, error) {

	var url string
	refreshed := false

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		url = req.URL.String()
		req = req.WithContext(ctx)

		resp, err := client.Do(req)
		if err == nil {
			switch {
			case resp.StatusCode == http.StatusUnauthorized && refresh != nil && !refreshed:
				httputil.DrainAndClose(resp)
				refreshed = true
				if rerr := refresh(); rerr != nil {
					return nil, &FeedError{URL: url, Status: resp.StatusCode, Attempts: attempt + 1, Err: rerr}
				}
				continue
			case resp.StatusCode == http.StatusTooManyRequests:
				wait, ok := httputil.RetryAfter(resp)
				httputil.DrainAndClose(resp)
				if attempt >= len(backoffSchedule) {
					return nil, &FeedError{URL: url, Status: http.StatusTooManyRequests, Attempts: attempt + 1}
				}
				if !ok {
					wait = backoffSchedule[attempt]
				}
				monitoring.Logf("ingest: %s rate limited, waiting %s", url, wait)
				clock.Sleep(wait)
				continue
			case resp.StatusCode >= 500:
				httputil.DrainAndClose(resp)
				if attempt >= len(backoffSchedule) {
					return nil, &FeedError{URL: url, Status: resp.StatusCode, Attempts: attempt + 1}
				}
				monitoring.Logf("ingest: %s returned %d, retrying in %s", url, resp.StatusCode, backoffSchedule[attempt])
				clock.Sleep(backoffSchedule[attempt])
				continue
			default:
				return resp, nil
			}
		}

		if attempt >= len(backoffSchedule) {
			return nil, &FeedError{URL: url, Attempts: attempt + 1, Err: err}
		}
		monitoring.Logf("ingest: %s transport error (%v), retrying in %s", url, err, backoffSchedule[attempt])
		clock.Sleep(backoffSchedule[attempt])
	}
}
