// ABOUTME: HTTP fetch helper shared by the catalog and the installer
// ABOUTME: Retries transient failures with exponential backoff and treats 4xx responses as permanent

package plugins

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxDownloadSize caps catalog documents and plugin archives.
const maxDownloadSize = 64 << 20

// retryInitialInterval is the first backoff delay; tests shorten it.
var retryInitialInterval = 200 * time.Millisecond

type fetcher struct {
	client     *http.Client
	maxRetries uint64
	logger     *slog.Logger
}

// get fetches url and returns the whole body. Errors wrap ErrDownload.
func (f fetcher) get(ctx context.Context, url string) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, f.maxRetries), ctx)

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("GET %s: %s", url, resp.Status))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GET %s: %s", url, resp.Status)
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
		if err != nil {
			return err
		}
		if len(data) > maxDownloadSize {
			return backoff.Permanent(fmt.Errorf("GET %s: response exceeds %d bytes", url, maxDownloadSize))
		}
		body = data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Warn("fetch failed, retrying", "url", url, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	return body, nil
}
