package telegram

import (
	"net"
	"net/http"
	"time"

	"quotabot/core/telegram/netutil"
)

// newHTTPClient returns the client handed to telebot. The Bot API sits
// behind a single host, so the pool stays small; transient dial and
// timeout errors are retried at the transport level with linear backoff.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &retryTransport{
			next: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          32,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 5 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
			retries: 3,
			backoff: 2 * time.Second,
		},
	}
}

type retryTransport struct {
	next    http.RoundTripper
	retries int
	backoff time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		out, err := t.rewind(req, attempt)
		if err != nil {
			// Body already consumed and not replayable; surface the
			// failure that made us retry in the first place.
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		resp, err := t.next.RoundTrip(out)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt >= t.retries || !netutil.ShouldRetry(err) {
			return nil, lastErr
		}
		if err := sleepCtx(req, t.backoff*time.Duration(attempt+1)); err != nil {
			return nil, err
		}
	}
}

// rewind returns the request to send for the given attempt. Retries need
// a fresh body, which only requests carrying GetBody can provide.
func (t *retryTransport) rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 {
		return req, nil
	}
	clone := req.Clone(req.Context())
	if req.Body == nil {
		return clone, nil
	}
	if req.GetBody == nil {
		return nil, http.ErrBodyReadAfterClose
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	clone.Body = body
	return clone, nil
}

func sleepCtx(req *http.Request, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}
