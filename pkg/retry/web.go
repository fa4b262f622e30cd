package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/time/rate"
)

// WebRetrier retries HTTP requests that fail with a 5xx status, a connect
// error, or a timeout. It also enforces a token-bucket limit on the rate
// of outbound calls via golang.org/x/time/rate — a distinct
// concern from the exponential backoff applied *between* retries of a
// single request.
type WebRetrier struct {
	retrier *Retrier
	limiter *rate.Limiter
	client  *http.Client
}

// NewWebRetrier builds a WebRetrier over client (http.DefaultClient if
// nil), allowing bursts of up to burst requests, with the bucket refilling
// at ratePerSecond.
func NewWebRetrier(client *http.Client, ratePerSecond float64, burst int) *WebRetrier {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebRetrier{
		retrier: New(isWebRetriable),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		client:  client,
	}
}

// Do performs req, retrying per the configured policy. req.Body, if any,
// must support GetBody for the request to be safely replayed.
func (w *WebRetrier) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := w.retrier.Do(ctx, func() error {
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		attempt := req
		if req.Body != nil && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			clone := req.Clone(ctx)
			clone.Body = body
			attempt = clone
		}
		r, err := w.client.Do(attempt)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			r.Body.Close()
			return &serverError{status: r.StatusCode}
		}
		resp = r
		return nil
	})
	return resp, err
}

// isWebRetriable reports whether err is a connect error, a timeout, or a
// 5xx response — the three conditions §4.G names for WebRetrier.
func isWebRetriable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var webErr *serverError
	return errors.As(err, &webErr)
}

type serverError struct {
	status int
}

func (e *serverError) Error() string { return fmt.Sprintf("web: server error %d", e.status) }

// TimedOutError is the SMB transient-timeout condition §4.G calls out as
// retriable independent of the generic web path.
type TimedOutError struct {
	Op string
}

func (e *TimedOutError) Error() string { return fmt.Sprintf("smb: %s timed out", e.Op) }

// SMBRetrier retries only TimedOutError, using the default exponential
// backoff policy.
func SMBRetrier() *Retrier {
	return New(func(err error) bool {
		var t *TimedOutError
		return errors.As(err, &t)
	})
}
