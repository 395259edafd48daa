package transport

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Options configures a resty client shared by the outbound integrations.
type Options struct {
	BaseURL  string
	Timeout  time.Duration
	Attempts int                      // total tries per request, including the first
	Delay    time.Duration            // fixed wait between tries
	RetryIf  resty.RetryConditionFunc // defaults to Retryable
}

// NewClient returns a resty client with a bounded, fixed-delay retry policy.
// Network errors, 429 and 5xx responses are retried; other statuses are
// returned to the caller as-is.
func NewClient(opts Options) *resty.Client {
	client := resty.New()
	if opts.BaseURL != "" {
		client.SetBaseURL(opts.BaseURL)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	if opts.Attempts > 1 {
		delay := opts.Delay
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		retryIf := opts.RetryIf
		if retryIf == nil {
			retryIf = Retryable
		}
		// equal min and max wait disables resty's exponential growth
		client.SetRetryCount(opts.Attempts - 1).
			SetRetryWaitTime(delay).
			SetRetryMaxWaitTime(delay).
			AddRetryCondition(retryIf)
	}
	return client
}

// Retryable reports whether a response or error is worth another attempt.
func Retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
