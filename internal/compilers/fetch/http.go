package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Option configures a fetcher.
type Option func(*options)

type options struct {
	httpClient *http.Client
	validate   Validator
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithValidator runs v on each downloaded binary before it is committed.
func WithValidator(v Validator) Option {
	return func(o *options) {
		o.validate = v
	}
}

func newOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// get issues a GET request and returns the body of a 200 response.
func get(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrFetch, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s: status %d", ErrFetch, url, resp.StatusCode)
	}
	return resp.Body, nil
}
