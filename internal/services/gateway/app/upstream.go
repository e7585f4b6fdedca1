package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// Upstream is a JSON HTTP service behind a circuit breaker.
type Upstream struct {
	name    string
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewUpstream(name, base string, timeout time.Duration, breaker *gobreaker.CircuitBreaker) *Upstream {
	return &Upstream{
		name:    name,
		base:    strings.TrimRight(strings.TrimSpace(base), "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

func (u *Upstream) Name() string { return u.name }

func (u *Upstream) State() string { return u.breaker.State().String() }

// GetJSON fetches path with query and decodes the body into out.
// 4xx answers are returned as errors but do not count against the breaker.
func (u *Upstream) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if u.base == "" {
		return fmt.Errorf("%s not configured", u.name)
	}
	target := u.base + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	_, err := u.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		resp, err := u.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request: %w", u.name, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &clientError{msg: fmt.Sprintf("%s status %d", u.name, resp.StatusCode)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%s status %d", u.name, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%s decode: %w", u.name, err)
		}
		return nil, nil
	})
	return err
}
