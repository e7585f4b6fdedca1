package app

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// clientError is an upstream answer that blames the request, not the upstream.
type clientError struct {
	msg string
}

func (e *clientError) Error() string { return e.msg }

// healthy reports whether err leaves the upstream in good standing.
func healthy(err error) bool {
	if err == nil {
		return true
	}
	var ce *clientError
	if errors.As(err, &ce) {
		return true
	}
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument:
		return true
	}
	return false
}

// NewBreaker opens after failures consecutive upstream failures and probes
// again after openFor.
func NewBreaker(name string, failures uint32, openFor time.Duration, log *zap.Logger) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 1
	}
	if openFor <= 0 {
		openFor = 10 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: healthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if log != nil {
				log.Warn("breaker state change",
					zap.String("upstream", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			}
		},
	})
}
