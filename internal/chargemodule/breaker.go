package chargemodule

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnavailable is returned without calling the remote while the breaker is open.
var ErrUnavailable = errors.New("charge module unavailable: circuit breaker open")

type breakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenFor          time.Duration
	HalfOpenRequests uint32
}

type breaker struct {
	cb  *gobreaker.CircuitBreaker
	log *zap.Logger
}

func newBreaker(cfg breakerConfig, log *zap.Logger) *breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// 4xx replies are caller errors and must not open the circuit.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var herr *HTTPError
			return errors.As(err, &herr) && herr.StatusCode < 500
		},
	}
	return &breaker{cb: gobreaker.NewCircuitBreaker(settings), log: log}
}

func (b *breaker) execute(fn func() ([]byte, error)) ([]byte, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrUnavailable
	}
	if err != nil {
		return nil, err
	}
	body, _ := out.([]byte)
	return body, nil
}

func (b *breaker) state() gobreaker.State {
	return b.cb.State()
}
