package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitegate/internal/apiclient"
)

// Config configures caller-side retries with exponential backoff
type Config struct {
	MaxRetries int           `json:"max_retries"` // retries after the first attempt
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Multiplier float64       `json:"multiplier"`
	Jitter     bool          `json:"jitter"` // +/-10% random jitter

	// Retryable decides whether a failed attempt is worth repeating.
	// Nil retries every error.
	Retryable func(error) bool `json:"-"`
}

// Result describes how an operation went
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	RetryReasons  []string      `json:"retry_reasons"`
}

// DefaultConfig returns the retry policy used for API reads
func DefaultConfig() Config {
	return Config{
		MaxRetries: 2,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		Retryable:  IsRetryableError,
	}
}

// Run executes operation until it succeeds, returns a non-retryable error,
// runs out of attempts or ctx is done. logger may be nil.
func Run(ctx context.Context, config Config, operation func(ctx context.Context) error, logger *zerolog.Logger) Result {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	startTime := time.Now()
	result := Result{RetryReasons: make([]string, 0)}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		err := operation(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if attempt > 0 {
				logger.Debug().Int("retries", attempt).Dur("duration", result.TotalDuration).Msg("Operation succeeded after retry")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason(err))

		if config.Retryable != nil && !config.Retryable(err) {
			result.TotalDuration = time.Since(startTime)
			logger.Debug().Err(err).Msg("Operation failed with non-retryable error")
			return result
		}

		if attempt >= config.MaxRetries {
			result.TotalDuration = time.Since(startTime)
			logger.Warn().Err(err).Int("attempts", result.Attempts).Dur("duration", result.TotalDuration).Msg("Operation failed, retries exhausted")
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(config, attempt)
		logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("Operation failed, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// Do is Run for operations that produce a value
func Do[T any](ctx context.Context, config Config, operation func(ctx context.Context) (T, error), logger *zerolog.Logger) (T, Result) {
	var value T
	result := Run(ctx, config, func(ctx context.Context) error {
		v, err := operation(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	}, logger)
	return value, result
}

func reason(err error) string {
	var httpErr *apiclient.HTTPError
	var netErr *apiclient.NetworkError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &httpErr):
		return "http_" + strconv.Itoa(httpErr.Status)
	case errors.As(err, &netErr):
		return "network"
	default:
		return err.Error()
	}
}

// calculateDelay returns baseDelay * multiplier^attempt, capped at MaxDelay
func calculateDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError reports whether err is a transient transport failure or a
// throttling/gateway status
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr *apiclient.NetworkError
	if errors.As(err, &netErr) {
		return true
	}

	var httpErr *apiclient.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	return errors.Is(err, context.DeadlineExceeded)
}
