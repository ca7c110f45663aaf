package fetch

import (
	"math/rand"
	"net/http"
	"time"
)

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Decision is the retry verdict for one failed fetch attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// RetryPolicy decides whether a failed page fetch is worth another attempt.
// Transient statuses back off exponentially with jitter, a 429 honors the
// server's Retry-After hint when present, and any other 4xx is permanent
// because it signals a client defect rather than API overload.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter returns the random pad added to each backoff delay. Tests inject
	// a deterministic implementation.
	Jitter func() time.Duration
}

// DefaultRetryPolicy returns the production policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// Decide classifies the failure of zero-based attempt number attempt. A
// status of zero means a transport error (timeout, connection reset), which
// is treated as transient.
func (p RetryPolicy) Decide(status, attempt int, retryAfter time.Duration) Decision {
	if attempt >= p.MaxAttempts-1 {
		return Decision{}
	}

	switch {
	case status == http.StatusTooManyRequests:
		if retryAfter > 0 {
			return Decision{Retry: true, Delay: retryAfter}
		}
		return Decision{Retry: true, Delay: p.backoff(attempt)}
	case status == 0 || status >= 500:
		return Decision{Retry: true, Delay: p.backoff(attempt)}
	default:
		return Decision{}
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BaseDelay * time.Duration(1<<attempt)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d + p.jitter()
}

func (p RetryPolicy) jitter() time.Duration {
	if p.Jitter != nil {
		return p.Jitter()
	}
	return time.Duration(rand.Intn(250)) * time.Millisecond
}
