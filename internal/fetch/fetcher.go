package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"DataHarvester/internal/domain"
	"DataHarvester/internal/metrics"
	"DataHarvester/internal/ports"
)

// PermanentFetchError terminates an extraction run: either the upstream
// answered with a client-defect status or the retry budget is exhausted.
type PermanentFetchError struct {
	Endpoint  string
	PageIndex int
	Status    int
	Err       error
}

func (e *PermanentFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("endpoint %s page %d: %v", e.Endpoint, e.PageIndex, e.Err)
	}
	return fmt.Sprintf("endpoint %s page %d: http %d", e.Endpoint, e.PageIndex, e.Status)
}

func (e *PermanentFetchError) Unwrap() error { return e.Err }

// PageRequest addresses one page of an endpoint's result set.
type PageRequest struct {
	Index  int
	Offset int
	Size   int
}

// PageFetcher issues one paginated request, gated by the shared rate limiter
// and the retry policy. Every attempt, including retries, costs one token.
type PageFetcher struct {
	requester ports.Requester
	limiter   ports.Limiter
	policy    RetryPolicy
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPageFetcher wires the shared limiter and retry policy around a
// transport-level requester.
func NewPageFetcher(requester ports.Requester, limiter ports.Limiter, policy RetryPolicy, logger *slog.Logger) *PageFetcher {
	return &PageFetcher{
		requester: requester,
		limiter:   limiter,
		policy:    policy.withDefaults(),
		logger:    logger,
		sleep:     sleepContext,
	}
}

// sleepContext waits out a backoff delay but wakes immediately on
// cancellation, so an abort never blocks behind a long Retry-After hint.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch retrieves one page for the descriptor, retrying transient failures
// per the policy. Exhausted retries and client-defect statuses surface as a
// PermanentFetchError carrying the endpoint id and page index.
func (f *PageFetcher) Fetch(ctx context.Context, desc domain.EndpointDescriptor, mapper ports.RecordMapper, req PageRequest) (domain.Page, error) {
	params := pageParams(desc, req)

	for attempt := 0; ; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return domain.Page{}, err
		}

		status := 0
		var hint time.Duration
		resp, err := f.requester.Request(ctx, http.MethodGet, desc.URL, params)
		if err == nil {
			status = resp.Status
			hint = retryAfterHint(resp.Header)
			if status == http.StatusOK {
				return f.buildPage(desc, mapper, req, resp.Body)
			}
			err = fmt.Errorf("http %d", status)
		}
		if ctx.Err() != nil {
			return domain.Page{}, ctx.Err()
		}

		decision := f.policy.Decide(status, attempt, hint)
		if !decision.Retry {
			return domain.Page{}, &PermanentFetchError{Endpoint: desc.ID, PageIndex: req.Index, Status: status, Err: err}
		}

		metrics.FetchRetries.WithLabelValues(desc.ID).Inc()
		f.debug("retrying page fetch",
			"endpoint", desc.ID, "page", req.Index, "status", status,
			"attempt", attempt+1, "delay", decision.Delay)
		if err := f.sleep(ctx, decision.Delay); err != nil {
			return domain.Page{}, err
		}
	}
}

func (f *PageFetcher) buildPage(desc domain.EndpointDescriptor, mapper ports.RecordMapper, req PageRequest, body []byte) (domain.Page, error) {
	records, meta, err := mapper.MapRaw(body)
	if err != nil {
		return domain.Page{}, &PermanentFetchError{
			Endpoint:  desc.ID,
			PageIndex: req.Index,
			Err:       fmt.Errorf("map payload: %w", err),
		}
	}

	// A page must never carry more records than were requested.
	if desc.Mode == domain.ModePaged && req.Size > 0 && len(records) > req.Size {
		return domain.Page{}, &PermanentFetchError{
			Endpoint:  desc.ID,
			PageIndex: req.Index,
			Err:       fmt.Errorf("upstream returned %d records for requested size %d", len(records), req.Size),
		}
	}

	metrics.PagesFetched.WithLabelValues(desc.ID).Inc()
	return domain.Page{
		RequestedSize: req.Size,
		Returned:      len(records),
		Records:       records,
		LastPage:      meta.LastPage,
		Signaled:      meta.Signaled,
		NextOffset:    req.Offset + len(records),
	}, nil
}

func pageParams(desc domain.EndpointDescriptor, req PageRequest) map[string]string {
	params := make(map[string]string, len(desc.Params)+2)
	for k, v := range desc.Params {
		params[k] = v
	}
	if desc.Mode != domain.ModePaged {
		return params
	}

	offsetKey := desc.OffsetParam
	if offsetKey == "" {
		offsetKey = "offset"
	}
	limitKey := desc.LimitParam
	if limitKey == "" {
		limitKey = "limit"
	}
	params[offsetKey] = strconv.Itoa(req.Offset)
	params[limitKey] = strconv.Itoa(req.Size)
	return params
}

func retryAfterHint(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func (f *PageFetcher) debug(msg string, args ...any) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
