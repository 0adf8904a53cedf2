package modeladapter

import (
	"context"
	"sync"
	"time"

	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
)

var _ Completer = (*RateLimitedCompleter)(nil)

type tokenEntry struct {
	timestamp    time.Time
	inputTokens  int
	outputTokens int
}

// RateLimitedCompleter wraps a Completer with proactive TPM/RPM-based
// throttling. Requests wait for capacity in a one-minute sliding window and,
// after a call, for the provider's reset time when response headers report
// that capacity is nearly spent. It never retries; a 429 from the inner
// completer is returned to the caller.
type RateLimitedCompleter struct {
	inner           Completer
	mu              sync.Mutex
	window          []tokenEntry
	inputTPM        int // input tokens-per-minute limit (0 = no limit)
	outputTPM       int // output tokens-per-minute limit (0 = no limit)
	rpm             int // requests-per-minute limit (0 = no limit)
	estimator       TokenEstimator
	fallbackTracker usage.Tracker // stable fallback tracker when inner lacks UsageReporter

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// RateLimitOpts configures the RateLimitedCompleter.
type RateLimitOpts struct {
	InputTPM  int // Input tokens per minute (0 = no limit).
	OutputTPM int // Output tokens per minute (0 = no limit).
	RPM       int // Requests per minute (0 = no limit).
}

// Enabled reports whether any limit is set.
func (o RateLimitOpts) Enabled() bool {
	return o.InputTPM > 0 || o.OutputTPM > 0 || o.RPM > 0
}

// NewRateLimitedCompleter wraps a Completer with rate limiting.
func NewRateLimitedCompleter(inner Completer, opts RateLimitOpts) *RateLimitedCompleter {
	return &RateLimitedCompleter{
		inner:     inner,
		inputTPM:  opts.InputTPM,
		outputTPM: opts.OutputTPM,
		rpm:       opts.RPM,
		nowFunc:   time.Now,
		sleepFunc: contextSleep,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *RateLimitedCompleter) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (r *RateLimitedCompleter) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pruneWindow removes entries older than 1 minute. Must be called with mu held.
func (r *RateLimitedCompleter) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.window) && !r.window[i].timestamp.After(cutoff) {
		i++
	}
	if i > 0 {
		r.window = append(r.window[:0:0], r.window[i:]...)
	}
}

// windowTotals returns the sum of input and output tokens in the current window.
// Must be called with mu held.
func (r *RateLimitedCompleter) windowTotals() (inputTotal, outputTotal int) {
	for _, e := range r.window {
		inputTotal += e.inputTokens
		outputTotal += e.outputTokens
	}
	return inputTotal, outputTotal
}

// waitForCapacity blocks until there is capacity in both TPM and RPM windows.
func (r *RateLimitedCompleter) waitForCapacity(ctx context.Context) error {
	if r.inputTPM <= 0 && r.outputTPM <= 0 && r.rpm <= 0 {
		return nil
	}

	for {
		r.mu.Lock()
		now := r.nowFunc()
		r.pruneWindow(now)
		inputTotal, outputTotal := r.windowTotals()

		inputOK := r.inputTPM <= 0 || inputTotal < r.inputTPM
		outputOK := r.outputTPM <= 0 || outputTotal < r.outputTPM
		rpmOK := r.rpm <= 0 || len(r.window) < r.rpm

		if inputOK && outputOK && rpmOK {
			r.mu.Unlock()
			return nil
		}

		// Find when the oldest entry expires to free capacity.
		var waitDur time.Duration
		if len(r.window) > 0 {
			waitDur = max(r.window[0].timestamp.Add(time.Minute).Sub(now), 0)
		}
		r.mu.Unlock()

		const minWait = 10 * time.Millisecond
		if waitDur < minWait {
			waitDur = minWait
		}

		if err := r.sleepFunc(ctx, waitDur); err != nil {
			return err
		}
	}
}

// recordTokens adds a token entry to the sliding window.
func (r *RateLimitedCompleter) recordTokens(tc usage.TokenCount) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.window = append(r.window, tokenEntry{
		timestamp:    r.nowFunc(),
		inputTokens:  tc.InputTokens,
		outputTokens: tc.OutputTokens,
	})
}

// Complete implements Completer with proactive TPM/RPM throttling. Backends
// that report no usage are charged an estimate of the request's input tokens.
func (r *RateLimitedCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	if err := r.waitForCapacity(ctx); err != nil {
		return Response{}, err
	}

	resp, err := r.inner.Complete(ctx, req)
	if err != nil {
		r.recordTokens(usage.TokenCount{})
		return Response{}, err
	}

	tc := resp.Usage
	if tc.Total() == 0 {
		tc.InputTokens = r.estimator.EstimateRequest(req)
	}
	r.recordTokens(tc)

	if err := r.adaptFromServerInfo(ctx); err != nil {
		return Response{}, err
	}

	return resp, nil
}

// adaptFromServerInfo sleeps until the backend's reset time when its last
// response reported nearly exhausted quota.
func (r *RateLimitedCompleter) adaptFromServerInfo(ctx context.Context) error {
	reporter, ok := r.inner.(RateLimitInfoReporter)
	if !ok {
		return nil
	}

	now := r.nowFunc()
	resume := reporter.LastRateLimitInfo().ResumeAt(now)
	if resume.IsZero() {
		return nil
	}

	return r.sleepFunc(ctx, resume.Sub(now))
}

// UsageTracker forwards to the inner completer if it implements UsageReporter.
func (r *RateLimitedCompleter) UsageTracker() *usage.Tracker {
	if ur, ok := r.inner.(UsageReporter); ok {
		return ur.UsageTracker()
	}
	return &r.fallbackTracker
}

// ModelMaxTokens forwards to the inner completer if it implements UsageReporter.
func (r *RateLimitedCompleter) ModelMaxTokens() int {
	if ur, ok := r.inner.(UsageReporter); ok {
		return ur.ModelMaxTokens()
	}
	return 0
}
