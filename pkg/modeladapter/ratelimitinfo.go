package modeladapter

import (
	"net/http"
	"strconv"
	"time"
)

// RateLimitInfo is the backend's view of the caller's remaining quota, as
// reported on its last response.
type RateLimitInfo struct {
	RemainingRequests int
	RemainingTokens   int
	RequestsReset     time.Time
	TokensReset       time.Time
}

// ResumeAt returns when the next request should be sent. It is the latest
// reset time of any quota with at most one unit left, or the zero time when
// nothing is close to exhaustion or every reset has already passed.
func (i *RateLimitInfo) ResumeAt(now time.Time) time.Time {
	var at time.Time
	if i == nil {
		return at
	}

	if i.RemainingRequests <= 1 && i.RequestsReset.After(now) {
		at = i.RequestsReset
	}
	if i.RemainingTokens <= 1 && i.TokensReset.After(now) && i.TokensReset.After(at) {
		at = i.TokensReset
	}
	return at
}

// RateLimitInfoReporter provides the most recently observed rate limit info
// from a backend's response headers.
type RateLimitInfoReporter interface {
	LastRateLimitInfo() *RateLimitInfo
}

// RateLimitHeaderParser extracts rate limit info from HTTP response headers.
// It receives the current time so callers can control the clock in tests.
type RateLimitHeaderParser func(h http.Header, now time.Time) *RateLimitInfo

// rateLimitHeaders names the four headers a backend family uses.
type rateLimitHeaders struct {
	requestsRemaining string
	tokensRemaining   string
	requestsReset     string
	tokensReset       string
}

var (
	anthropicHeaders = rateLimitHeaders{
		requestsRemaining: "anthropic-ratelimit-requests-remaining",
		tokensRemaining:   "anthropic-ratelimit-tokens-remaining",
		requestsReset:     "anthropic-ratelimit-requests-reset",
		tokensReset:       "anthropic-ratelimit-tokens-reset",
	}
	openAIHeaders = rateLimitHeaders{
		requestsRemaining: "x-ratelimit-remaining-requests",
		tokensRemaining:   "x-ratelimit-remaining-tokens",
		requestsReset:     "x-ratelimit-reset-requests",
		tokensReset:       "x-ratelimit-reset-tokens",
	}
)

// ParseAnthropicRateLimitHeaders parses anthropic-ratelimit-* headers.
func ParseAnthropicRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	return anthropicHeaders.parse(h, now)
}

// ParseOpenAIRateLimitHeaders parses x-ratelimit-* headers, which Grok and
// other OpenAI-compatible backends also send.
func ParseOpenAIRateLimitHeaders(h http.Header, now time.Time) *RateLimitInfo {
	return openAIHeaders.parse(h, now)
}

func (n rateLimitHeaders) parse(h http.Header, now time.Time) *RateLimitInfo {
	reqRemaining := h.Get(n.requestsRemaining)
	tokRemaining := h.Get(n.tokensRemaining)
	if reqRemaining == "" && tokRemaining == "" {
		return nil
	}

	info := &RateLimitInfo{
		RequestsReset: parseResetTime(h.Get(n.requestsReset), now),
		TokensReset:   parseResetTime(h.Get(n.tokensReset), now),
	}
	if v, err := strconv.Atoi(reqRemaining); err == nil {
		info.RemainingRequests = v
	}
	if v, err := strconv.Atoi(tokRemaining); err == nil {
		info.RemainingTokens = v
	}
	return info
}

// parseResetTime accepts an RFC 3339 timestamp or a duration such as "6s"
// relative to now. Anything else is the zero time.
func parseResetTime(val string, now time.Time) time.Time {
	if val == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return t
	}
	if d, err := time.ParseDuration(val); err == nil {
		return now.Add(d)
	}
	return time.Time{}
}
