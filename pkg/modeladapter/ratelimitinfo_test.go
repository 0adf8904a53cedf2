package modeladapter_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quotaNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type headerFamily struct {
	name              string
	parse             modeladapter.RateLimitHeaderParser
	requestsRemaining string
	tokensRemaining   string
	requestsReset     string
	tokensReset       string
}

var headerFamilies = []headerFamily{
	{
		name:              "anthropic",
		parse:             modeladapter.ParseAnthropicRateLimitHeaders,
		requestsRemaining: "anthropic-ratelimit-requests-remaining",
		tokensRemaining:   "anthropic-ratelimit-tokens-remaining",
		requestsReset:     "anthropic-ratelimit-requests-reset",
		tokensReset:       "anthropic-ratelimit-tokens-reset",
	},
	{
		name:              "openai",
		parse:             modeladapter.ParseOpenAIRateLimitHeaders,
		requestsRemaining: "x-ratelimit-remaining-requests",
		tokensRemaining:   "x-ratelimit-remaining-tokens",
		requestsReset:     "x-ratelimit-reset-requests",
		tokensReset:       "x-ratelimit-reset-tokens",
	},
}

func TestParseRateLimitHeaders_AllHeaders(t *testing.T) {
	reset := quotaNow.Add(30 * time.Second)

	for _, f := range headerFamilies {
		t.Run(f.name, func(t *testing.T) {
			h := http.Header{}
			h.Set(f.requestsRemaining, "5")
			h.Set(f.tokensRemaining, "1000")
			h.Set(f.requestsReset, reset.Format(time.RFC3339))
			h.Set(f.tokensReset, "1m30s")

			info := f.parse(h, quotaNow)
			require.NotNil(t, info)
			assert.Equal(t, 5, info.RemainingRequests)
			assert.Equal(t, 1000, info.RemainingTokens)
			assert.Equal(t, reset, info.RequestsReset)
			assert.Equal(t, quotaNow.Add(90*time.Second), info.TokensReset)
		})
	}
}

func TestParseRateLimitHeaders_Partial(t *testing.T) {
	for _, f := range headerFamilies {
		t.Run(f.name, func(t *testing.T) {
			h := http.Header{}
			h.Set(f.tokensRemaining, "100")
			h.Set(f.requestsReset, "not a time")

			info := f.parse(h, quotaNow)
			require.NotNil(t, info)
			assert.Equal(t, 0, info.RemainingRequests)
			assert.Equal(t, 100, info.RemainingTokens)
			assert.True(t, info.RequestsReset.IsZero())
			assert.True(t, info.TokensReset.IsZero())
		})
	}
}

func TestParseRateLimitHeaders_None(t *testing.T) {
	for _, f := range headerFamilies {
		t.Run(f.name, func(t *testing.T) {
			h := http.Header{}
			h.Set(f.requestsReset, "30s")
			assert.Nil(t, f.parse(h, quotaNow))
		})
	}
}

func TestParseRateLimitHeaders_OtherFamilyIgnored(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-remaining-requests", "1")
	assert.Nil(t, modeladapter.ParseAnthropicRateLimitHeaders(h, quotaNow))
}

func TestRateLimitInfo_ResumeAt(t *testing.T) {
	soon := quotaNow.Add(10 * time.Second)
	later := quotaNow.Add(40 * time.Second)

	tests := []struct {
		name string
		info *modeladapter.RateLimitInfo
		want time.Time
	}{
		{"nil", nil, time.Time{}},
		{"plenty left", &modeladapter.RateLimitInfo{RemainingRequests: 50, RemainingTokens: 9000, RequestsReset: soon, TokensReset: soon}, time.Time{}},
		{"requests spent", &modeladapter.RateLimitInfo{RemainingRequests: 1, RemainingTokens: 9000, RequestsReset: soon, TokensReset: later}, soon},
		{"tokens spent", &modeladapter.RateLimitInfo{RemainingRequests: 50, RemainingTokens: 0, RequestsReset: soon, TokensReset: later}, later},
		{"both spent takes later", &modeladapter.RateLimitInfo{RemainingRequests: 0, RemainingTokens: 0, RequestsReset: later, TokensReset: soon}, later},
		{"reset already passed", &modeladapter.RateLimitInfo{RemainingRequests: 0, RequestsReset: quotaNow.Add(-time.Second)}, time.Time{}},
		{"no reset reported", &modeladapter.RateLimitInfo{RemainingRequests: 0}, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.ResumeAt(quotaNow))
		})
	}
}
