package modeladapter

import (
	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/tools/toolbox"
)

// perMessageOverhead is the estimated token overhead for each message (role,
// structure delimiters, etc.).
const perMessageOverhead = 4

// perToolOverhead is the estimated token overhead for each tool definition
// (JSON wrapping, function object structure, etc.).
const perToolOverhead = 10

// TokenEstimator estimates token counts for requests using a
// character-to-token heuristic (about 1 token per 4 characters of English
// text, plus overhead for JSON structure). The zero value is ready to use.
type TokenEstimator struct{}

// charsToTokens converts a character count to an estimated token count using the
// 1-token-per-4-characters heuristic.
func charsToTokens(chars int) int {
	return (chars + 3) / 4 // round up
}

// EstimateMessages estimates the input tokens of a system prompt followed by
// a conversation.
func (e *TokenEstimator) EstimateMessages(systemPrompt string, msgs []message.Message) int {
	tokens := 0

	if systemPrompt != "" {
		tokens += charsToTokens(len(systemPrompt)) + perMessageOverhead
	}

	for _, m := range msgs {
		tokens += perMessageOverhead

		for _, p := range m.Parts {
			switch v := p.(type) {
			case content.Text:
				tokens += charsToTokens(len(v.Text))
			case content.ToolCall:
				tokens += charsToTokens(len(v.ID) + len(v.Name) + len(v.Input))
			case content.ToolResult:
				tokens += charsToTokens(len(v.ToolCallID) + len(v.Text()))
			}
		}
	}

	return tokens
}

// EstimateTools estimates the token cost of tool definitions. For each tool it
// sums the name, description, and serialized input schema, then applies the
// character-to-token heuristic plus a per-tool structural overhead.
func (e *TokenEstimator) EstimateTools(defs []toolbox.Definition) int {
	tokens := 0

	for _, d := range defs {
		chars := len(d.Name) + len(d.Description) + len(d.InputSchema)
		tokens += charsToTokens(chars) + perToolOverhead
	}

	return tokens
}

// EstimateRequest estimates the total input tokens of a request.
func (e *TokenEstimator) EstimateRequest(req Request) int {
	return e.EstimateMessages(req.SystemPrompt, req.Messages) + e.EstimateTools(req.Tools)
}
