// Package gemini provides a Completer implementation for the Google Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
	"github.com/google/uuid"
)

var _ modeladapter.Completer = (*Adapter)(nil)

// Adapter implements modeladapter.Completer for the Google Gemini API.
type Adapter struct {
	modeladapter.ModelAdapter
}

// New creates an Adapter configured for the Gemini API.
// The baseURL should be "https://generativelanguage.googleapis.com" (no trailing slash).
func New(baseURL, apiKey, model string) *Adapter {
	a := &Adapter{}
	a.BaseURL = baseURL
	a.Auth = modeladapter.Auth{
		Key:    apiKey,
		Header: "x-goog-api-key",
	}
	a.Name = model
	a.MaxTokens = 8192

	// The Gemini API does not return rate limit headers, so only proactive
	// throttling applies.

	return a
}

// Complete sends a request to the Gemini API and returns the assistant's reply.
func (a *Adapter) Complete(ctx context.Context, req modeladapter.Request) (modeladapter.Response, error) {
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", a.Name)

	var resp apiResponse
	if err := a.PostJSON(ctx, path, a.buildRequest(req), &resp); err != nil {
		return modeladapter.Response{}, fmt.Errorf("gemini: %w", err)
	}

	tc := usage.TokenCount{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}
	a.Usage.Add(tc)

	if len(resp.Candidates) == 0 {
		return modeladapter.Response{}, fault.New(fault.Structural, "gemini: empty candidates in response")
	}

	msg := parseCandidate(resp.Candidates[0])

	return modeladapter.Response{
		Message:    msg,
		StopReason: mapFinishReason(resp.Candidates[0].FinishReason, len(msg.ToolCalls()) > 0),
		Usage:      tc,
	}, nil
}

// --- request types ---

type apiRequest struct {
	Contents          []apiContent     `json:"contents"`
	SystemInstruction *apiContent      `json:"systemInstruction,omitempty"`
	Tools             []apiToolSet     `json:"tools,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text             string           `json:"text,omitempty"`
	FunctionCall     *apiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *apiFunctionResp `json:"functionResponse,omitempty"`
}

type apiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type apiFunctionResp struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type apiToolSet struct {
	FunctionDeclarations []apiFuncDecl `json:"functionDeclarations"`
}

type apiFuncDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
}

// --- response types ---

type apiResponse struct {
	Candidates    []apiCandidate `json:"candidates"`
	UsageMetadata apiUsageMeta   `json:"usageMetadata"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiUsageMeta struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(r modeladapter.Request) apiRequest {
	req := apiRequest{
		GenerationConfig: generationConfig{
			MaxOutputTokens: a.ResponseMaxTokens(r),
		},
	}

	if a.Temperature != 0 {
		t := a.Temperature
		req.GenerationConfig.Temperature = &t
	}

	if len(r.Tools) > 0 {
		decls := make([]apiFuncDecl, len(r.Tools))
		for i, d := range r.Tools {
			schema := d.InputSchema
			if len(schema) == 0 {
				schema = json.RawMessage(`{"type":"object"}`)
			}
			decls[i] = apiFuncDecl{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  sanitizeSchema(schema),
			}
		}
		req.Tools = []apiToolSet{{FunctionDeclarations: decls}}
	}

	if r.SystemPrompt != "" {
		req.SystemInstruction = &apiContent{Parts: []apiPart{{Text: r.SystemPrompt}}}
	}

	// functionResponse needs the function name, which a result only knows
	// by call ID.
	callNames := buildCallNameMap(r.Messages)

	for _, m := range r.Messages {
		appendContent(&req.Contents, m, callNames)
	}

	return req
}

func buildCallNameMap(msgs []message.Message) map[string]string {
	m := make(map[string]string)
	for _, msg := range msgs {
		for _, tc := range msg.ToolCalls() {
			m[tc.ID] = tc.Name
		}
	}
	return m
}

func appendContent(contents *[]apiContent, m message.Message, callNames map[string]string) {
	apiRole := mapRole(m.Role)

	for _, p := range m.Parts {
		part, ok := toAPIPart(p, callNames)
		if !ok {
			continue
		}

		// Gemini requires alternating roles; merge consecutive parts.
		if n := len(*contents); n > 0 && (*contents)[n-1].Role == apiRole {
			(*contents)[n-1].Parts = append((*contents)[n-1].Parts, part)
			continue
		}

		*contents = append(*contents, apiContent{Role: apiRole, Parts: []apiPart{part}})
	}
}

func toAPIPart(p content.Part, callNames map[string]string) (apiPart, bool) {
	switch v := p.(type) {
	case content.Text:
		return apiPart{Text: v.Text}, true
	case content.ToolCall:
		args := v.Input
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		return apiPart{FunctionCall: &apiFunctionCall{Name: v.Name, Args: args}}, true
	case content.ToolResult:
		name, ok := callNames[v.ToolCallID]
		if !ok {
			return apiPart{}, false
		}
		return apiPart{FunctionResponse: &apiFunctionResp{
			Name:     name,
			Response: functionResponse(v),
		}}, true
	default:
		return apiPart{}, false
	}
}

// functionResponse wraps a tool result in the JSON object Gemini expects:
// {"result": <output>} on success and {"error": <descriptor>} on failure.
func functionResponse(tr content.ToolResult) json.RawMessage {
	var wrapped map[string]any
	if tr.IsError() {
		wrapped = map[string]any{"error": tr.Error}
	} else {
		output := tr.Output
		if !json.Valid(output) {
			b, _ := json.Marshal(string(output))
			output = b
		}
		wrapped = map[string]any{"result": output}
	}

	b, err := json.Marshal(wrapped)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// sanitizeSchema removes JSON Schema keywords that the Gemini API does not
// support (e.g. $schema, additionalProperties). It operates recursively so
// nested schemas (inside "properties", "items", etc.) are also cleaned.
func sanitizeSchema(raw json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw
	}

	delete(obj, "$schema")
	delete(obj, "additionalProperties")

	if props, ok := obj["properties"]; ok {
		var propMap map[string]json.RawMessage
		if err := json.Unmarshal(props, &propMap); err == nil {
			for k, v := range propMap {
				propMap[k] = sanitizeSchema(v)
			}
			if b, err := json.Marshal(propMap); err == nil {
				obj["properties"] = b
			}
		}
	}

	if items, ok := obj["items"]; ok {
		obj["items"] = sanitizeSchema(items)
	}

	b, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return b
}

func mapRole(r role.Role) string {
	if r == role.Assistant {
		return "model"
	}
	return "user"
}

// Gemini reports STOP for both final answers and function calls.
func mapFinishReason(s string, hasCalls bool) modeladapter.StopReason {
	switch s {
	case "MAX_TOKENS":
		return modeladapter.StopMaxTokens
	case "STOP", "":
		if hasCalls {
			return modeladapter.StopToolUse
		}
		return modeladapter.StopEndTurn
	default:
		return modeladapter.StopError
	}
}

func parseCandidate(cand apiCandidate) message.Message {
	var parts []content.Part

	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			args := p.FunctionCall.Args
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			// Gemini does not return call IDs, so they are synthesized.
			parts = append(parts, content.ToolCall{
				ID:    "call_" + uuid.NewString(),
				Name:  p.FunctionCall.Name,
				Input: args,
			})
		case p.Text != "":
			parts = append(parts, content.Text{Text: p.Text})
		}
	}

	return message.New(role.Assistant, parts...)
}
