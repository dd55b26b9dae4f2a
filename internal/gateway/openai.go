package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"

	"github.com/groblegark/crawlgraph/internal/model"
)

// OpenAIFilter implements ActionFilter against an OpenAI-compatible chat
// completion endpoint. Every method is best-effort: an API or decode failure
// reports "no change" rather than an error the crawl would have to handle.
type OpenAIFilter struct {
	client openai.Client
	model  string
}

var _ ActionFilter = (*OpenAIFilter)(nil)

// NewOpenAIFilter builds a filter. baseURL is optional and supports
// OpenAI-compatible endpoints.
func NewOpenAIFilter(apiKey, baseURL, modelName string) *OpenAIFilter {
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	return &OpenAIFilter{client: openai.NewClient(opts...), model: modelName}
}

const filterSystemPrompt = `You decide which form inputs on a web page can be
filled from known facts. You are given candidate fill/select actions and a
map of known facts (field label -> value). Respond with JSON only:
{"fillable": [{"selector": "...", "value": "..."}]}.
Include an entry only when a known fact clearly answers the field. Never
invent values.`

func (f *OpenAIFilter) FilterFillable(ctx context.Context, actions []model.Action, mem *model.RunMemory) ([]model.Action, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	req, err := json.Marshal(map[string]any{
		"actions": actions,
		"facts":   mem.Facts(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal filter request: %w", err)
	}

	content, err := f.complete(ctx, filterSystemPrompt, string(req))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Fillable []struct {
			Selector string `json:"selector"`
			Value    string `json:"value"`
		} `json:"fillable"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("decode filter response: %w", err)
	}

	bySelector := make(map[string]string, len(resp.Fillable))
	for _, fill := range resp.Fillable {
		bySelector[fill.Selector] = fill.Value
	}

	var out []model.Action
	for _, a := range actions {
		if v, ok := bySelector[a.Selector]; ok && v != "" {
			filled := a
			filled.Value = v
			out = append(out, filled)
		}
	}
	return out, nil
}

const memorySystemPrompt = `You maintain a memory of facts observed while
exploring a web application: field labels and the values that satisfy them,
plus notable page facts. Given current memory and visible page signals,
respond with JSON only: {"facts": {"label": "value"}} containing ONLY new or
changed entries. Respond {"facts": {}} when nothing changed.`

func (f *OpenAIFilter) UpdateMemory(ctx context.Context, mem *model.RunMemory, page *model.PageState) (bool, error) {
	req, err := json.Marshal(map[string]any{
		"memory":       mem.Facts(),
		"url":          page.URL,
		"visible_text": page.VisibleText,
		"inputs":       redactInputs(page.Inputs),
	})
	if err != nil {
		return false, fmt.Errorf("marshal memory request: %w", err)
	}

	content, err := f.complete(ctx, memorySystemPrompt, string(req))
	if err != nil {
		return false, err
	}

	var resp struct {
		Facts map[string]string `json:"facts"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return false, fmt.Errorf("decode memory response: %w", err)
	}

	changed := false
	for k, v := range resp.Facts {
		if mem.SetFact(k, v) {
			changed = true
		}
	}
	return changed, nil
}

const intentSystemPrompt = `Label the intent of a user action on a web page
in at most 15 characters, lowercase, e.g. "open settings", "submit login".
Respond with JSON only: {"label": "..."}.`

func (f *OpenAIFilter) LabelIntent(ctx context.Context, from, to *model.Node, edge *model.Edge) (string, error) {
	req, err := json.Marshal(map[string]any{
		"from_url": from.URL,
		"to_url":   toURL(to),
		"action":   edge.Action,
		"class":    edge.Class,
	})
	if err != nil {
		return "", fmt.Errorf("marshal intent request: %w", err)
	}

	content, err := f.complete(ctx, intentSystemPrompt, string(req))
	if err != nil {
		return "", err
	}

	var resp struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return "", fmt.Errorf("decode intent response: %w", err)
	}
	return model.TruncateIntent(strings.TrimSpace(resp.Label)), nil
}

func (f *OpenAIFilter) complete(ctx context.Context, system, user string) (string, error) {
	completion, err := f.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(f.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	content := completion.Choices[0].Message.Content
	// Models sometimes fence JSON responses despite instructions.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content), nil
}

// redactInputs strips secret values before they reach the LLM.
func redactInputs(inputs []model.InputState) []model.InputState {
	out := make([]model.InputState, len(inputs))
	for i, in := range inputs {
		out[i] = in
		if in.Secret {
			out[i].Value = "[redacted]"
		}
	}
	return out
}

func toURL(n *model.Node) string {
	if n == nil {
		return ""
	}
	return n.URL
}
