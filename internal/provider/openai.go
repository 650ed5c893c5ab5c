package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OpenAI implements Provider for OpenAI-compatible chat-completions APIs
// (OpenAI, Groq, OpenRouter, DeepSeek, vLLM, etc.).
type OpenAI struct {
	name    string
	apiKey  string
	apiBase string
	client  *http.Client
}

func NewOpenAI(name, apiKey, apiBase string) *OpenAI {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAI{
		name:    name,
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *OpenAI) Name() string { return p.name }

// GenToReceiver streams an SSE generation into recv.
func (p *OpenAI) GenToReceiver(ctx context.Context, req GenRequest, recv *Receiver) (GenResult, error) {
	body, err := p.doRequest(ctx, p.buildBody(req, true))
	if err != nil {
		return GenResult{}, err
	}
	defer body.Close()

	if recv == nil {
		recv = &Receiver{}
	}

	res := GenResult{Model: req.Model}
	var saying strings.Builder
	sayingStarted := false
	accs := make(map[int]*toolCallAcc)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			res.Usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			}
		}
		if chunk.Model != "" {
			res.Model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.ReasoningContent != "" && recv.OnThinkingChunk != nil {
			recv.OnThinkingChunk(delta.ReasoningContent)
		}
		if delta.Content != "" {
			if !sayingStarted {
				sayingStarted = true
				if recv.OnSayingStart != nil {
					recv.OnSayingStart()
				}
			}
			saying.WriteString(delta.Content)
			if recv.OnSayingChunk != nil {
				recv.OnSayingChunk(delta.Content)
			}
		}
		for _, tc := range delta.ToolCalls {
			acc, ok := accs[tc.Index]
			if !ok {
				acc = &toolCallAcc{id: tc.ID}
				accs[tc.Index] = acc
			}
			if tc.Function.Name != "" {
				acc.name = strings.TrimSpace(tc.Function.Name)
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("%s: stream read: %w", p.name, err)
	}

	if sayingStarted && recv.OnSayingFinish != nil {
		recv.OnSayingFinish(saying.String())
	}
	// Indexes may be sparse; flush in index order.
	idxs := make([]int, 0, len(accs))
	for i := range accs {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	for _, i := range idxs {
		acc := accs[i]
		if recv.OnToolCall != nil {
			recv.OnToolCall(ToolCall{ID: acc.id, Name: acc.name, Arguments: acc.args.String()})
		}
	}
	return res, nil
}

// GenMessages runs a batch (non-streaming) generation.
func (p *OpenAI) GenMessages(ctx context.Context, req GenRequest) ([]Message, GenResult, error) {
	body, err := p.doRequest(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, GenResult{}, err
	}
	defer body.Close()

	var resp oaiResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, GenResult{}, fmt.Errorf("%s: decode response: %w", p.name, err)
	}

	res := GenResult{Model: resp.Model}
	if resp.Model == "" {
		res.Model = req.Model
	}
	if resp.Usage != nil {
		res.Usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		}
	}

	var msgs []Message
	if len(resp.Choices) > 0 {
		m := resp.Choices[0].Message
		out := Message{Role: "assistant", Content: m.Content, Thinking: m.ReasoningContent}
		for _, tc := range m.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      strings.TrimSpace(tc.Function.Name),
				Arguments: tc.Function.Arguments,
			})
		}
		msgs = append(msgs, out)
	}
	return msgs, res, nil
}

func (p *OpenAI) buildBody(req GenRequest, stream bool) map[string]any {
	msgs := make([]map[string]any, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msg := map[string]any{"role": m.Role}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				calls[i] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Name,
						"arguments": args,
					},
				}
			}
			msg["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		msgs = append(msgs, msg)
	}

	body := map[string]any{
		"model":    req.Model,
		"messages": msgs,
		"stream":   stream,
	}
	if stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object", "properties": map[string]any{}}
			}
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  params,
				},
			}
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}
	return body
}

func (p *OpenAI) doRequest(ctx context.Context, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// ParseRetryAfter reads a Retry-After header value in seconds.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

type toolCallAcc struct {
	id   string
	name string
	args strings.Builder
}

type oaiStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage"`
}

type oaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaiUsage `json:"usage"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
