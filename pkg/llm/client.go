package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sage",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "Duration of LLM gateway requests",
	}, []string{"model", "api"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sage",
		Subsystem: "llm",
		Name:      "request_failures_total",
		Help:      "Number of failed LLM gateway requests",
	}, []string{"model", "api"})
)

const (
	apiChat      = "chat"
	apiResponses = "responses"
)

// Config defines one provider endpoint and the request knobs for it.
type Config struct {
	BaseURL         string
	APIKey          string
	Model           string
	MaxOutputTokens int
	Temperature     float32
	JSONMode        bool
	Timeout         time.Duration
	Logger          zerolog.Logger
}

// Usage is the normalized token accounting shape. Responses-protocol
// input/output tokens are mapped onto the chat-protocol field names.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Meta records which wire protocol served the request and which fallbacks
// fired, for the job run summary.
type Meta struct {
	APIUsed          string
	APIFallback      bool
	JSONModeFallback bool
}

// Result is a successful gateway call: the recovered JSON object, the
// verbatim model text, token usage and execution metadata.
type Result struct {
	Data    map[string]interface{}
	RawText string
	Usage   Usage
	Meta    Meta
}

// Client talks to one OpenAI-compatible endpoint over either the chat or the
// responses wire protocol, selected by model-name prefix with a single
// protocol fallback per call.
type Client struct {
	cfg    Config
	chat   *openai.Client
	http   *http.Client
	logger zerolog.Logger
}

// NewClient builds a gateway client for the given provider configuration.
func NewClient(cfg Config) *Client {
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1200
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	chatCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		chatCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	chatCfg.HTTPClient = httpClient

	return &Client{
		cfg:    cfg,
		chat:   openai.NewClientWithConfig(chatCfg),
		http:   httpClient,
		logger: cfg.Logger.With().Str("component", "llm_client").Logger(),
	}
}

// Complete sends the prompt (plus optional image attachments) and returns the
// parsed JSON object the model produced. Fallback policy, applied once per
// call: an unrecognized responses-protocol parameter retries on the chat
// protocol; a JSON-mode request that comes back empty retries with JSON mode
// disabled. Everything else propagates immediately.
func (c *Client) Complete(ctx context.Context, prompt string, imagePaths []string) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	apiUsed := apiChat
	if usesResponsesAPI(c.cfg.Model) {
		apiUsed = apiResponses
	}

	meta := Meta{APIUsed: apiUsed}
	rawText, usage, err := c.call(ctx, apiUsed, prompt, imagePaths, c.cfg.JSONMode)
	if err != nil {
		var respErr *ResponseError
		if !errors.As(err, &respErr) {
			return nil, err
		}
		switch {
		case apiUsed == apiResponses && strings.Contains(respErr.Message, "Unrecognized request argument supplied: text"):
			apiUsed = apiChat
			meta.APIUsed = apiChat
			meta.APIFallback = true
			rawText, usage, err = c.call(ctx, apiUsed, prompt, imagePaths, c.cfg.JSONMode)
		case c.cfg.JSONMode && strings.Contains(strings.ToLower(respErr.Message), "empty content"):
			meta.JSONModeFallback = true
			rawText, usage, err = c.call(ctx, apiUsed, prompt, imagePaths, false)
		case strings.Contains(respErr.Message, "Unsupported parameter") && strings.Contains(respErr.Message, "text.format"):
			apiUsed = apiResponses
			meta.APIUsed = apiResponses
			rawText, usage, err = c.call(ctx, apiUsed, prompt, imagePaths, false)
		default:
			return nil, err
		}
		if err != nil {
			return nil, err
		}
	}

	data, parseErr := ParseJSON(rawText)
	if parseErr != nil {
		return nil, &ResponseError{
			Kind:    KindParse,
			Message: fmt.Sprintf("invalid JSON from model: %v", parseErr),
			RawText: rawText,
		}
	}

	return &Result{Data: data, RawText: rawText, Usage: usage, Meta: meta}, nil
}

func (c *Client) call(ctx context.Context, api, prompt string, imagePaths []string, jsonMode bool) (string, Usage, error) {
	start := time.Now()
	var (
		rawText string
		usage   Usage
		err     error
	)
	if api == apiResponses {
		rawText, usage, err = c.responsesCompletion(ctx, prompt, imagePaths, jsonMode)
	} else {
		rawText, usage, err = c.chatCompletion(ctx, prompt, imagePaths, jsonMode)
	}
	requestDuration.WithLabelValues(c.cfg.Model, api).Observe(time.Since(start).Seconds())
	if err != nil {
		requestFailures.WithLabelValues(c.cfg.Model, api).Inc()
	}
	return rawText, usage, err
}

// usesResponsesAPI reports whether the model family defaults to the
// responses wire protocol.
func usesResponsesAPI(model string) bool {
	return strings.HasPrefix(model, "gpt-5")
}

// omitsTemperature reports whether the model family rejects the temperature
// parameter.
func omitsTemperature(model string) bool {
	return strings.HasPrefix(model, "gpt-5") || strings.HasPrefix(model, "o")
}

// usesCompletionTokenCap reports whether the model family expects
// max_completion_tokens instead of max_tokens on the chat protocol.
func usesCompletionTokenCap(model string) bool {
	return strings.HasPrefix(model, "gpt-5") || strings.HasPrefix(model, "o")
}

func (c *Client) chatCompletion(ctx context.Context, prompt string, imagePaths []string, jsonMode bool) (string, Usage, error) {
	request := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
		},
	}

	payloadKeys := []string{"messages", "model"}
	if usesCompletionTokenCap(c.cfg.Model) {
		request.MaxCompletionTokens = c.cfg.MaxOutputTokens
		payloadKeys = append(payloadKeys, "max_completion_tokens")
	} else {
		request.MaxTokens = c.cfg.MaxOutputTokens
		payloadKeys = append(payloadKeys, "max_tokens")
	}
	if !omitsTemperature(c.cfg.Model) {
		request.Temperature = c.cfg.Temperature
		payloadKeys = append(payloadKeys, "temperature")
	}
	if jsonMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
		payloadKeys = append(payloadKeys, "response_format")
	}

	userMessage := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(imagePaths) > 0 {
		parts := []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
		}
		for _, path := range imagePaths {
			dataURL, err := encodeImageDataURL(path)
			if err != nil {
				return "", Usage{}, fmt.Errorf("encode image %s: %w", path, err)
			}
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
			})
		}
		userMessage.MultiContent = parts
	} else {
		userMessage.Content = prompt
	}
	request.Messages = append(request.Messages, userMessage)

	resp, err := c.chat.CreateChatCompletion(ctx, request)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			sort.Strings(payloadKeys)
			return "", Usage{}, newGatewayError(fmt.Sprintf(
				"LLM request failed (Chat Completions). HTTP %d. Provider message: %s. Request details: model=%s, json_mode=%t, keys=[%s]",
				apiErr.HTTPStatusCode, apiErr.Message, c.cfg.Model, jsonMode, strings.Join(payloadKeys, ", "),
			), apiErr.Message)
		}
		return "", Usage{}, newGatewayError(fmt.Sprintf("LLM request failed: %v", err), "")
	}

	if len(resp.Choices) == 0 {
		return "", Usage{}, newContentError("LLM returned no choices", "")
	}

	message := resp.Choices[0].Message
	content := message.Content
	if strings.TrimSpace(content) == "" {
		if message.Refusal != "" {
			return "", Usage{}, newContentError(fmt.Sprintf("LLM refusal: %s", message.Refusal), message.Refusal)
		}
		if len(message.ToolCalls) > 0 {
			raw, _ := json.Marshal(message)
			return "", Usage{}, newContentError("LLM returned tool calls instead of content", string(raw))
		}
		raw, _ := json.Marshal(message)
		return "", Usage{}, newContentError("LLM returned empty content", string(raw))
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return content, usage, nil
}

// responsesRequest mirrors the subset of the /responses wire format the
// gateway uses. The endpoint is not covered by the chat SDK, so the request
// goes over a plain HTTP client.
type responsesInputContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type responsesInputMessage struct {
	Role    string                  `json:"role"`
	Content []responsesInputContent `json:"content"`
}

func (c *Client) responsesCompletion(ctx context.Context, prompt string, imagePaths []string, jsonMode bool) (string, Usage, error) {
	userContent := []responsesInputContent{{Type: "input_text", Text: prompt}}
	for _, path := range imagePaths {
		dataURL, err := encodeImageDataURL(path)
		if err != nil {
			return "", Usage{}, fmt.Errorf("encode image %s: %w", path, err)
		}
		userContent = append(userContent, responsesInputContent{Type: "input_image", ImageURL: dataURL})
	}

	basePayload := map[string]interface{}{
		"model": c.cfg.Model,
		"input": []responsesInputMessage{
			{Role: "system", Content: []responsesInputContent{{Type: "input_text", Text: SystemPrompt}}},
			{Role: "user", Content: userContent},
		},
		"max_output_tokens": c.cfg.MaxOutputTokens,
	}
	if !strings.HasPrefix(c.cfg.Model, "gpt-5") {
		basePayload["temperature"] = c.cfg.Temperature
	}

	var (
		data map[string]interface{}
		err  error
	)
	if jsonMode {
		// Providers disagree on where the JSON-format flag lives on this
		// endpoint: response_format, then text.format, then neither.
		payload := clonePayload(basePayload)
		payload["response_format"] = map[string]string{"type": "json_object"}
		data, err = c.postResponses(ctx, payload, jsonMode)
		if err != nil {
			var respErr *ResponseError
			if !errors.As(err, &respErr) {
				return "", Usage{}, err
			}
			if !strings.Contains(respErr.Message, "text.format") && !strings.Contains(respErr.Message, "response_format") {
				return "", Usage{}, err
			}
			payload = clonePayload(basePayload)
			payload["text"] = map[string]interface{}{"format": map[string]string{"type": "json_object"}}
			data, err = c.postResponses(ctx, payload, jsonMode)
			if err != nil {
				if errors.As(err, &respErr) && strings.Contains(respErr.Message, "Unrecognized request argument supplied: text") {
					data, err = c.postResponses(ctx, basePayload, jsonMode)
				}
				if err != nil {
					return "", Usage{}, err
				}
			}
		}
	} else {
		data, err = c.postResponses(ctx, basePayload, jsonMode)
		if err != nil {
			return "", Usage{}, err
		}
	}

	if status, _ := data["status"].(string); status == "incomplete" {
		reason := "unknown"
		if details, ok := data["incomplete_details"].(map[string]interface{}); ok {
			if r, ok := details["reason"].(string); ok && r != "" {
				reason = r
			}
		}
		raw, _ := json.Marshal(data)
		return "", Usage{}, newContentError(
			fmt.Sprintf("LLM response incomplete: reason=%s, max_output_tokens=%v", reason, data["max_output_tokens"]),
			string(raw),
		)
	}

	content, err := extractResponsesText(data)
	if err != nil {
		return "", Usage{}, err
	}
	if strings.TrimSpace(content) == "" {
		raw, _ := json.Marshal(data)
		return "", Usage{}, newContentError("LLM returned empty content", string(raw))
	}

	return content, normalizeUsage(data), nil
}

func (c *Client) postResponses(ctx context.Context, payload map[string]interface{}, jsonMode bool) (map[string]interface{}, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal responses payload: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/responses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build responses request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, newGatewayError(fmt.Sprintf("LLM request failed: %v", err), "")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newGatewayError(fmt.Sprintf("LLM response read failed: %v", err), "")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		keys := make([]string, 0, len(payload))
		for key := range payload {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return nil, newGatewayError(fmt.Sprintf(
			"LLM request failed (Responses API). HTTP %d. Provider message: %s. Request details: model=%s, json_mode=%t, keys=[%s]",
			resp.StatusCode, providerErrorMessage(respBody), c.cfg.Model, jsonMode, strings.Join(keys, ", "),
		), string(respBody))
	}

	var data map[string]interface{}
	if err := json.Unmarshal(respBody, &data); err != nil {
		return nil, newGatewayError(fmt.Sprintf("LLM response decode failed: %v", err), string(respBody))
	}
	return data, nil
}

// providerErrorMessage digs the human-readable message out of an OpenAI-style
// error body, falling back to the body itself.
func providerErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return string(body)
}

func extractResponsesText(data map[string]interface{}) (string, error) {
	if text, ok := data["output_text"].(string); ok && strings.TrimSpace(text) != "" {
		return text, nil
	}

	var builder strings.Builder
	output, _ := data["output"].([]interface{})
	for _, item := range output {
		message, ok := item.(map[string]interface{})
		if !ok || message["type"] != "message" {
			continue
		}
		contents, _ := message["content"].([]interface{})
		for _, entry := range contents {
			content, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			switch content["type"] {
			case "output_text", "text":
				if text, ok := content["text"].(string); ok {
					builder.WriteString(text)
				}
			case "refusal":
				refusal, _ := content["refusal"].(string)
				raw, _ := json.Marshal(data)
				return "", newContentError(fmt.Sprintf("LLM refusal: %s", refusal), string(raw))
			}
		}
	}
	return builder.String(), nil
}

// normalizeUsage maps responses-protocol usage field names onto the chat
// shape. Chat-style fields pass through untouched.
func normalizeUsage(data map[string]interface{}) Usage {
	usage, _ := data["usage"].(map[string]interface{})
	if usage == nil {
		return Usage{}
	}

	if _, ok := usage["prompt_tokens"]; ok {
		return Usage{
			PromptTokens:     intField(usage, "prompt_tokens"),
			CompletionTokens: intField(usage, "completion_tokens"),
			TotalTokens:      intField(usage, "total_tokens"),
		}
	}

	input := intField(usage, "input_tokens")
	output := intField(usage, "output_tokens")
	total := intField(usage, "total_tokens")
	if total == 0 {
		total = input + output
	}
	return Usage{PromptTokens: input, CompletionTokens: output, TotalTokens: total}
}

func intField(m map[string]interface{}, key string) int {
	if value, ok := m[key].(float64); ok {
		return int(value)
	}
	return 0
}

func clonePayload(payload map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(payload)+1)
	for key, value := range payload {
		clone[key] = value
	}
	return clone
}

func encodeImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := "image/png"
	if detected := mimetype.Detect(data); detected != nil && strings.HasPrefix(detected.String(), "image/") {
		mime = detected.String()
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data)), nil
}
