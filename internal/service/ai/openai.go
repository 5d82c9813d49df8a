package ai

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/eray/backend/internal/model/llm"
)

const maxErrorBody = 4 * 1024

// OpenAIProvider speaks the OpenAI-compatible /chat/completions streaming
// protocol used by DeepSeek and OpenRouter.
type OpenAIProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIProvider returns a provider for one OpenAI-compatible endpoint.
// client may be nil.
func NewOpenAIProvider(name, baseURL, apiKey string, client *http.Client) *OpenAIProvider {
	if client == nil {
		// 流式响应可能持续很久，超时交给 ctx 控制。
		client = &http.Client{}
	}
	return &OpenAIProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float32  `json:"temperature,omitempty"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, spec llm.ModelSpec, messages []Message, temperature *float32) (*schema.StreamReader[string], error) {
	payload := completionRequest{
		Model:    spec.ModelID,
		Messages: messages,
		Stream:   true,
	}
	if temp, ok := spec.TemperatureFor(temperature); ok {
		payload.Temperature = &temp
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("%s returned %d: %s", p.name, resp.StatusCode, readErrorBody(resp.Body))
	}

	sr, sw := schema.Pipe[string](16)
	go func() {
		defer resp.Body.Close()
		defer sw.Close()
		p.pump(resp.Body, sw)
	}()

	return sr, nil
}

// pump 逐行读取 SSE，直到 [DONE]、EOF 或读端关闭。
func (p *OpenAIProvider) pump(body io.Reader, sw *schema.StreamWriter[string]) {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			stop, sendErr := p.handleLine(strings.TrimRight(line, "\r\n"), sw)
			if sendErr != nil {
				sw.Send("", sendErr)
				return
			}
			if stop {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				sw.Send("", fmt.Errorf("%s stream read: %w", p.name, err))
			}
			return
		}
	}
}

// handleLine returns stop=true once the stream is finished or the reader
// went away.
func (p *OpenAIProvider) handleLine(line string, sw *schema.StreamWriter[string]) (bool, error) {
	if !strings.HasPrefix(line, "data:") {
		// 注释行（": OPENROUTER PROCESSING"）、event/id 字段和空行都忽略。
		return false, nil
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return false, nil
	}
	if data == "[DONE]" {
		return true, nil
	}

	var chunk completionChunk
	if err := sonic.UnmarshalString(data, &chunk); err != nil {
		return true, fmt.Errorf("%s malformed chunk: %w", p.name, err)
	}
	if chunk.Error != nil {
		return true, fmt.Errorf("%s stream error: %s", p.name, chunk.Error.Message)
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content == "" {
			continue
		}
		if closed := sw.Send(choice.Delta.Content, nil); closed {
			return true, nil
		}
	}
	return false, nil
}

func readErrorBody(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var envelope errorEnvelope
	if err := sonic.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "empty response body"
	}
	return text
}
