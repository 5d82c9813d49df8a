package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/zhouzirui/eray/backend/internal/model/llm"
)

// GeminiProvider 调用 Google Gemini。系统提示词走 SystemInstruction，
// assistant 角色映射为 model。
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini API client.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

// Stream implements Provider.
func (p *GeminiProvider) Stream(ctx context.Context, spec llm.ModelSpec, messages []Message, temperature *float32) (*schema.StreamReader[string], error) {
	system, history := splitSystem(messages)

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if temp, ok := spec.TemperatureFor(temperature); ok {
		cfg.Temperature = &temp
	}

	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}

	sr, sw := schema.Pipe[string](16)
	go func() {
		defer sw.Close()
		for resp, err := range p.client.Models.GenerateContentStream(ctx, spec.ModelID, contents, cfg) {
			if err != nil {
				sw.Send("", fmt.Errorf("gemini stream %s: %w", spec.ModelID, err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if closed := sw.Send(text, nil); closed {
				return
			}
		}
	}()

	return sr, nil
}
