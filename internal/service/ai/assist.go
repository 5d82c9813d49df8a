package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/prompt"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

// Assistant 为后台编辑器生成文章摘要与标签。
type Assistant struct {
	service  *Service
	summary  prompt.ChatTemplate
	tags     prompt.ChatTemplate
	tagsTemp float32
}

// NewAssistant creates a writing assistant on top of a Service.
func NewAssistant(service *Service) *Assistant {
	return &Assistant{
		service:  service,
		summary:  newSummaryTemplate(),
		tags:     newTagsTemplate(),
		tagsTemp: 0.7,
	}
}

// GenerateSummary streams a short Chinese summary of an article body.
func (a *Assistant) GenerateSummary(ctx context.Context, modelKey, content string, onToken func(string)) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptySource
	}

	messages, err := a.summary.Format(ctx, map[string]any{"content": content})
	if err != nil {
		return "", fmt.Errorf("format summary prompt: %w", err)
	}

	text, err := a.service.Complete(ctx, Request{
		ModelKey: modelKey,
		Scope:    chat.ScopeAdmin,
		Messages: fromSchemaMessages(messages),
	}, onToken)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// GenerateTags asks for one new tag when existing tags are given, two
// otherwise. An unparsable answer yields an empty list.
func (a *Assistant) GenerateTags(ctx context.Context, modelKey, title, content string, existing []string) ([]string, error) {
	count := 2
	existingLine := ""
	if len(existing) > 0 {
		count = 1
		encoded, err := sonic.MarshalString(existing)
		if err != nil {
			return nil, fmt.Errorf("encode existing tags: %w", err)
		}
		existingLine = "现有标签为：" + encoded + "，请不要重复。\n"
	}

	messages, err := a.tags.Format(ctx, map[string]any{
		"count":    count,
		"existing": existingLine,
		"title":    title,
		"excerpt":  truncateRunes(content, tagsExcerptRunes),
	})
	if err != nil {
		return nil, fmt.Errorf("format tags prompt: %w", err)
	}

	temp := a.tagsTemp
	text, err := a.service.Complete(ctx, Request{
		ModelKey:    modelKey,
		Scope:       chat.ScopeAdmin,
		Messages:    fromSchemaMessages(messages),
		Temperature: &temp,
	}, nil)
	if err != nil {
		return nil, err
	}

	return ParseTags(text), nil
}

// ParseTags strips code fences and decodes a JSON string array.
func ParseTags(raw string) []string {
	cleaned := strings.ReplaceAll(raw, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var values []any
	if err := sonic.UnmarshalString(cleaned, &values); err != nil {
		log.Printf("[ai] failed to parse tags response: %v", err)
		return []string{}
	}

	tags := make([]string, 0, len(values))
	for _, value := range values {
		tag := strings.TrimSpace(fmt.Sprint(value))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
