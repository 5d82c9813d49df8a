package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/eray/backend/internal/model/llm"
)

// ArkProvider 通过 eino 的方舟 ChatModel 调用豆包及方舟托管的模型。
type ArkProvider struct {
	chatModel model.ChatModel
}

// NewArkProvider wraps an existing eino chat model.
func NewArkProvider(chatModel model.ChatModel) *ArkProvider {
	return &ArkProvider{chatModel: chatModel}
}

// Stream implements Provider.
func (p *ArkProvider) Stream(ctx context.Context, spec llm.ModelSpec, messages []Message, temperature *float32) (*schema.StreamReader[string], error) {
	opts := []model.Option{model.WithModel(spec.ModelID)}
	if temp, ok := spec.TemperatureFor(temperature); ok {
		opts = append(opts, model.WithTemperature(temp))
	}

	stream, err := p.chatModel.Stream(ctx, toSchemaMessages(messages), opts...)
	if err != nil {
		return nil, fmt.Errorf("ark stream %s: %w", spec.ModelID, err)
	}

	return schema.StreamReaderWithConvert(stream, func(msg *schema.Message) (string, error) {
		if msg == nil || msg.Content == "" {
			// 推理内容或空块直接跳过。
			return "", schema.ErrNoValue
		}
		return msg.Content, nil
	}), nil
}

func toSchemaMessages(messages []Message) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			result = append(result, schema.SystemMessage(msg.Content))
		case RoleAssistant:
			result = append(result, schema.AssistantMessage(msg.Content, nil))
		default:
			result = append(result, schema.UserMessage(msg.Content))
		}
	}
	return result
}
