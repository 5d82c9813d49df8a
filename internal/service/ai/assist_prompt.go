package ai

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const summaryInstruction = `你是一个专业的个人博客编辑助手。请根据用户提供的 Markdown 文章内容，生成一段简洁、优雅、有吸引力的中文摘要（Summary）。要求：
1. 字数控制在 60-120 字之间。
2. 语气平和、知性、高级，符合个人博客的调性。
3. 直接输出摘要内容，不要包含“好的”、“这是摘要”等任何开场白或结束语。`

const tagsInstruction = `你是一个专业的博客标签生成器。
请根据文章标题和内容，生成 {count} 个最相关的技术或主题标签。
{existing}标签应简洁精准（例如："React", "Web Design", "Life"）。
必须只返回一个纯 JSON 字符串数组，例如：["Tag1", "Tag2"]。
不要返回任何 markdown 格式，不要有任何解释文字。`

// tagsExcerptRunes 限制送去生成标签的正文长度。
const tagsExcerptRunes = 500

func newSummaryTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(summaryInstruction),
		schema.UserMessage("{content}"),
	)
}

func newTagsTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(tagsInstruction),
		schema.UserMessage("标题：{title}\n内容摘要：{excerpt}"),
	)
}

func fromSchemaMessages(messages []*schema.Message) []Message {
	result := make([]Message, 0, len(messages))
	for _, msg := range messages {
		result = append(result, Message{Role: string(msg.Role), Content: msg.Content})
	}
	return result
}
