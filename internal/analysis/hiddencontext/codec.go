// Package hiddencontext 把引用的文章嵌入用户消息正文，并在之后从正文中还原。
//
// 嵌入块的线上格式与历史数据兼容：
//
//	<可见文本>
//
//	<hidden_context>
//	标题：<title>
//	摘要：<summary>
//	内容：
//	<content>
//	---
//	标题：<title2>
//	...
//	</hidden_context>
//
// 解析永不失败：缺失的字段回落为空字符串，块外的可见文本总能返回。
// 用户手动输入的结构完整的标记同样会被当作嵌入块，编码器不做转义。
package hiddencontext

import (
	"strings"

	"github.com/zhouzirui/eray/backend/internal/model/chat"
)

const (
	StartTag = "<hidden_context>"
	EndTag   = "</hidden_context>"

	titleLabel   = "标题："
	summaryLabel = "摘要："
	contentLabel = "内容："

	recordSeparator = "\n---\n"
	untitled        = "未命名文章"
)

// Decoded is the result of splitting a message content into its visible
// text and the articles embedded in it.
type Decoded struct {
	Text     string
	Articles []chat.ArticleRef
}

// Display is the renderable form of a message: visible text plus the
// titles of the referenced articles, without their bodies.
type Display struct {
	Text       string   `json:"text"`
	References []string `json:"references,omitempty"`
}

// Encode appends the articles to the visible text as a hidden block.
// Without articles the text is returned unchanged.
func Encode(text string, articles []chat.ArticleRef) string {
	if len(articles) == 0 {
		return text
	}

	records := make([]string, 0, len(articles))
	for _, article := range articles {
		records = append(records, encodeRecord(article))
	}

	var builder strings.Builder
	builder.WriteString(text)
	builder.WriteString("\n\n")
	builder.WriteString(StartTag)
	builder.WriteString("\n")
	builder.WriteString(strings.Join(records, recordSeparator))
	builder.WriteString("\n")
	builder.WriteString(EndTag)
	return builder.String()
}

func encodeRecord(article chat.ArticleRef) string {
	return titleLabel + article.Title + "\n" +
		summaryLabel + article.Summary + "\n" +
		contentLabel + "\n" + article.Content
}

// Decode splits content into visible text and embedded articles. Only the
// first start tag and the first end tag after it are considered. The
// visible text is always trimmed, with or without a block.
func Decode(content string) Decoded {
	before, inner, after, ok := locateBlock(content)
	if !ok {
		return Decoded{Text: strings.TrimSpace(content)}
	}

	return Decoded{
		Text:     strings.TrimSpace(before + after),
		Articles: parseRecords(inner),
	}
}

// Displayify is Decode without article bodies.
func Displayify(content string) Display {
	decoded := Decode(content)
	display := Display{Text: decoded.Text}
	for _, article := range decoded.Articles {
		title := strings.TrimSpace(article.Title)
		if title == "" {
			title = untitled
		}
		display.References = append(display.References, title)
	}
	return display
}

// VisibleText returns the part of the content a reader should see.
func VisibleText(content string) string {
	return Decode(content).Text
}

// HasBlock reports whether the content carries a well-formed hidden block.
func HasBlock(content string) bool {
	_, _, _, ok := locateBlock(content)
	return ok
}

func locateBlock(content string) (before, inner, after string, ok bool) {
	start := strings.Index(content, StartTag)
	if start < 0 {
		return "", "", "", false
	}
	innerStart := start + len(StartTag)
	end := strings.Index(content[innerStart:], EndTag)
	if end < 0 {
		return "", "", "", false
	}
	end += innerStart

	inner = content[innerStart:end]
	inner = strings.TrimPrefix(inner, "\n")
	inner = strings.TrimSuffix(inner, "\n")
	return content[:start], inner, content[end+len(EndTag):], true
}

// parseRecords splits on a "---" line only when the next record starts with
// a title label, so horizontal rules inside article bodies survive.
func parseRecords(inner string) []chat.ArticleRef {
	if strings.TrimSpace(inner) == "" {
		return nil
	}

	boundary := recordSeparator + titleLabel
	var articles []chat.ArticleRef
	rest := inner
	for {
		idx := strings.Index(rest, boundary)
		if idx < 0 {
			articles = append(articles, parseRecord(rest))
			return articles
		}
		articles = append(articles, parseRecord(rest[:idx]))
		rest = rest[idx+len(recordSeparator):]
	}
}

func parseRecord(record string) chat.ArticleRef {
	head, content, ok := cutLabel(record, contentLabel)
	if ok {
		content = strings.TrimPrefix(content, "\n")
	} else {
		head, content = record, ""
	}

	beforeSummary, summary, ok := cutLabel(head, summaryLabel)
	if !ok {
		beforeSummary, summary = head, ""
	}

	_, title, ok := cutLabel(beforeSummary, titleLabel)
	if !ok {
		title = ""
	}

	return chat.ArticleRef{Title: title, Summary: summary, Content: content}
}

// cutLabel finds label at the start of s or at the start of any line.
func cutLabel(s, label string) (before, after string, found bool) {
	if strings.HasPrefix(s, label) {
		return "", s[len(label):], true
	}
	if idx := strings.Index(s, "\n"+label); idx >= 0 {
		return s[:idx], s[idx+1+len(label):], true
	}
	return s, "", false
}
