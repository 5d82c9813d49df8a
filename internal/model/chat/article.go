package chat

import "time"

// Article is a blog post as far as the chat feature needs it.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	IsPublished bool      `json:"isPublished"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ArticleRef is an article attached to a user message. It is never stored
// on its own; it travels inside the message content.
type ArticleRef struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// Ref converts the article into an attachment reference.
func (a Article) Ref() ArticleRef {
	return ArticleRef{Title: a.Title, Summary: a.Summary, Content: a.Content}
}
