package model

import "time"

// ForumCategory groups forum topics.
type ForumCategory struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ForumTopic is a thread.  ReplyCount and LastActivity are computed when
// listing: LastActivity is the newest reply time, or the topic's own
// creation time when it has no replies.
type ForumTopic struct {
	ID           uint64    `json:"id"`
	CategoryID   uint64    `json:"category_id"`
	UserID       *uint64   `json:"user_id,omitempty"`
	AuthorName   string    `json:"author_name,omitempty"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	ReplyCount   int64     `json:"reply_count"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// ForumReply is a post in a topic.
type ForumReply struct {
	ID         uint64    `json:"id"`
	TopicID    uint64    `json:"topic_id"`
	UserID     *uint64   `json:"user_id,omitempty"`
	AuthorName string    `json:"author_name,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}
