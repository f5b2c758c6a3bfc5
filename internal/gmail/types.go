package gmail

import "time"

type MessageID string
type LabelID string

// System labels Gmail addresses by a fixed ID equal to the name.
const (
	LabelInbox  LabelID = "INBOX"
	LabelUnread LabelID = "UNREAD"
)

// MessageMeta is the header-level view of a message; bodies are never fetched.
type MessageMeta struct {
	ID        MessageID
	ThreadID  string
	HistoryID uint64
	Labels    []LabelID
	Headers   map[string]string // From, To, Subject, Date, etc.
	Snippet   string
	Received  time.Time
}

// ModifyOps is a single logical label mutation applied in one remote call.
type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

// Empty reports whether the mutation would change nothing.
func (o ModifyOps) Empty() bool {
	return len(o.AddLabels) == 0 && len(o.RemoveLabels) == 0
}

type ListPage struct {
	IDs           []MessageID
	NextPageToken string
}

type Query struct {
	Raw string // Gmail query string, already formed (e.g., `in:inbox`)
}
