// Package github holds the inbound webhook event model and the issue
// comment client. These are the only boundaries through which user text
// enters and bot text leaves the system.
package github

import (
	"encoding/json"
	"fmt"
	"time"
)

// Supported event names.
const (
	EventIssues       = "issues"
	EventIssueComment = "issue_comment"
)

// Event is the decoded inbound webhook payload. Issue plus the optional
// Comment are the only sources of user-authored text for an invocation.
type Event struct {
	EventName  string     `json:"event_name"`
	Action     string     `json:"action,omitempty"`
	Issue      Issue      `json:"issue"`
	Repository Repository `json:"repository"`
	Comment    *Comment   `json:"comment,omitempty"`
}

type Issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	User   User   `json:"user"`
}

type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

type Repository struct {
	Name  string `json:"name"`
	Owner User   `json:"owner"`
}

type User struct {
	Login string `json:"login"`
}

// ParseEvent decodes a webhook payload for the named event.
func ParseEvent(eventName string, payload []byte) (*Event, error) {
	switch eventName {
	case EventIssues, EventIssueComment:
	default:
		return nil, fmt.Errorf("unsupported event %q", eventName)
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventName, err)
	}
	ev.EventName = eventName
	if ev.Issue.Number == 0 {
		return nil, fmt.Errorf("%s payload has no issue number", eventName)
	}
	if eventName == EventIssueComment && ev.Comment == nil {
		return nil, fmt.Errorf("issue_comment payload has no comment")
	}
	return &ev, nil
}

// Sender returns the login of the user whose text triggered the event.
func (e *Event) Sender() string {
	if e.Comment != nil {
		return e.Comment.User.Login
	}
	return e.Issue.User.Login
}

// NewText returns only the text that arrived with this event. Command
// and heuristic detection must run on this, never on thread history.
func (e *Event) NewText() string {
	if e.Comment != nil {
		return e.Comment.Body
	}
	return e.Issue.Title + "\n" + e.Issue.Body
}

// IsComment reports whether the event is a comment rather than an issue
// being opened.
func (e *Event) IsComment() bool {
	return e.Comment != nil
}
