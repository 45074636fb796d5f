package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ConversationStatus string

const (
	ConversationStatusOpen    ConversationStatus = "open"
	ConversationStatusPending ConversationStatus = "pending"
	ConversationStatusClosed  ConversationStatus = "closed"
)

// MessageStatus records the routing outcome of a message, not a client-side
// read acknowledgement. SENDING is set at persistence time; SENT means a live
// recipient connection was found and the push was dispatched; DELIVERED means
// the message is durably at rest with no live push attempted.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "SENDING"
	MessageStatusSent      MessageStatus = "SENT"
	MessageStatusDelivered MessageStatus = "DELIVERED"
)

type VisitorItem struct {
	VisitorUID  string            `dynamodbav:"visitorUid"`
	ProjectID   string            `dynamodbav:"projectId"`
	DisplayName string            `dynamodbav:"displayName,omitempty"`
	Metadata    map[string]string `dynamodbav:"metadata,omitempty"`
	CreatedAt   string            `dynamodbav:"createdAt"`
	LastSeenAt  string            `dynamodbav:"lastSeenAt"`
}

type ConversationItem struct {
	ConversationID       string             `dynamodbav:"conversationId"`
	ProjectID            string             `dynamodbav:"projectId"`
	VisitorUID           string             `dynamodbav:"visitorUid"`
	Status               ConversationStatus `dynamodbav:"status"`
	LastMessageSnippet   string             `dynamodbav:"lastMessageSnippet,omitempty"`
	LastMessageTimestamp string             `dynamodbav:"lastMessageTimestamp,omitempty"`
	UnreadCount          int                `dynamodbav:"unreadCount"`
	CreatedAt            string             `dynamodbav:"createdAt"`
	UpdatedAt            string             `dynamodbav:"updatedAt"`
}

type Attachment struct {
	Name string `dynamodbav:"name" json:"name"`
	URL  string `dynamodbav:"url" json:"url"`
	Type string `dynamodbav:"type,omitempty" json:"type,omitempty"`
}

// MessageItem content, sender, recipient and direction are immutable once
// persisted; only Status advances after the routing attempt.
type MessageItem struct {
	ConversationID string        `dynamodbav:"conversationId"`
	MessageID      string        `dynamodbav:"messageId"`
	Content        string        `dynamodbav:"content"`
	Attachments    []Attachment  `dynamodbav:"attachments,omitempty"`
	SenderID       string        `dynamodbav:"senderId"`
	RecipientID    string        `dynamodbav:"recipientId"`
	FromCustomer   bool          `dynamodbav:"fromCustomer"`
	Status         MessageStatus `dynamodbav:"status"`
	CreatedAt      string        `dynamodbav:"createdAt"`
}

// NewMessageID returns a message id whose lexicographic order matches
// creation order, so the history cursor can compare ids on the Messages
// range key directly.
func NewMessageID(t time.Time) string {
	return fmt.Sprintf("%020d-%s", t.UTC().UnixNano(), uuid.NewString())
}
