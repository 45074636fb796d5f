package dto

type VisitorRequest struct {
	VisitorUID  string            `json:"visitorUid"`
	DisplayName string            `json:"displayName"`
	Metadata    map[string]string `json:"metadata"`
}

type StartConversationRequest struct {
	ProjectID string         `json:"projectId"`
	Visitor   VisitorRequest `json:"visitor"`
	TempID    string         `json:"tempId"`
	Content   string         `json:"content"`
}

type ConversationResponse struct {
	ConversationID       string `json:"conversationId"`
	ProjectID            string `json:"projectId"`
	VisitorUID           string `json:"visitorUid"`
	Status               string `json:"status"`
	LastMessageSnippet   string `json:"lastMessageSnippet,omitempty"`
	LastMessageTimestamp string `json:"lastMessageTimestamp,omitempty"`
	UnreadCount          int    `json:"unreadCount"`
	CreatedAt            string `json:"createdAt"`
}

type StartConversationResponse struct {
	Conversation ConversationResponse `json:"conversation"`
	VisitorToken string               `json:"visitorToken"`
	Message      MessageResponse      `json:"message"`
}

type PostVisitorMessageRequest struct {
	VisitorToken string `json:"visitorToken"`
	TempID       string `json:"tempId"`
	Content      string `json:"content"`
}

type PostAgentMessageRequest struct {
	Content string `json:"content"`
}

type AttachmentResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
}

type MessageResponse struct {
	ConversationID string               `json:"conversationId"`
	MessageID      string               `json:"messageId"`
	Content        string               `json:"content"`
	Attachments    []AttachmentResponse `json:"attachments,omitempty"`
	SenderID       string               `json:"senderId"`
	RecipientID    string               `json:"recipientId"`
	FromCustomer   bool                 `json:"fromCustomer"`
	Status         string               `json:"status"`
	CreatedAt      string               `json:"createdAt"`
}

type ListMessagesResponse struct {
	Data        []MessageResponse `json:"data"`
	HasNextPage bool              `json:"hasNextPage"`
	NextCursor  string            `json:"nextCursor,omitempty"`
}
