package websocket

// VisitorFrame is what the widget sends over an open socket: a client-side
// temp ID for idempotent retries plus the message body.
type VisitorFrame struct {
	TempID  string `json:"tempId"`
	Content string `json:"content"`
}

type AckFrame struct {
	Type      string `json:"type"`
	TempID    string `json:"tempId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	TempID  string `json:"tempId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
