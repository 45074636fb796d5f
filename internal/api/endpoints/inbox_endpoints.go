package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"support-inbox-backend/internal/dto"
	internaljwt "support-inbox-backend/internal/jwt"
	"support-inbox-backend/internal/model"
	inboxservice "support-inbox-backend/internal/service/inbox"
	"support-inbox-backend/internal/websocket"
)

type InboxEndpoints interface {
	PublicConversations(http.ResponseWriter, *http.Request) error
	PublicConversationMessages(http.ResponseWriter, *http.Request) error
	ConversationMessages(http.ResponseWriter, *http.Request) error
	VisitorWebsocket(http.ResponseWriter, *http.Request) error
	AgentWebsocket(http.ResponseWriter, *http.Request) error
}

type InboxPaths struct {
	PublicConversationsPath          string
	PublicConversationMessagesPrefix string
	AgentConversationPrefix          string
}

type inboxEndpoints struct {
	service *inboxservice.Service
	handler *websocket.Handler
	paths   InboxPaths
}

func NewInboxEndpoints(service *inboxservice.Service, handler *websocket.Handler, prefix string) InboxEndpoints {
	base := strings.TrimRight(prefix, "/")
	return NewInboxEndpointsWithPaths(service, handler, InboxPaths{
		PublicConversationsPath:          base + "/public/conversations",
		PublicConversationMessagesPrefix: base + "/public/conversations/",
		AgentConversationPrefix:          base + "/conversations/",
	})
}

func NewInboxEndpointsWithPaths(service *inboxservice.Service, handler *websocket.Handler, paths InboxPaths) InboxEndpoints {
	return &inboxEndpoints{
		service: service,
		handler: handler,
		paths:   paths,
	}
}

func (h *inboxEndpoints) PublicConversations(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodPost: h.handleStartConversation,
	})
}

func (h *inboxEndpoints) PublicConversationMessages(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleListVisitorMessages,
		http.MethodPost: h.handlePostVisitorMessage,
	})
}

func (h *inboxEndpoints) ConversationMessages(w http.ResponseWriter, r *http.Request) error {
	return MethodHandler(w, r, map[string]func(http.ResponseWriter, *http.Request) error{
		http.MethodGet:  h.handleListMessages,
		http.MethodPost: h.handlePostAgentMessage,
	})
}

func (h *inboxEndpoints) VisitorWebsocket(w http.ResponseWriter, r *http.Request) error {
	if h.handler == nil {
		return &HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "Websocket not available",
			ErrorLog:   fmt.Errorf("websocket handler missing"),
		}
	}
	h.handler.VisitorSocket(w, r)
	return nil
}

func (h *inboxEndpoints) AgentWebsocket(w http.ResponseWriter, r *http.Request) error {
	if h.handler == nil {
		return &HTTPError{
			StatusCode: http.StatusServiceUnavailable,
			Message:    "Websocket not available",
			ErrorLog:   fmt.Errorf("websocket handler missing"),
		}
	}

	// Browsers cannot set headers on websocket upgrades, so the bearer
	// token arrives in the query string here.
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	identity, err := identityFromToken(token)
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Unauthorized",
			ErrorLog:   err,
		}
	}

	h.handler.AgentSocket(w, r, identity.UserID)
	return nil
}

func (h *inboxEndpoints) handleStartConversation(w http.ResponseWriter, r *http.Request) error {
	var req dto.StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode start conversation request: %w", err),
		}
	}

	result, err := h.service.StartConversation(r.Context(), inboxservice.StartConversationParams{
		ProjectID: strings.TrimSpace(req.ProjectID),
		Visitor: inboxservice.VisitorParams{
			VisitorUID:  strings.TrimSpace(req.Visitor.VisitorUID),
			DisplayName: strings.TrimSpace(req.Visitor.DisplayName),
			Metadata:    req.Visitor.Metadata,
		},
		TempID:  req.TempID,
		Content: req.Content,
	})
	if err != nil {
		return h.serviceError(err)
	}

	resp := dto.StartConversationResponse{
		Conversation: toConversationResponse(result.Conversation),
		VisitorToken: result.VisitorToken,
		Message:      toMessageResponse(result.Message),
	}

	return WriteJSON(w, http.StatusCreated, resp)
}

func (h *inboxEndpoints) handlePostVisitorMessage(w http.ResponseWriter, r *http.Request) error {
	convID, err := h.extractPublicMessagePath(r.URL.Path)
	if err != nil {
		return err
	}

	var req dto.PostVisitorMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode visitor message request: %w", err),
		}
	}

	token := strings.TrimSpace(req.VisitorToken)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Visitor-Token"))
	}
	visitorSession, err := inboxservice.VerifyVisitorToken(token, time.Now())
	if err != nil {
		return &HTTPError{
			StatusCode: http.StatusUnauthorized,
			Message:    "Invalid visitor token",
			ErrorLog:   err,
		}
	}
	if convID != "" && convID != visitorSession.ConversationID {
		return &HTTPError{
			StatusCode: http.StatusForbidden,
			Message:    "Token does not match conversation",
			ErrorLog:   fmt.Errorf("visitor message path mismatch: %s vs %s", convID, visitorSession.ConversationID),
		}
	}

	message, err := h.service.CreateFromVisitor(r.Context(), inboxservice.VisitorMessageParams{
		TempID:         req.TempID,
		VisitorUID:     visitorSession.VisitorUID,
		ConversationID: visitorSession.ConversationID,
		Content:        req.Content,
	})
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusCreated, toMessageResponse(message))
}

func (h *inboxEndpoints) handleListVisitorMessages(w http.ResponseWriter, r *http.Request) error {
	if _, err := h.extractPublicMessagePath(r.URL.Path); err != nil {
		return err
	}

	token := strings.TrimSpace(r.URL.Query().Get("visitorToken"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Visitor-Token"))
	}

	page, err := h.service.ListVisitorMessages(r.Context(), token, pageFromQuery(r))
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toListMessagesResponse(page))
}

func (h *inboxEndpoints) handleListMessages(w http.ResponseWriter, r *http.Request) error {
	conversationID, err := h.extractAgentConversationPath(r.URL.Path)
	if err != nil {
		return err
	}

	identity, err := identityFromRequest(r)
	if err != nil {
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: "Unauthorized", ErrorLog: err}
	}

	page, err := h.service.ListByConversation(r.Context(), identity, conversationID, pageFromQuery(r))
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusOK, toListMessagesResponse(page))
}

func (h *inboxEndpoints) handlePostAgentMessage(w http.ResponseWriter, r *http.Request) error {
	conversationID, err := h.extractAgentConversationPath(r.URL.Path)
	if err != nil {
		return err
	}

	identity, err := identityFromRequest(r)
	if err != nil {
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: "Unauthorized", ErrorLog: err}
	}

	var req dto.PostAgentMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{
			StatusCode: http.StatusBadRequest,
			Message:    "Invalid request payload",
			ErrorLog:   fmt.Errorf("decode agent message request: %w", err),
		}
	}

	message, err := h.service.SendAgentReply(r.Context(), identity, conversationID, req.Content)
	if err != nil {
		return h.serviceError(err)
	}

	return WriteJSON(w, http.StatusCreated, toMessageResponse(message))
}

func pageFromQuery(r *http.Request) inboxservice.Page {
	page := inboxservice.Page{
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			page.Limit = limit
		}
	}
	return page
}

func identityFromRequest(r *http.Request) (inboxservice.Identity, error) {
	token := ExtractTokenFromHeaders(r)
	if token == "" {
		return inboxservice.Identity{}, fmt.Errorf("missing bearer token")
	}
	return identityFromToken(token)
}

func identityFromToken(token string) (inboxservice.Identity, error) {
	claims, err := internaljwt.ParseToken(token, internaljwt.RoleUser)
	if err != nil {
		return inboxservice.Identity{}, err
	}

	identity := inboxservice.Identity{}
	if id, ok := claims["id"].(string); ok {
		identity.UserID = id
	}
	if email, ok := claims["email"].(string); ok {
		identity.Email = email
	}
	if identity.UserID == "" {
		return inboxservice.Identity{}, fmt.Errorf("token missing user id")
	}
	return identity, nil
}

func (h *inboxEndpoints) extractPublicMessagePath(path string) (string, error) {
	return extractConversationAction(path, h.paths.PublicConversationMessagesPrefix)
}

func (h *inboxEndpoints) extractAgentConversationPath(path string) (string, error) {
	return extractConversationAction(path, h.paths.AgentConversationPrefix)
}

func extractConversationAction(path, prefix string) (string, error) {
	if prefix == "" {
		return "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Conversation not found", ErrorLog: fmt.Errorf("route not configured")}
	}
	trimmed := strings.TrimPrefix(path, prefix)
	if trimmed == path {
		return "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Conversation not found", ErrorLog: fmt.Errorf("conversation path mismatch: %s", path)}
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[1] != "messages" {
		return "", &HTTPError{StatusCode: http.StatusNotFound, Message: "Conversation not found", ErrorLog: fmt.Errorf("invalid conversation path: %s", path)}
	}
	return parts[0], nil
}

func toConversationResponse(conversation model.ConversationItem) dto.ConversationResponse {
	return dto.ConversationResponse{
		ConversationID:       conversation.ConversationID,
		ProjectID:            conversation.ProjectID,
		VisitorUID:           conversation.VisitorUID,
		Status:               string(conversation.Status),
		LastMessageSnippet:   conversation.LastMessageSnippet,
		LastMessageTimestamp: conversation.LastMessageTimestamp,
		UnreadCount:          conversation.UnreadCount,
		CreatedAt:            conversation.CreatedAt,
	}
}

func toMessageResponse(message model.MessageItem) dto.MessageResponse {
	resp := dto.MessageResponse{
		ConversationID: message.ConversationID,
		MessageID:      message.MessageID,
		Content:        message.Content,
		SenderID:       message.SenderID,
		RecipientID:    message.RecipientID,
		FromCustomer:   message.FromCustomer,
		Status:         string(message.Status),
		CreatedAt:      message.CreatedAt,
	}
	for _, attachment := range message.Attachments {
		resp.Attachments = append(resp.Attachments, dto.AttachmentResponse{
			Name: attachment.Name,
			URL:  attachment.URL,
			Type: attachment.Type,
		})
	}
	return resp
}

func toListMessagesResponse(page inboxservice.MessagePage) dto.ListMessagesResponse {
	resp := dto.ListMessagesResponse{
		Data:        make([]dto.MessageResponse, len(page.Data)),
		HasNextPage: page.HasNextPage,
		NextCursor:  page.NextCursor,
	}
	for i, message := range page.Data {
		resp.Data[i] = toMessageResponse(message)
	}
	return resp
}

func (h *inboxEndpoints) serviceError(err error) error {
	if err == nil {
		return nil
	}

	svcErr, ok := err.(*inboxservice.Error)
	if !ok {
		return &HTTPError{
			StatusCode: http.StatusInternalServerError,
			Message:    "Internal server error",
			ErrorLog:   fmt.Errorf("inbox service: %w", err),
		}
	}

	var logErr error
	if svcErr.Err != nil {
		logErr = fmt.Errorf("%s: %w", svcErr.Message, svcErr.Err)
	} else {
		logErr = svcErr
	}

	switch svcErr.Code {
	case inboxservice.ErrorCodeValidation:
		return &HTTPError{StatusCode: http.StatusBadRequest, Message: svcErr.Message, ErrorLog: logErr}
	case inboxservice.ErrorCodeUnauthorized:
		return &HTTPError{StatusCode: http.StatusUnauthorized, Message: svcErr.Message, ErrorLog: logErr}
	case inboxservice.ErrorCodeForbidden:
		return &HTTPError{StatusCode: http.StatusForbidden, Message: svcErr.Message, ErrorLog: logErr}
	case inboxservice.ErrorCodeNotFound:
		return &HTTPError{StatusCode: http.StatusNotFound, Message: svcErr.Message, ErrorLog: logErr}
	case inboxservice.ErrorCodeConflict:
		return &HTTPError{StatusCode: http.StatusConflict, Message: svcErr.Message, ErrorLog: logErr}
	default:
		return &HTTPError{StatusCode: http.StatusInternalServerError, Message: "Internal server error", ErrorLog: logErr}
	}
}
