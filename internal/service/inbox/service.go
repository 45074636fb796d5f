package inbox

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/delivery"
	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/service/membership"
	"support-inbox-backend/internal/session"
	"support-inbox-backend/utils"

	"github.com/google/uuid"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

type Identity struct {
	UserID string
	Email  string
}

// Sessions is the registry lookup consumed before a delivery attempt.
type Sessions interface {
	Lookup(ctx context.Context, identity string) (session.Locator, error)
}

// Deliverer pushes a payload toward the connection a locator names.
type Deliverer interface {
	Deliver(ctx context.Context, locator session.Locator, payload interface{}) error
}

// MessageEvent is the payload pushed over a live connection when a message
// is routed.
type MessageEvent struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversationId"`
	MessageID      string             `json:"messageId"`
	Content        string             `json:"content"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
	SenderID       string             `json:"senderId"`
	RecipientID    string             `json:"recipientId"`
	FromCustomer   bool               `json:"fromCustomer"`
	CreatedAt      string             `json:"createdAt"`
}

const snippetLength = 120

type Service struct {
	repo        Repository
	members     membership.Validator
	sessions    Sessions
	router      Deliverer
	pushTimeout time.Duration
	now         func() time.Time
}

func New(db *database.Database, sessions *session.Registry, router *delivery.Router) *Service {
	return &Service{
		repo:        NewDynamoRepository(db),
		members:     membership.New(db),
		sessions:    sessions,
		router:      router,
		pushTimeout: 2 * time.Second,
		now:         time.Now,
	}
}

func NewWithDependencies(repo Repository, members membership.Validator, sessions Sessions, router Deliverer, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        repo,
		members:     members,
		sessions:    sessions,
		router:      router,
		pushTimeout: 2 * time.Second,
		now:         now,
	}
}

type StartConversationParams struct {
	ProjectID string
	Visitor   VisitorParams
	TempID    string
	Content   string
}

type VisitorParams struct {
	VisitorUID  string
	DisplayName string
	Metadata    map[string]string
}

type ConversationResult struct {
	Conversation model.ConversationItem
	VisitorToken string
	Message      model.MessageItem
}

type VisitorMessageParams struct {
	TempID         string
	VisitorUID     string
	ConversationID string
	Content        string
	Attachments    []model.Attachment
}

// StartConversation creates the visitor on first contact, opens the
// conversation lazily and routes the first message through the same
// transactional path as every later visitor message.
func (s *Service) StartConversation(ctx context.Context, params StartConversationParams) (ConversationResult, error) {
	projectID := strings.TrimSpace(params.ProjectID)
	content := strings.TrimSpace(params.Content)

	if projectID == "" {
		return ConversationResult{}, newError(ErrorCodeValidation, "projectId is required", nil)
	}
	if content == "" {
		return ConversationResult{}, newError(ErrorCodeValidation, "message content is required", nil)
	}

	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ConversationResult{}, newError(ErrorCodeNotFound, "project not found", err)
		}
		return ConversationResult{}, newError(ErrorCodeInternal, "failed to load project", err)
	}

	visitorUID := strings.TrimSpace(params.Visitor.VisitorUID)
	tempID := strings.TrimSpace(params.TempID)

	// A retried first message must not open a second conversation. The
	// commit-time dedupe guard only runs after CreateConversation, so the
	// idempotency key is checked up front when the caller supplied one.
	if visitorUID != "" && tempID != "" {
		_, err := s.repo.GetDedupe(ctx, model.DedupePK(visitorUID, tempID))
		if err == nil {
			return ConversationResult{}, newError(ErrorCodeConflict, "message already submitted for this tempId", nil)
		}
		if !errors.Is(err, ErrNotFound) {
			return ConversationResult{}, newError(ErrorCodeInternal, "failed to check idempotency key", err)
		}
	}

	if visitorUID == "" {
		visitorUID = uuid.NewString()
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339)

	visitor, err := s.repo.GetVisitor(ctx, visitorUID)
	if errors.Is(err, ErrNotFound) {
		visitor = model.VisitorItem{
			VisitorUID:  visitorUID,
			ProjectID:   projectID,
			DisplayName: strings.TrimSpace(params.Visitor.DisplayName),
			Metadata:    cloneStringMap(params.Visitor.Metadata),
			CreatedAt:   nowStr,
			LastSeenAt:  nowStr,
		}
		if err := s.repo.PutVisitor(ctx, visitor); err != nil {
			return ConversationResult{}, newError(ErrorCodeInternal, "failed to persist visitor", err)
		}
	} else if err != nil {
		return ConversationResult{}, newError(ErrorCodeInternal, "failed to lookup visitor", err)
	}

	conversation := model.ConversationItem{
		ConversationID: uuid.NewString(),
		ProjectID:      projectID,
		VisitorUID:     visitor.VisitorUID,
		Status:         model.ConversationStatusOpen,
		CreatedAt:      nowStr,
		UpdatedAt:      nowStr,
	}
	if err := s.repo.CreateConversation(ctx, conversation); err != nil {
		return ConversationResult{}, newError(ErrorCodeInternal, "failed to create conversation", err)
	}

	if tempID == "" {
		tempID = uuid.NewString()
	}

	message, err := s.CreateFromVisitor(ctx, VisitorMessageParams{
		TempID:         tempID,
		VisitorUID:     visitor.VisitorUID,
		ConversationID: conversation.ConversationID,
		Content:        content,
	})
	if err != nil {
		return ConversationResult{}, err
	}

	token, err := signVisitorToken(visitorTokenClaims{
		ProjectID:      projectID,
		ConversationID: conversation.ConversationID,
		VisitorUID:     visitor.VisitorUID,
		IssuedAt:       now.Unix(),
		ExpiresAt:      now.Add(visitorTokenTTL).Unix(),
	})
	if err != nil {
		return ConversationResult{}, newError(ErrorCodeInternal, "failed to issue visitor token", err)
	}

	conversation.LastMessageSnippet = utils.Truncate(content, snippetLength)
	conversation.LastMessageTimestamp = message.CreatedAt
	conversation.UnreadCount = 1

	return ConversationResult{
		Conversation: conversation,
		VisitorToken: token,
		Message:      message,
	}, nil
}

// CreateFromVisitor persists a visitor message transactionally together with
// the conversation summary update, then attempts delivery toward the
// project's agent inbox. The returned message carries its final status.
func (s *Service) CreateFromVisitor(ctx context.Context, params VisitorMessageParams) (model.MessageItem, error) {
	tempID := strings.TrimSpace(params.TempID)
	visitorUID := strings.TrimSpace(params.VisitorUID)
	conversationID := strings.TrimSpace(params.ConversationID)
	content := strings.TrimSpace(params.Content)

	if tempID == "" {
		return model.MessageItem{}, newError(ErrorCodeValidation, "tempId is required", nil)
	}
	if visitorUID == "" {
		return model.MessageItem{}, newError(ErrorCodeValidation, "visitorUid is required", nil)
	}
	if conversationID == "" {
		return model.MessageItem{}, newError(ErrorCodeValidation, "conversationId is required", nil)
	}
	if content == "" {
		return model.MessageItem{}, newError(ErrorCodeValidation, "message content is required", nil)
	}

	visitor, err := s.repo.GetVisitor(ctx, visitorUID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.MessageItem{}, newError(ErrorCodeNotFound, "visitor not found", err)
		}
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to lookup visitor", err)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.MessageItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}
	if conversation.VisitorUID != visitor.VisitorUID {
		return model.MessageItem{}, newError(ErrorCodeForbidden, "visitor does not own this conversation", nil)
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339)

	message := model.MessageItem{
		ConversationID: conversation.ConversationID,
		MessageID:      model.NewMessageID(now),
		Content:        content,
		Attachments:    params.Attachments,
		SenderID:       visitor.VisitorUID,
		RecipientID:    conversation.ProjectID,
		FromCustomer:   true,
		Status:         model.MessageStatusSending,
		CreatedAt:      nowStr,
	}

	dedupe := &model.MessageDedupeItem{
		PK:         model.DedupePK(visitor.VisitorUID, tempID),
		VisitorUID: visitor.VisitorUID,
		TempID:     tempID,
		MessageID:  message.MessageID,
		CreatedAt:  nowStr,
	}

	err = s.repo.CommitMessage(ctx, message, dedupe, ConversationUpdate{
		ConversationID:  conversation.ConversationID,
		Snippet:         utils.Truncate(content, snippetLength),
		Timestamp:       nowStr,
		IncrementUnread: true,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			return model.MessageItem{}, newError(ErrorCodeConflict, "message already submitted for this tempId", err)
		}
		if errors.Is(err, ErrNotFound) {
			return model.MessageItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to store message", err)
	}

	message.Status = s.finalizeDelivery(ctx, message, session.ProjectIdentity(conversation.ProjectID))
	return message, nil
}

// SendAgentReply persists an agent reply transactionally, then attempts
// delivery toward the visitor's live connection. The membership check runs
// before any write.
func (s *Service) SendAgentReply(ctx context.Context, identity Identity, conversationID, text string) (model.MessageItem, error) {
	conversationID = strings.TrimSpace(conversationID)
	text = strings.TrimSpace(text)

	if identity.UserID == "" {
		return model.MessageItem{}, newError(ErrorCodeUnauthorized, "invalid user identity", nil)
	}
	if conversationID == "" {
		return model.MessageItem{}, newError(ErrorCodeValidation, "conversationId is required", nil)
	}
	if text == "" {
		return model.MessageItem{}, newError(ErrorCodeValidation, "message content is required", nil)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.MessageItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	if err := s.members.ValidateMembership(ctx, conversation.ProjectID, identity.UserID); err != nil {
		if errors.Is(err, membership.ErrForbidden) {
			return model.MessageItem{}, newError(ErrorCodeForbidden, "user is not a member of this project", err)
		}
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to verify membership", err)
	}

	now := s.now().UTC()
	nowStr := now.Format(time.RFC3339)

	message := model.MessageItem{
		ConversationID: conversation.ConversationID,
		MessageID:      model.NewMessageID(now),
		Content:        text,
		SenderID:       identity.UserID,
		RecipientID:    conversation.VisitorUID,
		FromCustomer:   false,
		Status:         model.MessageStatusSending,
		CreatedAt:      nowStr,
	}

	err = s.repo.CommitMessage(ctx, message, nil, ConversationUpdate{
		ConversationID: conversation.ConversationID,
		Snippet:        utils.Truncate(text, snippetLength),
		Timestamp:      nowStr,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.MessageItem{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return model.MessageItem{}, newError(ErrorCodeInternal, "failed to store message", err)
	}

	message.Status = s.finalizeDelivery(ctx, message, session.VisitorIdentity(conversation.VisitorUID))
	return message, nil
}

// finalizeDelivery runs after the persistence transaction has committed. A
// missing session, a publish failure and a push timeout all resolve to
// DELIVERED; none of them can fail the overall operation. The status write
// is independent of the original transaction and is retried at most once.
func (s *Service) finalizeDelivery(ctx context.Context, message model.MessageItem, recipientIdentity string) model.MessageStatus {
	status := model.MessageStatusDelivered

	locator, err := s.sessions.Lookup(ctx, recipientIdentity)
	switch {
	case err == nil:
		pushCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
		if err := s.router.Deliver(pushCtx, locator, MessageEvent{
			Type:           "message.created",
			ConversationID: message.ConversationID,
			MessageID:      message.MessageID,
			Content:        message.Content,
			Attachments:    message.Attachments,
			SenderID:       message.SenderID,
			RecipientID:    message.RecipientID,
			FromCustomer:   message.FromCustomer,
			CreatedAt:      message.CreatedAt,
		}); err != nil {
			log.Printf("inbox: push for message %s failed, leaving DELIVERED: %v", message.MessageID, err)
		} else {
			status = model.MessageStatusSent
		}
		cancel()
	case errors.Is(err, session.ErrNoSession):
		// No live recipient; message stays at rest.
	default:
		log.Printf("inbox: session lookup for %s failed, leaving DELIVERED: %v", recipientIdentity, err)
	}

	if err := s.repo.UpdateMessageStatus(ctx, message.ConversationID, message.MessageID, status); err != nil {
		log.Printf("inbox: status update for message %s failed, retrying once: %v", message.MessageID, err)
		if err := s.repo.UpdateMessageStatus(ctx, message.ConversationID, message.MessageID, status); err != nil {
			log.Printf("inbox: status update retry for message %s failed: %v", message.MessageID, err)
		}
	}

	return status
}

func cloneStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}
