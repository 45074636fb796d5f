package inbox

import (
	"context"
	"errors"
	"strings"

	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/service/membership"
)

const (
	defaultPageLimit = 30
	maxPageLimit     = 100
)

type Page struct {
	Limit  int
	Cursor string
}

type MessagePage struct {
	Data        []model.MessageItem `json:"data"`
	HasNextPage bool                `json:"hasNextPage"`
	NextCursor  string              `json:"nextCursor,omitempty"`
}

// ListByConversation returns a page of messages in ascending creation order.
// The cursor walks backwards through history: each page is older than the
// one before, while the messages inside a page stay chronological so the
// client can append them above the transcript.
func (s *Service) ListByConversation(ctx context.Context, identity Identity, conversationID string, page Page) (MessagePage, error) {
	if identity.UserID == "" {
		return MessagePage{}, newError(ErrorCodeUnauthorized, "invalid user identity", nil)
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return MessagePage{}, newError(ErrorCodeValidation, "conversationId is required", nil)
	}

	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return MessagePage{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return MessagePage{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}

	if err := s.members.ValidateMembership(ctx, conversation.ProjectID, identity.UserID); err != nil {
		if errors.Is(err, membership.ErrForbidden) {
			return MessagePage{}, newError(ErrorCodeForbidden, "user is not a member of this project", err)
		}
		return MessagePage{}, newError(ErrorCodeInternal, "failed to verify membership", err)
	}

	return s.listPage(ctx, conversation.ConversationID, page)
}

// ListVisitorMessages is the widget-facing variant: the visitor token is the
// credential and pins both the conversation and the visitor it was issued to.
func (s *Service) ListVisitorMessages(ctx context.Context, token string, page Page) (MessagePage, error) {
	claims, err := verifyVisitorToken(token, s.now().UTC())
	if err != nil {
		return MessagePage{}, newError(ErrorCodeUnauthorized, "invalid visitor token", err)
	}

	conversation, err := s.repo.GetConversation(ctx, claims.ConversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return MessagePage{}, newError(ErrorCodeNotFound, "conversation not found", err)
		}
		return MessagePage{}, newError(ErrorCodeInternal, "failed to fetch conversation", err)
	}
	if conversation.VisitorUID != claims.VisitorUID {
		return MessagePage{}, newError(ErrorCodeForbidden, "visitor does not own this conversation", nil)
	}

	return s.listPage(ctx, conversation.ConversationID, page)
}

func (s *Service) listPage(ctx context.Context, conversationID string, page Page) (MessagePage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	// Fetch one extra row to learn whether an older page exists without a
	// second query.
	messages, err := s.repo.ListMessagesBefore(ctx, conversationID, strings.TrimSpace(page.Cursor), limit+1)
	if err != nil {
		return MessagePage{}, newError(ErrorCodeInternal, "failed to list messages", err)
	}

	hasNext := len(messages) > limit
	if hasNext {
		messages = messages[:limit]
	}

	// The store hands back newest-first; flip to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	result := MessagePage{
		Data:        messages,
		HasNextPage: hasNext,
	}
	if hasNext && len(messages) > 0 {
		result.NextCursor = messages[0].MessageID
	}
	return result, nil
}
