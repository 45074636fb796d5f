package inbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrNotFound  = errors.New("inbox repository: not found")
	ErrDuplicate = errors.New("inbox repository: duplicate idempotency key")
)

// ConversationUpdate carries the denormalized summary fields written
// atomically with every message insert. IncrementUnread is set only for
// visitor-originated messages.
type ConversationUpdate struct {
	ConversationID  string
	Snippet         string
	Timestamp       string
	IncrementUnread bool
}

type Repository interface {
	GetProject(ctx context.Context, projectID string) (model.ProjectItem, error)
	GetVisitor(ctx context.Context, visitorUID string) (model.VisitorItem, error)
	PutVisitor(ctx context.Context, visitor model.VisitorItem) error
	GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error)
	CreateConversation(ctx context.Context, conversation model.ConversationItem) error
	GetDedupe(ctx context.Context, pk string) (model.MessageDedupeItem, error)
	CommitMessage(ctx context.Context, message model.MessageItem, dedupe *model.MessageDedupeItem, update ConversationUpdate) error
	UpdateMessageStatus(ctx context.Context, conversationID, messageID string, status model.MessageStatus) error
	ListMessagesBefore(ctx context.Context, conversationID, cursor string, limit int) ([]model.MessageItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetProject(ctx context.Context, projectID string) (model.ProjectItem, error) {
	var project model.ProjectItem
	err := r.db.Client.GetItem(
		ctx,
		model.ProjectsTable,
		map[string]types.AttributeValue{
			"projectId": &types.AttributeValueMemberS{Value: projectID},
		},
		&project,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ProjectItem{}, ErrNotFound
		}
		return model.ProjectItem{}, err
	}
	return project, nil
}

func (r *DynamoRepository) GetVisitor(ctx context.Context, visitorUID string) (model.VisitorItem, error) {
	var visitor model.VisitorItem
	err := r.db.Client.GetItem(
		ctx,
		model.VisitorsTable,
		map[string]types.AttributeValue{
			"visitorUid": &types.AttributeValueMemberS{Value: visitorUID},
		},
		&visitor,
	)
	if err != nil {
		if isNotFound(err) {
			return model.VisitorItem{}, ErrNotFound
		}
		return model.VisitorItem{}, err
	}
	return visitor, nil
}

func (r *DynamoRepository) PutVisitor(ctx context.Context, visitor model.VisitorItem) error {
	return r.db.Client.PutItem(ctx, model.VisitorsTable, visitor)
}

func (r *DynamoRepository) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	var conversation model.ConversationItem
	err := r.db.Client.GetItem(
		ctx,
		model.ConversationsTable,
		map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		},
		&conversation,
	)
	if err != nil {
		if isNotFound(err) {
			return model.ConversationItem{}, ErrNotFound
		}
		return model.ConversationItem{}, err
	}
	return conversation, nil
}

func (r *DynamoRepository) CreateConversation(ctx context.Context, conversation model.ConversationItem) error {
	return r.db.Client.PutItem(ctx, model.ConversationsTable, conversation)
}

func (r *DynamoRepository) GetDedupe(ctx context.Context, pk string) (model.MessageDedupeItem, error) {
	var item model.MessageDedupeItem
	err := r.db.Client.GetItem(
		ctx,
		model.MessageDedupeTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
		},
		&item,
	)
	if err != nil {
		if isNotFound(err) {
			return model.MessageDedupeItem{}, ErrNotFound
		}
		return model.MessageDedupeItem{}, err
	}
	return item, nil
}

// CommitMessage persists the message, the optional dedupe guard and the
// conversation summary update in one TransactWriteItems commit. Nothing here
// touches the network delivery path; durability never waits on a push.
func (r *DynamoRepository) CommitMessage(ctx context.Context, message model.MessageItem, dedupe *model.MessageDedupeItem, update ConversationUpdate) error {
	messageAV, err := attributevalue.MarshalMap(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	items := []types.TransactWriteItem{}

	if dedupe != nil {
		dedupeAV, err := attributevalue.MarshalMap(*dedupe)
		if err != nil {
			return fmt.Errorf("marshal dedupe item: %w", err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(model.MessageDedupeTable),
				Item:                dedupeAV,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			},
		})
	}

	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName: aws.String(model.MessagesTable),
			Item:      messageAV,
		},
	})

	updateExpr := "SET lastMessageSnippet = :snippet, lastMessageTimestamp = :ts, updatedAt = :ts"
	exprValues := map[string]types.AttributeValue{
		":snippet": &types.AttributeValueMemberS{Value: update.Snippet},
		":ts":      &types.AttributeValueMemberS{Value: update.Timestamp},
	}
	if update.IncrementUnread {
		updateExpr += " ADD unreadCount :one"
		exprValues[":one"] = &types.AttributeValueMemberN{Value: "1"}
	}

	items = append(items, types.TransactWriteItem{
		Update: &types.Update{
			TableName: aws.String(model.ConversationsTable),
			Key: map[string]types.AttributeValue{
				"conversationId": &types.AttributeValueMemberS{Value: update.ConversationID},
			},
			UpdateExpression:          aws.String(updateExpr),
			ExpressionAttributeValues: exprValues,
			ConditionExpression:       aws.String("attribute_exists(conversationId)"),
		},
	})

	if err := r.db.Client.TransactWrite(ctx, items); err != nil {
		return commitError(err, dedupe != nil)
	}
	return nil
}

// commitError maps a failed commit to the sentinel matching the item whose
// condition tripped. The dedupe guard, when present, is the first transact
// item; the conversation existence check is always the last.
func commitError(err error, dedupeIncluded bool) error {
	if !database.IsConditionalCheckFailed(err) {
		return err
	}

	indexes := database.ConditionalCheckFailedIndexes(err)
	if dedupeIncluded {
		if len(indexes) == 0 {
			return ErrDuplicate
		}
		for _, i := range indexes {
			if i == 0 {
				return ErrDuplicate
			}
		}
		return ErrNotFound
	}
	return ErrNotFound
}

func (r *DynamoRepository) UpdateMessageStatus(ctx context.Context, conversationID, messageID string, status model.MessageStatus) error {
	return r.db.Client.UpdateItem(
		ctx,
		model.MessagesTable,
		map[string]types.AttributeValue{
			"conversationId": &types.AttributeValueMemberS{Value: conversationID},
			"messageId":      &types.AttributeValueMemberS{Value: messageID},
		},
		"SET #status = :status",
		map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		map[string]string{
			"#status": "status",
		},
		nil,
	)
}

// ListMessagesBefore returns up to limit messages older than the cursor,
// newest first. Message ids sort in creation order, so the range-key
// comparison doubles as the createdAt ordering.
func (r *DynamoRepository) ListMessagesBefore(ctx context.Context, conversationID, cursor string, limit int) ([]model.MessageItem, error) {
	keyCond := "conversationId = :conversationId"
	exprValues := map[string]types.AttributeValue{
		":conversationId": &types.AttributeValueMemberS{Value: conversationID},
	}
	if cursor != "" {
		keyCond += " AND messageId < :cursor"
		exprValues[":cursor"] = &types.AttributeValueMemberS{Value: cursor}
	}

	items, err := r.db.Client.QueryItemsWithLimit(
		ctx,
		model.MessagesTable,
		keyCond,
		exprValues,
		nil,
		limit,
		false,
	)
	if err != nil {
		return nil, err
	}

	messages := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var message model.MessageItem
		if err := attributevalue.UnmarshalMap(item, &message); err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
