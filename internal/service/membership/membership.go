package membership

import (
	"context"
	"errors"
	"strings"

	"support-inbox-backend/internal/database"
	"support-inbox-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrForbidden = errors.New("membership: user is not a member of this project")
	ErrNotFound  = errors.New("membership: not found")
)

// Validator is the project-membership contract consumed before any
// agent-facing read or write.
type Validator interface {
	ValidateMembership(ctx context.Context, projectID, userID string) error
}

type Service struct {
	db *database.Database
}

func New(db *database.Database) *Service {
	return &Service{db: db}
}

func (s *Service) ValidateMembership(ctx context.Context, projectID, userID string) error {
	if projectID == "" || userID == "" {
		return ErrForbidden
	}

	var member model.ProjectMemberItem
	err := s.db.Client.GetItem(
		ctx,
		model.ProjectMembersTable,
		map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: model.ProjectScopedPK(projectID, userID)},
		},
		&member,
	)
	if err != nil {
		if isNotFound(err) {
			return ErrForbidden
		}
		return err
	}
	return nil
}

func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "item not found")
}
