package model

import "fmt"

const (
	ProjectsTable       = "Projects"
	ProjectMembersTable = "ProjectMembers"
	VisitorsTable       = "Visitors"
	ConversationsTable  = "Conversations"
	MessagesTable       = "Messages"
	MessageDedupeTable  = "MessageDedupe"
)

// Key layout:
//   Visitors       pk = visitorUid (globally unique)
//   Conversations  pk = conversationId
//   Messages       conversationId (hash) + messageId (range)
//   MessageDedupe  pk = visitorUid#tempId
//   ProjectMembers pk = projectId#userId

type ProjectItem struct {
	ProjectID string   `dynamodbav:"projectId"`
	Name      string   `dynamodbav:"name"`
	SiteURL   string   `dynamodbav:"siteUrl,omitempty"`
	CreatedAt string   `dynamodbav:"createdAt"`
	Domains   []string `dynamodbav:"whitelistedDomains,omitempty"`
}

type ProjectMemberItem struct {
	PK        string `dynamodbav:"pk"`
	ProjectID string `dynamodbav:"projectId"`
	UserID    string `dynamodbav:"userId"`
	Role      string `dynamodbav:"role"`
	CreatedAt string `dynamodbav:"createdAt"`
}

type MessageDedupeItem struct {
	PK         string `dynamodbav:"pk"`
	VisitorUID string `dynamodbav:"visitorUid"`
	TempID     string `dynamodbav:"tempId"`
	MessageID  string `dynamodbav:"messageId"`
	CreatedAt  string `dynamodbav:"createdAt"`
}

func ProjectScopedPK(projectID, entityID string) string {
	return fmt.Sprintf("%s#%s", projectID, entityID)
}

func DedupePK(visitorUID, tempID string) string {
	return fmt.Sprintf("%s#%s", visitorUID, tempID)
}
