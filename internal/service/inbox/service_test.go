package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"support-inbox-backend/internal/model"
	"support-inbox-backend/internal/service/membership"
	"support-inbox-backend/internal/session"
)

type memoryRepository struct {
	mu            sync.Mutex
	projects      map[string]model.ProjectItem
	visitors      map[string]model.VisitorItem
	conversations map[string]model.ConversationItem
	messages      map[string][]model.MessageItem
	dedupe        map[string]model.MessageDedupeItem

	statusFailures int
	statusWrites   int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		projects:      make(map[string]model.ProjectItem),
		visitors:      make(map[string]model.VisitorItem),
		conversations: make(map[string]model.ConversationItem),
		messages:      make(map[string][]model.MessageItem),
		dedupe:        make(map[string]model.MessageDedupeItem),
	}
}

func (r *memoryRepository) GetProject(_ context.Context, projectID string) (model.ProjectItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[projectID]
	if !ok {
		return model.ProjectItem{}, ErrNotFound
	}
	return project, nil
}

func (r *memoryRepository) GetVisitor(_ context.Context, visitorUID string) (model.VisitorItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	visitor, ok := r.visitors[visitorUID]
	if !ok {
		return model.VisitorItem{}, ErrNotFound
	}
	return visitor, nil
}

func (r *memoryRepository) PutVisitor(_ context.Context, visitor model.VisitorItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visitors[visitor.VisitorUID] = visitor
	return nil
}

func (r *memoryRepository) GetConversation(_ context.Context, conversationID string) (model.ConversationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conversation, ok := r.conversations[conversationID]
	if !ok {
		return model.ConversationItem{}, ErrNotFound
	}
	return conversation, nil
}

func (r *memoryRepository) CreateConversation(_ context.Context, conversation model.ConversationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conversation.ConversationID] = conversation
	return nil
}

func (r *memoryRepository) GetDedupe(_ context.Context, pk string) (model.MessageDedupeItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.dedupe[pk]
	if !ok {
		return model.MessageDedupeItem{}, ErrNotFound
	}
	return item, nil
}

func (r *memoryRepository) CommitMessage(_ context.Context, message model.MessageItem, dedupe *model.MessageDedupeItem, update ConversationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conversation, ok := r.conversations[update.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if dedupe != nil {
		if _, exists := r.dedupe[dedupe.PK]; exists {
			return ErrDuplicate
		}
		r.dedupe[dedupe.PK] = *dedupe
	}

	r.messages[message.ConversationID] = append(r.messages[message.ConversationID], message)

	conversation.LastMessageSnippet = update.Snippet
	conversation.LastMessageTimestamp = update.Timestamp
	conversation.UpdatedAt = update.Timestamp
	if update.IncrementUnread {
		conversation.UnreadCount++
	}
	r.conversations[update.ConversationID] = conversation
	return nil
}

func (r *memoryRepository) UpdateMessageStatus(_ context.Context, conversationID, messageID string, status model.MessageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statusWrites++
	if r.statusFailures > 0 {
		r.statusFailures--
		return errors.New("write throttled")
	}

	for i, message := range r.messages[conversationID] {
		if message.MessageID == messageID {
			r.messages[conversationID][i].Status = status
			return nil
		}
	}
	return ErrNotFound
}

func (r *memoryRepository) ListMessagesBefore(_ context.Context, conversationID, cursor string, limit int) ([]model.MessageItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.MessageItem
	for _, message := range r.messages[conversationID] {
		if cursor != "" && message.MessageID >= cursor {
			continue
		}
		out = append(out, message)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MessageID > out[j].MessageID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryRepository) storedMessage(conversationID, messageID string) (model.MessageItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, message := range r.messages[conversationID] {
		if message.MessageID == messageID {
			return message, true
		}
	}
	return model.MessageItem{}, false
}

type memoryMembers struct {
	mu      sync.Mutex
	allowed map[string]bool
}

func (m *memoryMembers) ValidateMembership(_ context.Context, projectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowed[projectID+"#"+userID] {
		return nil
	}
	return membership.ErrForbidden
}

func (m *memoryMembers) allow(projectID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowed == nil {
		m.allowed = make(map[string]bool)
	}
	m.allowed[projectID+"#"+userID] = true
}

type fakeSessions struct {
	mu       sync.Mutex
	locators map[string]session.Locator
	err      error
}

func (f *fakeSessions) Lookup(_ context.Context, identity string) (session.Locator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return session.Locator{}, f.err
	}
	locator, ok := f.locators[identity]
	if !ok {
		return session.Locator{}, session.ErrNoSession
	}
	return locator, nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	err       error
	delivered []session.Locator
	payloads  []interface{}
}

func (f *fakeDeliverer) Deliver(_ context.Context, locator session.Locator, payload interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, locator)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

// testClock hands out strictly increasing times so generated message IDs
// sort in call order.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type fixture struct {
	repo     *memoryRepository
	members  *memoryMembers
	sessions *fakeSessions
	router   *fakeDeliverer
	service  *Service
}

func newFixture() *fixture {
	repo := newMemoryRepository()
	members := &memoryMembers{}
	sessions := &fakeSessions{locators: make(map[string]session.Locator)}
	router := &fakeDeliverer{}
	return &fixture{
		repo:     repo,
		members:  members,
		sessions: sessions,
		router:   router,
		service:  NewWithDependencies(repo, members, sessions, router, newTestClock().Now),
	}
}

func (f *fixture) seedConversation() {
	f.repo.projects["project-1"] = model.ProjectItem{ProjectID: "project-1", Name: "Acme"}
	f.repo.visitors["abc-123"] = model.VisitorItem{
		VisitorUID: "abc-123",
		ProjectID:  "project-1",
	}
	f.repo.conversations["conv-1"] = model.ConversationItem{
		ConversationID: "conv-1",
		ProjectID:      "project-1",
		VisitorUID:     "abc-123",
		Status:         model.ConversationStatusOpen,
	}
}

func serviceErrorCode(t *testing.T, err error) ErrorCode {
	t.Helper()
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	return svcErr.Code
}

func TestCreateFromVisitorDeliversWhenAgentOnline(t *testing.T) {
	f := newFixture()
	f.seedConversation()
	f.sessions.locators[session.ProjectIdentity("project-1")] = session.Locator{
		InstanceID:   "instance-a",
		ConnectionID: "conn-1",
	}

	message, err := f.service.CreateFromVisitor(context.Background(), VisitorMessageParams{
		TempID:         "t1",
		VisitorUID:     "abc-123",
		ConversationID: "conv-1",
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("CreateFromVisitor failed: %v", err)
	}
	if message.Status != model.MessageStatusSent {
		t.Fatalf("expected status SENT, got %s", message.Status)
	}
	if !message.FromCustomer {
		t.Fatal("expected message marked as from customer")
	}
	if f.router.count() != 1 {
		t.Fatalf("expected one delivery, got %d", f.router.count())
	}
	if f.router.delivered[0].InstanceID != "instance-a" {
		t.Fatalf("delivered to wrong instance: %s", f.router.delivered[0].InstanceID)
	}

	stored, ok := f.repo.storedMessage("conv-1", message.MessageID)
	if !ok {
		t.Fatal("message not persisted")
	}
	if stored.Status != model.MessageStatusSent {
		t.Fatalf("stored status = %s, want SENT", stored.Status)
	}

	conversation := f.repo.conversations["conv-1"]
	if conversation.UnreadCount != 1 {
		t.Fatalf("unread count = %d, want 1", conversation.UnreadCount)
	}
	if conversation.LastMessageSnippet != "hello" {
		t.Fatalf("snippet = %q, want %q", conversation.LastMessageSnippet, "hello")
	}
}

func TestCreateFromVisitorNoAgentSession(t *testing.T) {
	f := newFixture()
	f.seedConversation()

	message, err := f.service.CreateFromVisitor(context.Background(), VisitorMessageParams{
		TempID:         "t1",
		VisitorUID:     "abc-123",
		ConversationID: "conv-1",
		Content:        "anyone there?",
	})
	if err != nil {
		t.Fatalf("CreateFromVisitor failed: %v", err)
	}
	if message.Status != model.MessageStatusDelivered {
		t.Fatalf("expected status DELIVERED, got %s", message.Status)
	}
	if f.router.count() != 0 {
		t.Fatalf("expected no delivery attempts, got %d", f.router.count())
	}
}

func TestCreateFromVisitorPushFailureResolvesDelivered(t *testing.T) {
	f := newFixture()
	f.seedConversation()
	f.sessions.locators[session.ProjectIdentity("project-1")] = session.Locator{
		InstanceID:   "instance-a",
		ConnectionID: "conn-1",
	}
	f.router.err = errors.New("bus unavailable")

	message, err := f.service.CreateFromVisitor(context.Background(), VisitorMessageParams{
		TempID:         "t1",
		VisitorUID:     "abc-123",
		ConversationID: "conv-1",
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("push failure must not fail the operation: %v", err)
	}
	if message.Status != model.MessageStatusDelivered {
		t.Fatalf("expected status DELIVERED, got %s", message.Status)
	}
}

func TestCreateFromVisitorDuplicateTempID(t *testing.T) {
	f := newFixture()
	f.seedConversation()

	params := VisitorMessageParams{
		TempID:         "t1",
		VisitorUID:     "abc-123",
		ConversationID: "conv-1",
		Content:        "hello",
	}
	if _, err := f.service.CreateFromVisitor(context.Background(), params); err != nil {
		t.Fatalf("first submission failed: %v", err)
	}

	_, err := f.service.CreateFromVisitor(context.Background(), params)
	if code := serviceErrorCode(t, err); code != ErrorCodeConflict {
		t.Fatalf("expected conflict, got %s", code)
	}
	if got := len(f.repo.messages["conv-1"]); got != 1 {
		t.Fatalf("expected 1 stored message, got %d", got)
	}
	if f.repo.conversations["conv-1"].UnreadCount != 1 {
		t.Fatalf("unread count = %d, want 1", f.repo.conversations["conv-1"].UnreadCount)
	}
}

func TestCreateFromVisitorValidation(t *testing.T) {
	f := newFixture()
	f.seedConversation()

	cases := []VisitorMessageParams{
		{VisitorUID: "abc-123", ConversationID: "conv-1", Content: "hi"},
		{TempID: "t1", ConversationID: "conv-1", Content: "hi"},
		{TempID: "t1", VisitorUID: "abc-123", Content: "hi"},
		{TempID: "t1", VisitorUID: "abc-123", ConversationID: "conv-1", Content: "   "},
	}
	for i, params := range cases {
		_, err := f.service.CreateFromVisitor(context.Background(), params)
		if code := serviceErrorCode(t, err); code != ErrorCodeValidation {
			t.Fatalf("case %d: expected validation error, got %s", i, code)
		}
	}
}

func TestCreateFromVisitorUnknownConversation(t *testing.T) {
	f := newFixture()
	f.seedConversation()

	_, err := f.service.CreateFromVisitor(context.Background(), VisitorMessageParams{
		TempID:         "t1",
		VisitorUID:     "abc-123",
		ConversationID: "missing",
		Content:        "hello",
	})
	if code := serviceErrorCode(t, err); code != ErrorCodeNotFound {
		t.Fatalf("expected not_found, got %s", code)
	}
}

func TestCreateFromVisitorForeignConversation(t *testing.T) {
	f := newFixture()
	f.seedConversation()
	f.repo.visitors["other"] = model.VisitorItem{VisitorUID: "other", ProjectID: "project-1"}

	_, err := f.service.CreateFromVisitor(context.Background(), VisitorMessageParams{
		TempID:         "t1",
		VisitorUID:     "other",
		ConversationID: "conv-1",
		Content:        "hello",
	})
	if code := serviceErrorCode(t, err); code != ErrorCodeForbidden {
		t.Fatalf("expected forbidden, got %s", code)
	}
	if got := len(f.repo.messages["conv-1"]); got != 0 {
		t.Fatalf("expected no stored messages, got %d", got)
	}
}

func TestSendAgentReplyRoutedToVisitor(t *testing.T) {
	f := newFixture()
	f.seedConversation()
	f.members.allow("project-1", "agent-1")
	f.sessions.locators[session.VisitorIdentity("abc-123")] = session.Locator{
		InstanceID:   "instance-b",
		ConnectionID: "conn-9",
	}

	message, err := f.service.SendAgentReply(context.Background(), Identity{UserID: "agent-1"}, "conv-1", "hi there")
	if err != nil {
		t.Fatalf("SendAgentReply failed: %v", err)
	}
	if message.Status != model.MessageStatusSent {
		t.Fatalf("expected status SENT, got %s", message.Status)
	}
	if message.FromCustomer {
		t.Fatal("agent reply must not be marked from customer")
	}
	if f.router.count() != 1 {
		t.Fatalf("expected one delivery, got %d", f.router.count())
	}
	if f.router.delivered[0].InstanceID != "instance-b" {
		t.Fatalf("delivered to wrong instance: %s", f.router.delivered[0].InstanceID)
	}
	if f.repo.conversations["conv-1"].UnreadCount != 0 {
		t.Fatalf("agent reply must not touch unread count, got %d", f.repo.conversations["conv-1"].UnreadCount)
	}
}

func TestSendAgentReplyForbiddenBeforeWrite(t *testing.T) {
	f := newFixture()
	f.seedConversation()

	_, err := f.service.SendAgentReply(context.Background(), Identity{UserID: "stranger"}, "conv-1", "hi")
	if code := serviceErrorCode(t, err); code != ErrorCodeForbidden {
		t.Fatalf("expected forbidden, got %s", code)
	}
	if got := len(f.repo.messages["conv-1"]); got != 0 {
		t.Fatalf("forbidden reply must not persist, got %d messages", got)
	}
}

func TestSendAgentReplyUnknownConversation(t *testing.T) {
	f := newFixture()
	f.members.allow("project-1", "agent-1")

	_, err := f.service.SendAgentReply(context.Background(), Identity{UserID: "agent-1"}, "missing", "hi")
	if code := serviceErrorCode(t, err); code != ErrorCodeNotFound {
		t.Fatalf("expected not_found, got %s", code)
	}
}

func TestStatusUpdateRetriedOnce(t *testing.T) {
	f := newFixture()
	f.seedConversation()
	f.repo.statusFailures = 1

	message, err := f.service.CreateFromVisitor(context.Background(), VisitorMessageParams{
		TempID:         "t1",
		VisitorUID:     "abc-123",
		ConversationID: "conv-1",
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("CreateFromVisitor failed: %v", err)
	}
	if message.Status != model.MessageStatusDelivered {
		t.Fatalf("expected status DELIVERED, got %s", message.Status)
	}
	if f.repo.statusWrites != 2 {
		t.Fatalf("expected 2 status write attempts, got %d", f.repo.statusWrites)
	}
	stored, _ := f.repo.storedMessage("conv-1", message.MessageID)
	if stored.Status != model.MessageStatusDelivered {
		t.Fatalf("stored status = %s, want DELIVERED", stored.Status)
	}
}

func TestStatusUpdateFailureAbsorbedAfterRetry(t *testing.T) {
	f := newFixture()
	f.seedConversation()
	f.repo.statusFailures = 2

	message, err := f.service.CreateFromVisitor(context.Background(), VisitorMessageParams{
		TempID:         "t1",
		VisitorUID:     "abc-123",
		ConversationID: "conv-1",
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("status write failures must not surface: %v", err)
	}
	if f.repo.statusWrites != 2 {
		t.Fatalf("expected exactly 2 status write attempts, got %d", f.repo.statusWrites)
	}
	if message.Status != model.MessageStatusDelivered {
		t.Fatalf("expected status DELIVERED, got %s", message.Status)
	}
}

func TestConcurrentVisitorMessagesIncrementUnread(t *testing.T) {
	f := newFixture()
	f.seedConversation()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := f.service.CreateFromVisitor(context.Background(), VisitorMessageParams{
				TempID:         fmt.Sprintf("t-%d", i),
				VisitorUID:     "abc-123",
				ConversationID: "conv-1",
				Content:        fmt.Sprintf("message %d", i),
			})
			if err != nil {
				t.Errorf("message %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if got := f.repo.conversations["conv-1"].UnreadCount; got != n {
		t.Fatalf("unread count = %d, want %d", got, n)
	}
	if got := len(f.repo.messages["conv-1"]); got != n {
		t.Fatalf("stored messages = %d, want %d", got, n)
	}
}

func TestStartConversationCreatesVisitorAndIssuesToken(t *testing.T) {
	SetVisitorTokenSecret("test-secret")
	t.Cleanup(func() { SetVisitorTokenSecret("") })

	f := newFixture()
	f.repo.projects["project-1"] = model.ProjectItem{ProjectID: "project-1", Name: "Acme"}

	result, err := f.service.StartConversation(context.Background(), StartConversationParams{
		ProjectID: "project-1",
		Visitor:   VisitorParams{DisplayName: "Ola"},
		TempID:    "t1",
		Content:   "hello there",
	})
	if err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}
	if result.VisitorToken == "" {
		t.Fatal("expected a visitor token")
	}
	if result.Conversation.Status != model.ConversationStatusOpen {
		t.Fatalf("conversation status = %s, want open", result.Conversation.Status)
	}
	if result.Conversation.UnreadCount != 1 {
		t.Fatalf("unread count = %d, want 1", result.Conversation.UnreadCount)
	}
	if result.Message.Status == model.MessageStatusSending {
		t.Fatal("returned message must never carry the transient SENDING status")
	}

	visitor, ok := f.repo.visitors[result.Conversation.VisitorUID]
	if !ok {
		t.Fatal("visitor not persisted")
	}
	if visitor.ProjectID != "project-1" {
		t.Fatalf("visitor project = %s, want project-1", visitor.ProjectID)
	}

	claims, err := verifyVisitorToken(result.VisitorToken, time.Now())
	if err != nil {
		t.Fatalf("issued token failed verification: %v", err)
	}
	if claims.ConversationID != result.Conversation.ConversationID {
		t.Fatalf("token conversation = %s, want %s", claims.ConversationID, result.Conversation.ConversationID)
	}
}

func TestStartConversationRetrySameTempID(t *testing.T) {
	SetVisitorTokenSecret("test-secret")
	t.Cleanup(func() { SetVisitorTokenSecret("") })

	f := newFixture()
	f.repo.projects["project-1"] = model.ProjectItem{ProjectID: "project-1", Name: "Acme"}

	params := StartConversationParams{
		ProjectID: "project-1",
		Visitor:   VisitorParams{VisitorUID: "abc-123"},
		TempID:    "t1",
		Content:   "hello there",
	}
	if _, err := f.service.StartConversation(context.Background(), params); err != nil {
		t.Fatalf("first StartConversation failed: %v", err)
	}

	_, err := f.service.StartConversation(context.Background(), params)
	if code := serviceErrorCode(t, err); code != ErrorCodeConflict {
		t.Fatalf("expected conflict, got %s", code)
	}
	if len(f.repo.conversations) != 1 {
		t.Fatalf("conversation count = %d, want 1: retry must not open a second conversation", len(f.repo.conversations))
	}
}

func TestStartConversationUnknownProject(t *testing.T) {
	f := newFixture()

	_, err := f.service.StartConversation(context.Background(), StartConversationParams{
		ProjectID: "missing",
		Content:   "hello",
	})
	if code := serviceErrorCode(t, err); code != ErrorCodeNotFound {
		t.Fatalf("expected not_found, got %s", code)
	}
}
