package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"support-inbox-backend/internal/service/inbox"
	"support-inbox-backend/internal/service/membership"
	"support-inbox-backend/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	hub        *Hub
	registry   *session.Registry
	inbox      *inbox.Service
	members    membership.Validator
	instanceID string
}

func NewHandler(hub *Hub, registry *session.Registry, inboxService *inbox.Service, members membership.Validator, instanceID string) *Handler {
	return &Handler{
		hub:        hub,
		registry:   registry,
		inbox:      inboxService,
		members:    members,
		instanceID: instanceID,
	}
}

// VisitorSocket upgrades a widget connection. The visitor token from the
// query string is the credential; its claims pin the conversation every
// inbound frame writes to.
func (h *Handler) VisitorSocket(w http.ResponseWriter, r *http.Request) {
	visitorSession, err := inbox.VerifyVisitorToken(r.URL.Query().Get("token"), time.Now())
	if err != nil {
		http.Error(w, "invalid visitor token", http.StatusUnauthorized)
		return
	}

	// The request context dies as soon as the upgrade handshake returns, so
	// frames handled afterwards must not inherit it.
	h.connect(w, r, session.VisitorIdentity(visitorSession.VisitorUID), func(cl *WSClient, frame []byte) {
		h.handleVisitorFrame(context.Background(), cl, visitorSession, frame)
	})
}

// AgentSocket upgrades a dashboard connection for one project's inbox. The
// caller resolves the agent identity from the bearer token before handing
// off here; membership is still checked against the requested project.
func (h *Handler) AgentSocket(w http.ResponseWriter, r *http.Request, userID string) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		http.Error(w, "projectId is required", http.StatusBadRequest)
		return
	}
	if err := h.members.ValidateMembership(r.Context(), projectID, userID); err != nil {
		if errors.Is(err, membership.ErrForbidden) {
			http.Error(w, "not a member of this project", http.StatusForbidden)
			return
		}
		http.Error(w, "failed to verify membership", http.StatusInternalServerError)
		return
	}

	// Agent sockets are receive-only; replies go through the HTTP API.
	h.connect(w, r, session.ProjectIdentity(projectID), nil)
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request, identity string, onFrame func(*WSClient, []byte)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cl := &WSClient{
		Conn:     conn,
		Message:  make(chan []byte, 16),
		ID:       uuid.NewString(),
		Identity: identity,
		done:     make(chan struct{}),
	}

	locator := session.Locator{InstanceID: h.instanceID, ConnectionID: cl.ID}
	if err := h.registry.Register(r.Context(), identity, locator); err != nil {
		log.Printf("Failed to register session for %s: %v", identity, err)
		conn.Close()
		return
	}

	h.hub.Register(cl)

	go cl.keepAlive()
	go cl.writeMessage()
	go cl.readMessage(
		func(frame []byte) {
			if err := h.registry.Touch(context.Background(), identity); err != nil {
				log.Printf("Failed to refresh session for %s: %v", identity, err)
			}
			if onFrame != nil {
				onFrame(cl, frame)
			}
		},
		func() {
			h.hub.Unregister(cl)
			if err := h.registry.Remove(context.Background(), identity); err != nil {
				log.Printf("Failed to remove session for %s: %v", identity, err)
			}
		},
	)
}

func (h *Handler) handleVisitorFrame(ctx context.Context, cl *WSClient, visitorSession inbox.VisitorSession, frame []byte) {
	var req VisitorFrame
	if err := json.Unmarshal(frame, &req); err != nil {
		cl.send(mustJSON(ErrorFrame{
			Type:    "message.error",
			Code:    string(inbox.ErrorCodeValidation),
			Message: "malformed frame",
		}))
		return
	}

	message, err := h.inbox.CreateFromVisitor(ctx, inbox.VisitorMessageParams{
		TempID:         req.TempID,
		VisitorUID:     visitorSession.VisitorUID,
		ConversationID: visitorSession.ConversationID,
		Content:        req.Content,
	})
	if err != nil {
		code := inbox.ErrorCodeInternal
		var svcErr *inbox.Error
		if errors.As(err, &svcErr) {
			code = svcErr.Code
		}
		cl.send(mustJSON(ErrorFrame{
			Type:    "message.error",
			TempID:  req.TempID,
			Code:    string(code),
			Message: err.Error(),
		}))
		return
	}

	cl.send(mustJSON(AckFrame{
		Type:      "message.ack",
		TempID:    req.TempID,
		MessageID: message.MessageID,
		Status:    string(message.Status),
	}))
}

func mustJSON(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal frame: %v", err)
		return []byte(`{"type":"message.error","code":"internal_error"}`)
	}
	return payload
}
