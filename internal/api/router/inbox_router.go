package router

import (
	"net/http"
	"strings"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/endpoints"
	"support-inbox-backend/internal/api/middleware"
	inboxservice "support-inbox-backend/internal/service/inbox"
)

func InboxPublicRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		service := inboxservice.New(s.Database(), s.Sessions(), s.Router())
		paths := endpoints.InboxPaths{
			PublicConversationsPath:          strings.TrimRight(prefix, "/") + "/conversations",
			PublicConversationMessagesPrefix: strings.TrimRight(prefix, "/") + "/conversations/",
		}
		inboxEndpoints := endpoints.NewInboxEndpointsWithPaths(service, s.Handler(), paths)

		mux.HandleFunc(prefix+"/conversations", s.MakeHTTPHandleFunc(inboxEndpoints.PublicConversations))
		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(inboxEndpoints.PublicConversationMessages))
	}
}

func InboxAgentRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		service := inboxservice.New(s.Database(), s.Sessions(), s.Router())
		paths := endpoints.InboxPaths{
			AgentConversationPrefix: strings.TrimRight(prefix, "/") + "/conversations/",
		}
		inboxEndpoints := endpoints.NewInboxEndpointsWithPaths(service, s.Handler(), paths)

		mux.HandleFunc(prefix+"/conversations/", s.MakeHTTPHandleFunc(inboxEndpoints.ConversationMessages, middleware.ValidateUserJWT))
	}
}
