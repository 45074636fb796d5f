package router

import (
	"net/http"

	"support-inbox-backend/internal/api"
	"support-inbox-backend/internal/api/endpoints"
	inboxservice "support-inbox-backend/internal/service/inbox"
)

func InboxWebsocketRoutes(prefix string) api.RouteRegistrar {
	return func(mux *http.ServeMux, s *api.APIServer) {
		service := inboxservice.New(s.Database(), s.Sessions(), s.Router())
		inboxEndpoints := endpoints.NewInboxEndpoints(service, s.Handler(), prefix)

		mux.HandleFunc(prefix+"/socket", s.MakeHTTPHandleFunc(inboxEndpoints.VisitorWebsocket))
		mux.HandleFunc(prefix+"/socket/agent", s.MakeHTTPHandleFunc(inboxEndpoints.AgentWebsocket))
	}
}
