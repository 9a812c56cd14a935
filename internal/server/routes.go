package server

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	v1 "github.com/gosuda/chatlog/internal/api/v1"
	"github.com/gosuda/chatlog/internal/api/ws"
)

func registerAPIRoutes(api huma.API, deps Deps) {
	v1.RegisterHistoryRoutes(api, deps.History, deps.Clearer)
	v1.RegisterFavouriteRoutes(api, deps.Favourites)
}

func registerWSRoutes(r chi.Router, hub *ws.Hub) {
	r.Get("/chat", hub.ServeChat)
}
