package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cppla/learnquest/realtime"
	"github.com/cppla/learnquest/utils"
)

// WSController upgrades authenticated requests to the push channel.
type WSController struct {
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

func NewWSController(hub *realtime.Hub, allowedOrigins []string) *WSController {
	return &WSController{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// Serve blocks for the life of the connection.
func (w *WSController) Serve(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	conn, err := w.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		utils.Sugar.Debugw("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}
	w.hub.Serve(conn, userID)
}
