package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/console"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

// ConsoleHandlers implements the zlogin session endpoints and the
// bidirectional WebSocket of §6.3.
type ConsoleHandlers struct {
	store    *store.Store
	mux      *console.Multiplexer
	logger   *zap.SugaredLogger
	upgrader websocket.Upgrader
}

func NewConsoleHandlers(st *store.Store, mux *console.Multiplexer, logger *zap.SugaredLogger) *ConsoleHandlers {
	return &ConsoleHandlers{
		store:  st,
		mux:    mux,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Console access is host-local and fronted by the operator's own
			// reverse proxy; origin checking is out of this agent's scope.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *ConsoleHandlers) Register(r gin.IRouter) {
	r.POST("/zones/:name/zlogin/start", h.start)
	r.GET("/zlogin/sessions", h.list)
	r.DELETE("/zlogin/sessions/:id/stop", h.stop)
	r.GET("/zlogin/sessions/:id", h.stream)
}

func (h *ConsoleHandlers) start(c *gin.Context) {
	zone := c.Param("name")
	session, existed, err := h.store.Console.Create(c.Request.Context(), zone)
	if err != nil {
		writeError(c, err)
		return
	}
	if !existed {
		pid, err := h.mux.GetOrCreate(c.Request.Context(), zone)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := h.store.Console.SetPID(c.Request.Context(), session.ID, pid); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusAccepted, session)
}

func (h *ConsoleHandlers) list(c *gin.Context) {
	sessions, err := h.store.Console.ListActive(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *ConsoleHandlers) stop(c *gin.Context) {
	session, err := h.store.Console.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	_ = h.mux.Destroy(session.ZoneName)
	if err := h.store.Console.Close(c.Request.Context(), session.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// stream upgrades to a WebSocket and pumps console bytes in both
// directions: the replay tail then live output to the client, and
// client frames into the PTY (§4.5, §6.3).
func (h *ConsoleHandlers) stream(c *gin.Context) {
	session, err := h.store.Console.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Warnw("websocket upgrade failed", "session_id", session.ID, "error", err)
		}
		return
	}
	defer conn.Close()

	subscriberID := uuid.NewString()
	replay, ch, unsubscribe, err := h.mux.Subscribe(session.ZoneName, subscriberID)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()))
		return
	}
	defer unsubscribe()

	if len(replay) > 0 {
		if err := conn.WriteMessage(websocket.BinaryMessage, replay); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go h.pumpInbound(conn, session.ZoneName, done)

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
			_ = h.store.Console.Touch(c.Request.Context(), session.ID, string(chunk), 1000*200)
		case <-done:
			return
		}
	}
}

// pumpInbound forwards client-typed bytes into the zone's PTY until the
// connection closes.
func (h *ConsoleHandlers) pumpInbound(conn *websocket.Conn, zone string, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := h.mux.Write(zone, data); err != nil {
			return
		}
	}
}
