package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/store"
)

// StatsHandlers implements `GET /stats` (§6.3), a read-only projection
// of host_info plus zone/task counts.
type StatsHandlers struct {
	store *store.Store
	host  string
}

func NewStatsHandlers(st *store.Store, host string) *StatsHandlers {
	return &StatsHandlers{store: st, host: host}
}

func (h *StatsHandlers) Register(r gin.IRouter) {
	r.GET("/stats", h.get)
}

type statsResponse struct {
	Host         string `json:"host"`
	ZoneCount    int    `json:"zone_count"`
	PendingTasks int    `json:"pending_tasks"`
	RunningTasks int    `json:"running_tasks"`
	HostInfo     any    `json:"host_info"`
}

func (h *StatsHandlers) get(c *gin.Context) {
	ctx := c.Request.Context()

	zones, err := h.store.Zones.List(ctx, nil)
	if err != nil {
		writeError(c, err)
		return
	}

	pendingTasks, err := h.store.Tasks.List(ctx, store.ByTaskStatus(models.TaskPending))
	if err != nil {
		writeError(c, err)
		return
	}
	runningTasks, err := h.store.Tasks.List(ctx, store.ByTaskStatus(models.TaskRunning))
	if err != nil {
		writeError(c, err)
		return
	}

	info, err := h.store.Metrics.GetHostInfo(ctx, h.host)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, statsResponse{
		Host:         h.host,
		ZoneCount:    len(zones),
		PendingTasks: len(pendingTasks),
		RunningTasks: len(runningTasks),
		HostInfo:     info,
	})
}
