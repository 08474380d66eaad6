package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/orchestrator"
	"github.com/Makr91/zoneweaver-api/internal/store"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// ZoneHandlers implements the `/zones` endpoints of §6.3.
type ZoneHandlers struct {
	store        *store.Store
	orchestrator *orchestrator.Orchestrator
}

func NewZoneHandlers(st *store.Store, orch *orchestrator.Orchestrator) *ZoneHandlers {
	return &ZoneHandlers{store: st, orchestrator: orch}
}

func (h *ZoneHandlers) Register(r gin.IRouter) {
	r.GET("/zones", h.list)
	r.GET("/zones/:name", h.get)
	r.GET("/zones/:name/config", h.getConfig)
	r.POST("/zones", h.create)
	r.PUT("/zones/:name", h.modify)
	r.DELETE("/zones/:name", h.deleteZone)
	r.POST("/zones/:name/start", h.start)
	r.POST("/zones/:name/stop", h.stop)
	r.POST("/zones/:name/restart", h.restart)
	r.POST("/zones/:name/provision", h.provision)
	r.POST("/zones/:name/sync", h.sync)
	r.POST("/zones/:name/run-provisioners", h.runProvisioners)
	r.GET("/zones/:name/provision/status", h.provisionStatus)
}

func (h *ZoneHandlers) list(c *gin.Context) {
	zones, err := h.store.Zones.List(c.Request.Context(), nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, zones)
}

func (h *ZoneHandlers) get(c *gin.Context) {
	zone, err := h.store.Zones.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, zone)
}

func (h *ZoneHandlers) getConfig(c *gin.Context) {
	zone, err := h.store.Zones.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(zone.Configuration))
}

type createZoneRequest struct {
	Name          string `json:"name" binding:"required"`
	Brand         string `json:"brand"`
	Host          string `json:"host"`
	Configuration string `json:"configuration"`
}

func (h *ZoneHandlers) create(c *gin.Context) {
	var req createZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, srvErrors.NewValidationError("body", err.Error()))
		return
	}

	host := req.Host
	if host == "" {
		host = "localhost"
	}

	task := &models.Task{
		ZoneName:  req.Name,
		Operation: models.OpZoneCreate,
		Priority:  models.PriorityNormal,
		Metadata:  req.Configuration,
		CreatedBy: "api",
	}
	inserted, existed, err := h.store.Tasks.Insert(c.Request.Context(), task)
	if err != nil {
		writeError(c, err)
		return
	}
	writeTaskAccepted(c, inserted.ID, existed)
}

type modifyZoneRequest struct {
	Configuration string `json:"configuration" binding:"required"`
}

func (h *ZoneHandlers) modify(c *gin.Context) {
	var req modifyZoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, srvErrors.NewValidationError("body", err.Error()))
		return
	}

	task := &models.Task{
		ZoneName:  c.Param("name"),
		Operation: models.OpZoneModify,
		Priority:  models.PriorityNormal,
		Metadata:  req.Configuration,
		CreatedBy: "api",
	}
	inserted, existed, err := h.store.Tasks.Insert(c.Request.Context(), task)
	if err != nil {
		writeError(c, err)
		return
	}
	writeTaskAccepted(c, inserted.ID, existed)
}

func (h *ZoneHandlers) deleteZone(c *gin.Context) {
	h.queueSimpleTask(c, models.OpDelete)
}

func (h *ZoneHandlers) start(c *gin.Context) {
	h.queueSimpleTask(c, models.OpStart)
}

func (h *ZoneHandlers) stop(c *gin.Context) {
	h.queueSimpleTask(c, models.OpStop)
}

// restart queues a stop then a start, chained by depends_on, since §6.2's
// vocabulary has no standalone "restart" operation.
func (h *ZoneHandlers) restart(c *gin.Context) {
	ctx := c.Request.Context()
	zone := c.Param("name")

	stopTask, _, err := h.store.Tasks.Insert(ctx, &models.Task{
		ZoneName: zone, Operation: models.OpStop, Priority: models.PriorityNormal, CreatedBy: "api",
	})
	if err != nil {
		writeError(c, err)
		return
	}
	startTask, _, err := h.store.Tasks.Insert(ctx, &models.Task{
		ZoneName: zone, Operation: models.OpStart, Priority: models.PriorityNormal, DependsOn: &stopTask.ID, CreatedBy: "api",
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeTaskAccepted(c, startTask.ID, false)
}

func (h *ZoneHandlers) queueSimpleTask(c *gin.Context, op models.Operation) {
	task := &models.Task{
		ZoneName:  c.Param("name"),
		Operation: op,
		Priority:  models.PriorityNormal,
		CreatedBy: "api",
	}
	inserted, existed, err := h.store.Tasks.Insert(c.Request.Context(), task)
	if err != nil {
		writeError(c, err)
		return
	}
	writeTaskAccepted(c, inserted.ID, existed)
}

func (h *ZoneHandlers) provision(c *gin.Context) {
	result, err := h.orchestrator.Plan(c.Request.Context(), c.Param("name"), "api")
	if err != nil {
		writeError(c, err)
		return
	}
	writeTaskAccepted(c, result.OrchestrationTaskID, false)
}

type syncRequest struct {
	LocalPath  string `json:"local_path" binding:"required"`
	RemotePath string `json:"remote_path" binding:"required"`
}

func (h *ZoneHandlers) sync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, srvErrors.NewValidationError("body", err.Error()))
		return
	}
	zone, err := h.store.Zones.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	cfg, err := orchestrator.ParseConfiguration(zone.Configuration, zone.ZoneID)
	if err != nil {
		writeError(c, err)
		return
	}
	cfg.IP = orchestrator.ResolveTargetIP(cfg)

	task := &models.Task{
		ZoneName:  zone.Name,
		Operation: models.OpZoneSync,
		Priority:  models.PriorityNormal,
		CreatedBy: "api",
	}
	task.Metadata = syncMetadata(req.LocalPath, req.RemotePath, cfg)
	inserted, existed, err := h.store.Tasks.Insert(c.Request.Context(), task)
	if err != nil {
		writeError(c, err)
		return
	}
	writeTaskAccepted(c, inserted.ID, existed)
}

func (h *ZoneHandlers) runProvisioners(c *gin.Context) {
	zone, err := h.store.Zones.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	cfg, err := orchestrator.ParseConfiguration(zone.Configuration, zone.ZoneID)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(cfg.Provisioners) == 0 {
		writeError(c, srvErrors.NewValidationError("configuration.provisioners", "zone has no provisioners configured"))
		return
	}
	cfg.IP = orchestrator.ResolveTargetIP(cfg)

	var previous *string
	var firstID string
	for _, p := range cfg.Provisioners {
		task := &models.Task{
			ZoneName:  zone.Name,
			Operation: models.OpZoneProvision,
			Priority:  models.PriorityNormal,
			DependsOn: previous,
			Metadata:  provisionerMetadata(p.Kind, p.Command, cfg),
			CreatedBy: "api",
		}
		inserted, _, err := h.store.Tasks.Insert(c.Request.Context(), task)
		if err != nil {
			writeError(c, err)
			return
		}
		if firstID == "" {
			firstID = inserted.ID
		}
		previous = &inserted.ID
	}
	writeTaskAccepted(c, firstID, false)
}

func (h *ZoneHandlers) provisionStatus(c *gin.Context) {
	tasks, err := h.store.Tasks.List(c.Request.Context(), store.ByZoneName(c.Param("name")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}
