package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Makr91/zoneweaver-api/internal/store"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// ProvisioningHandlers implements the `/provisioning/profiles` CRUD
// endpoints of §6.3.
type ProvisioningHandlers struct {
	store *store.Store
}

func NewProvisioningHandlers(st *store.Store) *ProvisioningHandlers {
	return &ProvisioningHandlers{store: st}
}

func (h *ProvisioningHandlers) Register(r gin.IRouter) {
	r.GET("/provisioning/profiles", h.list)
	r.POST("/provisioning/profiles", h.create)
	r.GET("/provisioning/profiles/:id", h.get)
	r.PUT("/provisioning/profiles/:id", h.update)
	r.DELETE("/provisioning/profiles/:id", h.delete)
}

func (h *ProvisioningHandlers) list(c *gin.Context) {
	profiles, err := h.store.Provisioning.ListProfiles(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

type createProfileRequest struct {
	Name     string `json:"name" binding:"required"`
	Document string `json:"document" binding:"required"`
}

func (h *ProvisioningHandlers) create(c *gin.Context) {
	var req createProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, srvErrors.NewValidationError("body", err.Error()))
		return
	}
	profile, err := h.store.Provisioning.CreateProfile(c.Request.Context(), req.Name, req.Document)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, profile)
}

func (h *ProvisioningHandlers) get(c *gin.Context) {
	profile, err := h.store.Provisioning.GetProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

type updateProfileRequest struct {
	Document string `json:"document" binding:"required"`
}

func (h *ProvisioningHandlers) update(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, srvErrors.NewValidationError("body", err.Error()))
		return
	}
	if err := h.store.Provisioning.UpdateProfile(c.Request.Context(), c.Param("id"), req.Document); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProvisioningHandlers) delete(c *gin.Context) {
	if err := h.store.Provisioning.DeleteProfile(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
