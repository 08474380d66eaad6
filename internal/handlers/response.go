// Package handlers implements the HTTP/WebSocket surface (§4.7, §6.3):
// thin gin handlers that validate input, delegate to the Store, Engine,
// Orchestrator and Console Multiplexer, and never perform a blocking
// host operation inline.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
)

// errorBody is the structured JSON error shape required by §7:
// "always a structured JSON body with `error` and optional `details`".
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// writeError maps an error kind from pkg/errors onto the HTTP status
// codes §7/§6.3 specify and writes the structured body.
func writeError(c *gin.Context, err error) {
	switch {
	case srvErrors.IsValidationError(err):
		c.JSON(http.StatusBadRequest, errorBody{Error: "validation_failed", Details: err.Error()})
	case srvErrors.IsNotFoundError(err):
		c.JSON(http.StatusNotFound, errorBody{Error: "not_found", Details: err.Error()})
	case srvErrors.IsConflictError(err):
		c.JSON(http.StatusConflict, errorBody{Error: "conflict", Details: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal_error", Details: err.Error()})
	}
}

// taskAccepted is the HTTP 202 body every mutating endpoint returns
// (§6.3: "every mutating endpoint returns HTTP 202 with
// `{task_id, status: "pending"|existing}`").
type taskAccepted struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

func writeTaskAccepted(c *gin.Context, taskID string, alreadyExisted bool) {
	status := "pending"
	if alreadyExisted {
		status = "existing"
	}
	c.JSON(http.StatusAccepted, taskAccepted{TaskID: taskID, Status: status})
}
