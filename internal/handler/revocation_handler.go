package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noteforge/noteforge/internal/service"
	appErrors "github.com/noteforge/noteforge/pkg/errors"
	"github.com/noteforge/noteforge/pkg/response"
)

// RevocationHandler serves the internal revocation-status check used by
// resource services that need certainty beyond local signature validation.
// It is mounted on internal routes only and never exposed through the
// gateway.
type RevocationHandler struct {
	service *service.AuthService
}

// NewRevocationHandler creates a new handler.
func NewRevocationHandler(svc *service.AuthService) *RevocationHandler {
	return &RevocationHandler{service: svc}
}

// Status godoc
// @Summary Credential revocation status
// @Description Reports the lifecycle state of a refresh credential
// @Tags Internal
// @Produce json
// @Param id path string true "Credential ID"
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /internal/revocation/{id} [get]
func (h *RevocationHandler) Status(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "credential id required"))
		return
	}

	status, err := h.service.RevocationStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"credential_id": id, "status": status}, nil)
}
