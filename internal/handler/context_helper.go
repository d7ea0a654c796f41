package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noteforge/noteforge/internal/middleware"
	"github.com/noteforge/noteforge/internal/models"
)

func principalFromContext(c *gin.Context) *models.Principal {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		return nil
	}
	return principal
}
