package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers only reject malformed requests. Everything accepted is handed to
// the SDK, which logs its own failures, so valid requests always get 202.

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

func accepted(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}
