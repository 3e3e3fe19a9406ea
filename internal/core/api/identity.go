package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

type userRequest struct {
	UserID string `json:"user_id"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

// registerIdentityRoutes registers identity, push and lifecycle endpoints.
//
// POST   /v1/user              {"user_id": "..."}
// DELETE /v1/user
// POST   /v1/email             {"email": "..."}
// POST   /v1/push/token        {"token": "..."}
// POST   /v1/push/unregister
// POST   /v1/push/opt-in
// POST   /v1/push/opt-out
// POST   /v1/lifecycle/foreground
func registerIdentityRoutes(r gin.IRoutes, client Client) {
	r.POST("/user", func(c *gin.Context) {
		var req userRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
			badRequest(c, "user_id required")
			return
		}
		client.SetUserID(req.UserID)
		accepted(c)
	})

	r.DELETE("/user", func(c *gin.Context) {
		client.SignOutUser()
		accepted(c)
	})

	r.POST("/email", func(c *gin.Context) {
		var req emailRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
			badRequest(c, "email required")
			return
		}
		client.SetUserEmail(req.Email)
		accepted(c)
	})

	r.POST("/push/token", func(c *gin.Context) {
		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
			badRequest(c, "token required")
			return
		}
		client.SetDeviceToken(req.Token)
		accepted(c)
	})

	r.POST("/push/unregister", func(c *gin.Context) {
		client.Unregister()
		accepted(c)
	})
	r.POST("/push/opt-in", func(c *gin.Context) {
		client.OptIn()
		accepted(c)
	})
	r.POST("/push/opt-out", func(c *gin.Context) {
		client.OptOut()
		accepted(c)
	})

	r.POST("/lifecycle/foreground", func(c *gin.Context) {
		client.Foreground()
		accepted(c)
	})
}
