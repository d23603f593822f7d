package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vriksha-code/verisure/internal/shared/server/middleware"
	"github.com/vriksha-code/verisure/internal/shared/server/respond"
)

func registerMeRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", meHandler)
}

// meHandler reports who the caller is and whether onboarding is complete.
func meHandler(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	name := middleware.UserNameFromContext(c)
	response := gin.H{
		"userId":    userID,
		"isGuest":   middleware.IsGuest(c),
		"onboarded": name != "",
	}
	if name != "" {
		response["name"] = name
	}
	if phone := middleware.UserPhoneFromContext(c); phone != "" {
		response["phone"] = phone
	}

	respond.OK(c, response)
}
