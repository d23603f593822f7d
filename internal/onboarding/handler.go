package onboarding

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vriksha-code/verisure/internal/shared/server/middleware"
	"github.com/vriksha-code/verisure/internal/shared/server/respond"
)

// Handler exposes onboarding over HTTP.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches /onboarding routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/onboarding")
	g.POST("/otp", h.requestOTP)
	g.POST("/otp/verify", h.verifyOTP)
	g.POST("/profile", h.createProfile)
}

type otpRequest struct {
	Phone string `json:"phone"`
}

type verifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

func (h *Handler) requestOTP(c *gin.Context) {
	var req otpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Invalid(c, "body", "invalid JSON body")
		return
	}
	issued, err := h.Svc.RequestOTP(c.Request.Context(), req.Phone)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, issued)
}

func (h *Handler) verifyOTP(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Invalid(c, "body", "invalid JSON body")
		return
	}
	if err := h.Svc.VerifyOTP(c.Request.Context(), req.ChallengeID, req.Code); err != nil {
		writeError(c, err)
		return
	}
	respond.OK(c, gin.H{"verified": true, "challengeId": req.ChallengeID})
}

func (h *Handler) createProfile(c *gin.Context) {
	var p Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		respond.Invalid(c, "body", "invalid JSON body")
		return
	}
	session, err := h.Svc.CreateProfile(c.Request.Context(), middleware.UserIDFromContext(c), p)
	if err != nil {
		writeError(c, err)
		return
	}
	respond.JSON(c, http.StatusCreated, session)
}

func writeError(c *gin.Context, err error) {
	var fe *FieldError
	switch {
	case errors.As(err, &fe):
		respond.Invalid(c, fe.Field, fe.Message)
	case errors.Is(err, ErrPhoneNotVerified):
		respond.Error(c, http.StatusBadRequest, "phone_not_verified", "Please verify your phone number before continuing.", nil)
	case errors.Is(err, ErrInvalidCode):
		respond.Error(c, http.StatusBadRequest, "invalid_code", "Incorrect verification code.", nil)
	case errors.Is(err, ErrTooManyAttempts):
		respond.Error(c, http.StatusTooManyRequests, "too_many_attempts", "Too many attempts. Request a new code.", nil)
	case errors.Is(err, ErrChallengeNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "Verification code expired. Request a new code.", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "onboarding failed", nil)
	}
}
