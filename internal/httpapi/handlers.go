package httpapi

import (
	"errors"
	"net/http"

	"callflow-platform/internal/auth"
	"callflow-platform/internal/calls"
	"callflow-platform/internal/prompts"
	"callflow-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler exposes the operator-facing call API. Webhooks have their own
// controller; everything here runs behind the access-token middleware.
type Handler struct {
	calls   *calls.Service
	catalog *prompts.Catalog
}

func NewHandler(callSvc *calls.Service, catalog *prompts.Catalog) *Handler {
	return &Handler{calls: callSvc, catalog: catalog}
}

type startCallRequest struct {
	ToNumber      string `json:"to_number" binding:"required"`
	FromNumber    string `json:"from_number" binding:"required"`
	RecipientName string `json:"recipient_name"`
	ServiceName   string `json:"service_name"`
	CallType      string `json:"call_type"`

	// Preset selects a prompt set from the catalog; Prompts overrides it
	// wholesale for fully custom scripts.
	Preset  string           `json:"preset"`
	Prompts *calls.PromptSet `json:"prompts"`
}

type callResponse struct {
	CallID          string `json:"call_id"`
	Status          string `json:"status"`
	CallType        string `json:"call_type"`
	ToNumber        string `json:"to_number"`
	FromNumber      string `json:"from_number"`
	OTPCode         string `json:"otp_code,omitempty"`
	AnsweredBy      string `json:"answered_by,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
	ChargedMinor    int64  `json:"charged_minor"`
	RefundMinor     int64  `json:"refund_minor"`
	TotalMinor      int64  `json:"total_minor"`
	BillingStatus   string `json:"billing_status"`
	RecordingURL    string `json:"recording_url,omitempty"`
	CreatedAt       string `json:"created_at"`
	EndedAt         string `json:"ended_at,omitempty"`
}

func toCallResponse(s calls.CallSession) callResponse {
	r := callResponse{
		CallID:          s.CallID,
		Status:          string(s.Status),
		CallType:        string(s.CallType),
		ToNumber:        s.ToNumber,
		FromNumber:      s.FromNumber,
		OTPCode:         s.OTPCode,
		AnsweredBy:      string(s.AnsweredBy),
		DurationSeconds: s.DurationSeconds,
		ChargedMinor:    s.ChargedMinor,
		RefundMinor:     s.RefundMinor,
		TotalMinor:      s.TotalMinor,
		BillingStatus:   string(s.BillingStatus),
		RecordingURL:    s.RecordingURL,
		CreatedAt:       s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if s.EndedAt != nil {
		r.EndedAt = s.EndedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return r
}

// StartCall creates and dials a new call session.
func (h *Handler) StartCall(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	callType := calls.CallType(req.CallType)
	if req.CallType == "" {
		callType = calls.CallTypeOTP
	}

	ps := h.resolvePrompts(req)
	rendered := prompts.Render(ps, prompts.Vars{
		RecipientName: req.RecipientName,
		ServiceName:   req.ServiceName,
		Digits:        ps.DigitsRequired,
	})

	sess, err := h.calls.Start(c.Request.Context(), calls.StartRequest{
		UserID:        id.UserID,
		SpoofAllowed:  id.SpoofAllowed,
		FromNumber:    req.FromNumber,
		ToNumber:      req.ToNumber,
		RecipientName: req.RecipientName,
		ServiceName:   req.ServiceName,
		CallType:      callType,
		Prompts:       rendered,
	})
	if err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCallResponse(sess))
}

// GetCall returns one session, owner or admin only.
func (h *Handler) GetCall(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sess, err := h.calls.Get(c.Request.Context(), c.Param("call_id"), id.UserID, id.IsAdmin())
	if err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCallResponse(sess))
}

// History lists the caller's sessions newest first; admins see all users.
func (h *Handler) History(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	sessions, err := h.calls.History(c.Request.Context(), id.UserID, id.IsAdmin(), 100)
	if err != nil {
		h.writeCallError(c, err)
		return
	}
	out := make([]callResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toCallResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"calls": out, "count": len(out)})
}

// Hangup asks the gateway to terminate an in-flight call.
func (h *Handler) Hangup(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.calls.Hangup(c.Request.Context(), c.Param("call_id"), id.UserID, id.IsAdmin()); err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "hangup requested"})
}

// Accept writes an accept into the decision gate.
func (h *Handler) Accept(c *gin.Context) { h.decide(c, calls.DecisionAccept) }

// Deny writes a deny into the decision gate; the call gets one more
// code-entry cycle.
func (h *Handler) Deny(c *gin.Context) { h.decide(c, calls.DecisionDeny) }

func (h *Handler) decide(c *gin.Context, d calls.Decision) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := h.calls.Decide(c.Request.Context(), c.Param("call_id"), d, id.UserID, id.IsAdmin()); err != nil {
		h.writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": string(d)})
}

func (h *Handler) resolvePrompts(req startCallRequest) calls.PromptSet {
	if req.Prompts != nil {
		return *req.Prompts
	}
	name := req.Preset
	if name == "" {
		name = req.CallType
	}
	ps, ok := h.catalog.Get(name)
	if !ok {
		ps, _ = h.catalog.Get("")
	}
	return ps
}

func (h *Handler) writeCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, calls.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, calls.ErrSpoofNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "caller id spoofing not permitted"})
	case errors.Is(err, calls.ErrInsufficientBalance):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	case errors.Is(err, calls.ErrTooManyActiveCalls):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many active calls"})
	case errors.Is(err, calls.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, calls.ErrInitiationFailed):
		logger.FromGin(c).Error("call initiation failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "call could not be placed"})
	default:
		logger.FromGin(c).Error("call api error", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
