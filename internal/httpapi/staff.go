package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"suggestbox/api/internal/app"
	"suggestbox/api/internal/lifecycle"
	"suggestbox/api/internal/visibility"
)

// StaffHandler serves the console endpoints available to every staff role.
type StaffHandler struct {
	svc *app.Service
}

func NewStaffHandler(svc *app.Service) *StaffHandler {
	return &StaffHandler{svc: svc}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Staff     app.StaffView `json:"staff"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type replyRequest struct {
	Content string `json:"content"`
}

type deleteRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *StaffHandler) Login(c *gin.Context) {
	var req loginRequest
	if !decodeBody(c, &req) {
		return
	}
	session, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		Staff:     h.svc.Me(session),
	})
}

func (h *StaffHandler) Logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), sessionFrom(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StaffHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Me(sessionFrom(c)))
}

func (h *StaffHandler) Stats(c *gin.Context) {
	stats, err := h.svc.DashboardStats(c.Request.Context(), sessionFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *StaffHandler) List(c *gin.Context) {
	query := app.StaffQuery{
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	}
	fields := app.FieldErrors{}
	view, err := lifecycle.ParseView(c.Query("status_view"))
	if err != nil {
		fields["status_view"] = "must be pending or other"
	}
	query.View = view
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, ok := lifecycle.ParseStatus(raw)
		if !ok {
			fields["status"] = "is not a known status"
		}
		query.Status = status
	}
	if len(fields) > 0 {
		writeError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid query", fields)
		return
	}
	departmentID, ok := queryDepartment(c)
	if !ok {
		return
	}
	query.DepartmentID = departmentID

	page, err := h.svc.ListSuggestions(c.Request.Context(), sessionFrom(c), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *StaffHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id", "suggestion")
	if !ok {
		return
	}
	item, err := h.svc.GetSuggestion(c.Request.Context(), sessionFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *StaffHandler) Approve(c *gin.Context) {
	h.review(c, h.svc.Approve)
}

func (h *StaffHandler) Reject(c *gin.Context) {
	h.review(c, h.svc.Reject)
}

type decision func(ctx context.Context, session app.Session, id int64) (visibility.StaffSuggestion, error)

func (h *StaffHandler) review(c *gin.Context, decide decision) {
	id, ok := pathID(c, "id", "suggestion")
	if !ok {
		return
	}
	item, err := decide(c.Request.Context(), sessionFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *StaffHandler) SetStatus(c *gin.Context) {
	id, ok := pathID(c, "id", "suggestion")
	if !ok {
		return
	}
	var req statusRequest
	if !decodeBody(c, &req) {
		return
	}
	item, err := h.svc.SetStatus(c.Request.Context(), sessionFrom(c), id, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *StaffHandler) Reply(c *gin.Context) {
	id, ok := pathID(c, "id", "suggestion")
	if !ok {
		return
	}
	var req replyRequest
	if !decodeBody(c, &req) {
		return
	}
	item, err := h.svc.Reply(c.Request.Context(), sessionFrom(c), id, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *StaffHandler) Upvote(c *gin.Context) {
	id, ok := pathID(c, "id", "suggestion")
	if !ok {
		return
	}
	upvotes, err := h.svc.UpvoteByID(c.Request.Context(), sessionFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upvotes": upvotes})
}

func (h *StaffHandler) Delete(c *gin.Context) {
	var req deleteRequest
	if !decodeBody(c, &req) {
		return
	}
	result, err := h.svc.DeleteSuggestions(c.Request.Context(), sessionFrom(c), req.IDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
