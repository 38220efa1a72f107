package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"suggestbox/api/internal/app"
	"suggestbox/api/internal/rbac"
)

// ManageHandler serves department and staff account administration.
type ManageHandler struct {
	svc *app.Service
}

func NewManageHandler(svc *app.Service) *ManageHandler {
	return &ManageHandler{svc: svc}
}

type departmentRequest struct {
	Name string `json:"name"`
}

func (h *ManageHandler) ListDepartments(c *gin.Context) {
	if !sessionFrom(c).Can(rbac.ActionManageDepartments) {
		writeError(c, http.StatusForbidden, "FORBIDDEN", "only super admins manage departments", nil)
		return
	}
	departments, err := h.svc.ListDepartments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": departments})
}

func (h *ManageHandler) CreateDepartment(c *gin.Context) {
	var req departmentRequest
	if !decodeBody(c, &req) {
		return
	}
	department, err := h.svc.CreateDepartment(c.Request.Context(), sessionFrom(c), req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, department)
}

func (h *ManageHandler) RenameDepartment(c *gin.Context) {
	id, ok := pathID(c, "id", "department")
	if !ok {
		return
	}
	var req departmentRequest
	if !decodeBody(c, &req) {
		return
	}
	department, err := h.svc.RenameDepartment(c.Request.Context(), sessionFrom(c), id, req.Name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, department)
}

func (h *ManageHandler) DeleteDepartment(c *gin.Context) {
	id, ok := pathID(c, "id", "department")
	if !ok {
		return
	}
	if err := h.svc.DeleteDepartment(c.Request.Context(), sessionFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ManageHandler) ListStaff(c *gin.Context) {
	accounts, err := h.svc.ListStaff(c.Request.Context(), sessionFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": accounts})
}

func (h *ManageHandler) CreateStaff(c *gin.Context) {
	var input app.CreateStaffInput
	if !decodeBody(c, &input) {
		return
	}
	account, err := h.svc.CreateStaff(c.Request.Context(), sessionFrom(c), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (h *ManageHandler) UpdateStaff(c *gin.Context) {
	id, ok := pathID(c, "id", "staff account")
	if !ok {
		return
	}
	var input app.UpdateStaffInput
	if !decodeBody(c, &input) {
		return
	}
	account, err := h.svc.UpdateStaff(c.Request.Context(), sessionFrom(c), id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

func (h *ManageHandler) DeleteStaff(c *gin.Context) {
	id, ok := pathID(c, "id", "staff account")
	if !ok {
		return
	}
	if err := h.svc.DeleteStaff(c.Request.Context(), sessionFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
