package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"suggestbox/api/internal/app"
)

// PublicHandler serves the anonymous submitter endpoints.
type PublicHandler struct {
	svc *app.Service
}

func NewPublicHandler(svc *app.Service) *PublicHandler {
	return &PublicHandler{svc: svc}
}

func (h *PublicHandler) Departments(c *gin.Context) {
	departments, err := h.svc.ListDepartments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": departments})
}

func (h *PublicHandler) Submit(c *gin.Context) {
	var input app.SubmitInput
	if !decodeBody(c, &input) {
		return
	}
	result, err := h.svc.Submit(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *PublicHandler) Feed(c *gin.Context) {
	departmentID, ok := queryDepartment(c)
	if !ok {
		return
	}
	page, err := h.svc.PublicFeed(c.Request.Context(), app.FeedQuery{
		Page:         queryInt(c, "page"),
		PageSize:     queryInt(c, "page_size"),
		DepartmentID: departmentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *PublicHandler) Lookup(c *gin.Context) {
	item, err := h.svc.LookupByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *PublicHandler) Upvote(c *gin.Context) {
	upvotes, err := h.svc.UpvoteByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upvotes": upvotes})
}
