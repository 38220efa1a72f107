package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"suggestbox/api/internal/app"
	"suggestbox/api/internal/auth"
)

const maxBodyBytes = 1 << 20

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.AbortWithStatusJSON(status, response)
}

// respondError writes err using the service error envelope. Anything that is
// not a DomainError is logged and reported as a bare 500.
func respondError(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "error", err)
		_ = c.Error(err)
	}
	writeError(c, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *app.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// decodeBody reads a single JSON object and rejects unknown fields and
// trailing data.
func decodeBody(c *gin.Context, target any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(target)
	if err == nil {
		if decoder.Decode(&struct{}{}) != io.EOF {
			err = errors.New("body must contain a single JSON object")
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("body is empty")
		}
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", gin.H{"reason": err.Error()})
		return false
	}
	return true
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// pathID parses a positive numeric path parameter. A malformed id can never
// name a row, so it is reported as not found.
func pathID(c *gin.Context, name, resource string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusNotFound, "NOT_FOUND", resource+" not found", nil)
		return 0, false
	}
	return id, true
}

// queryInt falls back to zero for absent or malformed values; the service
// turns zero into its defaults.
func queryInt(c *gin.Context, name string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(name)))
	if err != nil {
		return 0
	}
	return value
}

func queryDepartment(c *gin.Context) (*int64, bool) {
	raw := strings.TrimSpace(c.Query("department_id"))
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid department_id",
			app.FieldErrors{"department_id": fmt.Sprintf("must be a positive integer, got %q", raw)})
		return nil, false
	}
	return &id, true
}
