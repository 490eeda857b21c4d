package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/spmdbench/spmdbench/internal/storage"
)

const defaultListLimit = 100

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services,omitempty"`
}

// ReadyResponse is the readiness check response
type ReadyResponse struct {
	Ready     bool      `json:"ready"`
	Timestamp time.Time `json:"timestamp"`
}

// ListRunsQuery defines query parameters for listing runs
type ListRunsQuery struct {
	Benchmark    string `form:"benchmark"`
	Verification string `form:"verification" binding:"omitempty,oneof=PASS FAIL N/A"`
	Since        string `form:"since"` // RFC 3339
	Limit        int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// ListRunsResponse is the response for listing runs
type ListRunsResponse struct {
	Runs  []*storage.Run `json:"runs"`
	Count int            `json:"count"`
}

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	if s.runs != nil {
		response.Services["storage"] = "ok"
	} else {
		response.Services["storage"] = "unavailable"
	}

	if !s.ready.Load() {
		response.Status = "unavailable"
		response.Services["ready"] = "false"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	response.Services["ready"] = "true"
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleReady(c *gin.Context) {
	response := ReadyResponse{
		Ready:     s.ready.Load(),
		Timestamp: time.Now(),
	}

	if !response.Ready {
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}

	c.JSON(http.StatusOK, response)
}

func (s *Server) handleListRuns(c *gin.Context) {
	ctx := c.Request.Context()

	var query ListRunsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     sanitizeValidationError(err),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	filter := storage.RunFilter{
		Benchmark:    query.Benchmark,
		Verification: query.Verification,
		Limit:        query.Limit,
	}
	if filter.Limit == 0 {
		filter.Limit = defaultListLimit
	}
	if query.Since != "" {
		since, err := time.Parse(time.RFC3339, query.Since)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:     fmt.Sprintf("invalid since: must be an RFC 3339 timestamp, got %q", query.Since),
				RequestID: c.GetString("request_id"),
			})
			return
		}
		filter.Since = since
	}

	runs, err := s.runs.ListRuns(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to list runs",
			RequestID: c.GetString("request_id"),
		})
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}

	c.JSON(http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	ctx := c.Request.Context()
	runID := c.Param("id")

	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:     fmt.Sprintf("run %s not found", runID),
				RequestID: c.GetString("request_id"),
			})
			return
		}
		s.logger.Error("failed to get run", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "failed to get run",
			RequestID: c.GetString("request_id"),
		})
		return
	}

	c.JSON(http.StatusOK, run)
}

// sanitizeValidationError converts struct field names to query parameter
// names in validation error messages.
func sanitizeValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err.Error()
	}

	var messages []string
	for _, fe := range validationErrs {
		name := toSnakeCase(fe.Field())
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", name))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", name, fe.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", name, fe.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of [%s]", name, fe.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation (%s)", name, fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

// toSnakeCase converts a PascalCase or camelCase string to snake_case
func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
