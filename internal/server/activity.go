package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	"github.com/tracklane/tracklane/pkg/db/pagination"
)

type listActivityQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	Sort      string `form:"sort"`
	Action    string `form:"action"`
}

func (s *Server) ListTaskActivity(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	taskID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || taskID == 0 {
		AbortWithError(c, auditdomain.ErrItemNotFound)
		return
	}

	var query listActivityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), actor, auditdomain.ListActivityRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		ItemID: taskID,
		Sort:   strings.TrimSpace(query.Sort),
		Action: strings.TrimSpace(query.Action),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

func (s *Server) ListProjectActivity(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listActivityQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.ListByProject(c.Request.Context(), actor, auditdomain.ListProjectActivityRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		ProjectID: actor.ProjectID,
		Action:    strings.TrimSpace(query.Action),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Entries, "page_info": resp.PageInfo})
}

// ExportTaskActivity streams the full trail to the response writer; entries
// are paged out of storage so a long-lived task never buffers in memory.
func (s *Server) ExportTaskActivity(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	taskID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || taskID == 0 {
		AbortWithError(c, auditdomain.ErrItemNotFound)
		return
	}

	format := strings.ToLower(strings.TrimSpace(c.Query("format")))
	if format == "" {
		format = auditdomain.FormatNDJSON
	}

	contentType, extension, ok := exportContentType(format)
	if !ok {
		AbortWithError(c, auditdomain.ErrInvalidFormat)
		return
	}

	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("task-%s-activity.%s", taskID.String(), extension)))

	err = s.auditSvc.Export(c.Request.Context(), actor, auditdomain.ExportActivityRequest{
		ItemID: taskID,
		Format: format,
	}, c.Writer)
	if err != nil {
		// Nothing to unwind once bytes are on the wire; the error
		// middleware only replaces the body when none was written.
		AbortWithError(c, err)
		return
	}
}

func exportContentType(format string) (string, string, bool) {
	switch format {
	case auditdomain.FormatNDJSON:
		return "application/x-ndjson", "ndjson", true
	case auditdomain.FormatCSV:
		return "text/csv", "csv", true
	case auditdomain.FormatPDF:
		return "application/pdf", "pdf", true
	default:
		return "", "", false
	}
}
