package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	"github.com/tracklane/tracklane/pkg/db/pagination"
)

type createTaskRequest struct {
	ColumnID    string   `json:"column_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	AssigneeID  *string  `json:"assignee_id"`
	DueDate     *string  `json:"due_date"`
}

type updateTaskRequest struct {
	Title         *string   `json:"title"`
	Description   *string   `json:"description"`
	Priority      *string   `json:"priority"`
	Category      *string   `json:"category"`
	Tags          *[]string `json:"tags"`
	AssigneeID    *string   `json:"assignee_id"`
	ClearAssignee bool      `json:"clear_assignee"`
	DueDate       *string   `json:"due_date"`
	ClearDueDate  bool      `json:"clear_due_date"`
}

type moveTaskRequest struct {
	ColumnID     string  `json:"column_id"`
	BeforeTaskID *string `json:"before_task_id"`
	AfterTaskID  *string `json:"after_task_id"`
}

type listTasksQuery struct {
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
	ColumnID   string `form:"column_id"`
	AssigneeID string `form:"assignee_id"`
	Priority   string `form:"priority"`
	Archived   string `form:"archived"`
	Query      string `form:"q"`
	Tag        string `form:"tag"`
	Category   string `form:"category"`
	OrderBy    string `form:"order_by"`
	Sort       string `form:"sort"`
}

func (s *Server) CreateTask(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dueDate, err := parseOptionalRFC3339(req.DueDate)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "invalid due date"))
		return
	}

	resp, err := s.itemSvc.Create(c.Request.Context(), actor, itemdomain.CreateTaskRequest{
		ColumnID:    strings.TrimSpace(req.ColumnID),
		Title:       req.Title,
		Description: req.Description,
		Priority:    strings.TrimSpace(req.Priority),
		Category:    req.Category,
		Tags:        req.Tags,
		AssigneeID:  req.AssigneeID,
		DueDate:     dueDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordTaskCreated(c, resp)

	c.JSON(http.StatusOK, gin.H{"task": resp})
}

func (s *Server) GetTask(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.itemSvc.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": resp})
}

func (s *Server) ListTasks(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listTasksQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	archived, err := parseOptionalBool(query.Archived)
	if err != nil {
		AbortWithError(c, newValidationError("archived", "invalid_archived", "invalid archived"))
		return
	}

	resp, err := s.itemSvc.List(c.Request.Context(), actor, itemdomain.ListTasksRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		ProjectID:  actor.ProjectID,
		ColumnID:   strings.TrimSpace(query.ColumnID),
		AssigneeID: strings.TrimSpace(query.AssigneeID),
		Priority:   strings.TrimSpace(query.Priority),
		Archived:   archived,
		Query:      strings.TrimSpace(query.Query),
		Tag:        strings.TrimSpace(query.Tag),
		Category:   strings.TrimSpace(query.Category),
		OrderBy:    strings.TrimSpace(query.OrderBy),
		Sort:       strings.TrimSpace(query.Sort),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Tasks, "page_info": resp.PageInfo})
}

func (s *Server) UpdateTask(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	dueDate, err := parseOptionalRFC3339(req.DueDate)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid_due_date", "invalid due date"))
		return
	}

	resp, err := s.itemSvc.Update(c.Request.Context(), actor, itemdomain.UpdateTaskRequest{
		TaskID:        c.Param("id"),
		Title:         req.Title,
		Description:   req.Description,
		Priority:      req.Priority,
		Category:      req.Category,
		Tags:          req.Tags,
		AssigneeID:    req.AssigneeID,
		ClearAssignee: req.ClearAssignee,
		DueDate:       dueDate,
		ClearDueDate:  req.ClearDueDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": resp})
}

func (s *Server) MoveTask(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req moveTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.itemSvc.Move(c.Request.Context(), actor, itemdomain.MoveTaskRequest{
		TaskID:       c.Param("id"),
		ColumnID:     strings.TrimSpace(req.ColumnID),
		BeforeTaskID: req.BeforeTaskID,
		AfterTaskID:  req.AfterTaskID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.recordTaskMove(c)

	c.JSON(http.StatusOK, gin.H{"task": resp})
}

func (s *Server) ArchiveTask(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.itemSvc.Archive(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": resp})
}

func (s *Server) UnarchiveTask(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.itemSvc.Unarchive(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": resp})
}

func (s *Server) DeleteTask(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.itemSvc.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) recordTaskCreated(c *gin.Context, resp *itemdomain.TaskResponse) {
	if s.obsMetrics == nil || resp == nil {
		return
	}
	project, ok := s.projectFromContext(c)
	if !ok {
		return
	}
	s.obsMetrics.RecordTaskCreated(c.Request.Context(), project.Key)
}

func (s *Server) recordTaskMove(c *gin.Context) {
	if s.obsMetrics == nil {
		return
	}
	project, ok := s.projectFromContext(c)
	if !ok {
		return
	}
	s.obsMetrics.RecordTaskMove(c.Request.Context(), project.Key)
}

func parseOptionalRFC3339(value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseOptionalBool(value string) (*bool, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
