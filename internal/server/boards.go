package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	boarddomain "github.com/tracklane/tracklane/internal/board/domain"
)

type createBoardRequest struct {
	Name     string `json:"name"`
	Template string `json:"template"`
}

type addColumnRequest struct {
	Name     string `json:"name"`
	Color    string `json:"color"`
	WIPLimit *int   `json:"wip_limit"`
}

type updateColumnRequest struct {
	Name     *string `json:"name"`
	Color    *string `json:"color"`
	WIPLimit *int    `json:"wip_limit"`
	ClearWIP bool    `json:"clear_wip_limit"`
}

type moveColumnRequest struct {
	BeforeColumnID *string `json:"before_column_id"`
	AfterColumnID  *string `json:"after_column_id"`
}

func (s *Server) GetBoard(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.boardSvc.GetByProject(c.Request.Context(), actor, actor.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"board": resp})
}

func (s *Server) CreateBoard(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.boardSvc.Create(c.Request.Context(), actor, boarddomain.CreateBoardRequest{
		ProjectID: actor.ProjectID,
		Name:      strings.TrimSpace(req.Name),
		Template:  strings.TrimSpace(req.Template),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"board": resp})
}

func (s *Server) AddColumn(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	board, err := s.boardSvc.GetByProject(c.Request.Context(), actor, actor.ProjectID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addColumnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.boardSvc.AddColumn(c.Request.Context(), actor, boarddomain.AddColumnRequest{
		BoardID:  board.ID,
		Name:     strings.TrimSpace(req.Name),
		Color:    strings.TrimSpace(req.Color),
		WIPLimit: req.WIPLimit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"column": resp})
}

func (s *Server) UpdateColumn(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req updateColumnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.boardSvc.UpdateColumn(c.Request.Context(), actor, boarddomain.UpdateColumnRequest{
		ColumnID: c.Param("id"),
		Name:     req.Name,
		Color:    req.Color,
		WIPLimit: req.WIPLimit,
		ClearWIP: req.ClearWIP,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"column": resp})
}

func (s *Server) MoveColumn(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req moveColumnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.boardSvc.MoveColumn(c.Request.Context(), actor, boarddomain.MoveColumnRequest{
		ColumnID:       c.Param("id"),
		BeforeColumnID: req.BeforeColumnID,
		AfterColumnID:  req.AfterColumnID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"column": resp})
}

func (s *Server) DeleteColumn(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.boardSvc.DeleteColumn(c.Request.Context(), actor, c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
