package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	commentdomain "github.com/tracklane/tracklane/internal/comment/domain"
	"github.com/tracklane/tracklane/pkg/db/pagination"
)

type createCommentRequest struct {
	Body string `json:"body"`
}

type listCommentsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func (s *Server) CreateComment(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.commentSvc.Create(c.Request.Context(), actor, commentdomain.CreateCommentRequest{
		TaskID: strings.TrimSpace(c.Param("id")),
		Body:   req.Body,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"comment": resp})
}

func (s *Server) ListComments(c *gin.Context) {
	actor, ok := s.tenantFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query listCommentsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.commentSvc.List(c.Request.Context(), actor, commentdomain.ListCommentsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		TaskID: strings.TrimSpace(c.Param("id")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Comments, "page_info": resp.PageInfo})
}
