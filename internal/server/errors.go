package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/tracklane/tracklane/internal/audit/domain"
	"github.com/tracklane/tracklane/internal/authorization"
	boarddomain "github.com/tracklane/tracklane/internal/board/domain"
	commentdomain "github.com/tracklane/tracklane/internal/comment/domain"
	itemdomain "github.com/tracklane/tracklane/internal/item/domain"
	organizationdomain "github.com/tracklane/tracklane/internal/organization/domain"
	projectdomain "github.com/tracklane/tracklane/internal/project/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type      string            `json:"type"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Errors    []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isRetryableConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:      "conflict",
			Message:   "conflict",
			Retryable: true,
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictErrorMessage(err),
		}
	// Tenant-scoped misses and cross-tenant hits produce the same body so
	// resource existence never leaks across organizations.
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "rate limit exceeded",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger; it never exposes driver
// details, only the taxonomy type and the sentinel code.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if vErr := asValidationErrors(err); vErr != nil {
		if len(vErr.Errors) > 0 {
			return "validation_error", vErr.Errors[0].Code
		}
		return "validation_error", "invalid_request"
	}
	if isValidationError(err) {
		return "validation_error", validationErrorCode(err)
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized", "unauthorized"
	case isForbiddenError(err):
		return "forbidden", "forbidden"
	case isRetryableConflictError(err), isConflictError(err):
		return "conflict", conflictErrorCode(err)
	case isNotFoundError(err):
		return "not_found", "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited", "rate_limited"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable", "service_unavailable"
	default:
		return "internal_error", "internal_error"
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isItemValidationError(err),
		isBoardValidationError(err),
		isProjectValidationError(err),
		isOrganizationValidationError(err),
		isCommentValidationError(err),
		isActivityValidationError(err):
		return true
	default:
		return false
	}
}

func isItemValidationError(err error) bool {
	switch {
	case errors.Is(err, itemdomain.ErrInvalidTitle),
		errors.Is(err, itemdomain.ErrInvalidDescription),
		errors.Is(err, itemdomain.ErrInvalidPriority),
		errors.Is(err, itemdomain.ErrInvalidCategory),
		errors.Is(err, itemdomain.ErrInvalidTags),
		errors.Is(err, itemdomain.ErrInvalidAssignee),
		errors.Is(err, itemdomain.ErrWIPLimitExceeded):
		return true
	default:
		return false
	}
}

func isBoardValidationError(err error) bool {
	switch {
	case errors.Is(err, boarddomain.ErrInvalidName),
		errors.Is(err, boarddomain.ErrInvalidColor),
		errors.Is(err, boarddomain.ErrInvalidWIPLimit),
		errors.Is(err, boarddomain.ErrTemplateNotFound),
		errors.Is(err, boarddomain.ErrTooManyColumns),
		errors.Is(err, boarddomain.ErrLastColumn):
		return true
	default:
		return false
	}
}

func isProjectValidationError(err error) bool {
	switch {
	case errors.Is(err, projectdomain.ErrInvalidKey),
		errors.Is(err, projectdomain.ErrInvalidName):
		return true
	default:
		return false
	}
}

// ErrInvalidOrganization is deliberately absent: an unknown or malformed
// organization id collapses into not_found with the other tenant misses.
func isOrganizationValidationError(err error) bool {
	switch {
	case errors.Is(err, organizationdomain.ErrInvalidName),
		errors.Is(err, organizationdomain.ErrInvalidEmail),
		errors.Is(err, organizationdomain.ErrInvalidUser),
		errors.Is(err, organizationdomain.ErrInvalidRole):
		return true
	default:
		return false
	}
}

func isCommentValidationError(err error) bool {
	return errors.Is(err, commentdomain.ErrInvalidBody)
}

func isActivityValidationError(err error) bool {
	switch {
	case errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidSort),
		errors.Is(err, auditdomain.ErrInvalidFormat),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, itemdomain.ErrForbidden),
		errors.Is(err, boarddomain.ErrForbidden),
		errors.Is(err, projectdomain.ErrForbidden),
		errors.Is(err, organizationdomain.ErrForbidden),
		errors.Is(err, commentdomain.ErrForbidden),
		errors.Is(err, auditdomain.ErrForbidden):
		return true
	default:
		return false
	}
}

// isRetryableConflictError marks the optimistic-concurrency losers: the
// client re-reads neighbors and retries, nothing is stuck.
func isRetryableConflictError(err error) bool {
	switch {
	case errors.Is(err, itemdomain.ErrMoveConflict),
		errors.Is(err, boarddomain.ErrMoveConflict),
		errors.Is(err, projectdomain.ErrSequenceConflict):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, itemdomain.ErrTaskArchived),
		errors.Is(err, projectdomain.ErrKeyTaken),
		errors.Is(err, organizationdomain.ErrSlugTaken),
		errors.Is(err, organizationdomain.ErrEmailTaken),
		errors.Is(err, organizationdomain.ErrAlreadyMember):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, itemdomain.ErrTaskNotFound),
		errors.Is(err, itemdomain.ErrColumnNotFound),
		errors.Is(err, boarddomain.ErrBoardNotFound),
		errors.Is(err, boarddomain.ErrColumnNotFound),
		errors.Is(err, projectdomain.ErrProjectNotFound),
		errors.Is(err, commentdomain.ErrTaskNotFound),
		errors.Is(err, auditdomain.ErrItemNotFound),
		errors.Is(err, organizationdomain.ErrNotMember),
		errors.Is(err, organizationdomain.ErrInvalidOrganization),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictErrorCode(err error) string {
	switch {
	case errors.Is(err, itemdomain.ErrMoveConflict),
		errors.Is(err, boarddomain.ErrMoveConflict):
		return "move_conflict"
	case errors.Is(err, projectdomain.ErrSequenceConflict):
		return "sequence_conflict"
	case errors.Is(err, itemdomain.ErrTaskArchived):
		return "task_archived"
	case errors.Is(err, projectdomain.ErrKeyTaken):
		return "key_taken"
	case errors.Is(err, organizationdomain.ErrSlugTaken):
		return "slug_taken"
	case errors.Is(err, organizationdomain.ErrEmailTaken):
		return "email_taken"
	case errors.Is(err, organizationdomain.ErrAlreadyMember):
		return "already_member"
	default:
		return "conflict"
	}
}

func conflictErrorMessage(err error) string {
	switch {
	case errors.Is(err, itemdomain.ErrTaskArchived):
		return "task is archived"
	case errors.Is(err, projectdomain.ErrKeyTaken):
		return "project key already in use"
	case errors.Is(err, organizationdomain.ErrSlugTaken):
		return "organization name already in use"
	case errors.Is(err, organizationdomain.ErrEmailTaken):
		return "email already in use"
	case errors.Is(err, organizationdomain.ErrAlreadyMember):
		return "user is already a member"
	default:
		return "conflict"
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "invalid_comment_body":
		return "body"
	case "template_not_found":
		return "template"
	case "too_many_columns", "last_column":
		return "columns"
	case "wip_limit_exceeded":
		return "column"
	case "invalid_page_token":
		return "page_token"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "template_not_found":
		return "unknown board template"
	case "too_many_columns":
		return "board column limit reached"
	case "last_column":
		return "a board keeps at least one column"
	case "wip_limit_exceeded":
		return "column WIP limit reached"
	default:
		return "invalid value"
	}
}
