// Package authorization enforces role policies per organization domain.
// Service-level role checks stay in place; this layer gates the elevated
// HTTP surfaces with an auditable policy model.
package authorization

import (
	"context"
	"errors"
)

var (
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
	ErrForbidden           = errors.New("forbidden")
)

type Service interface {
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error
}
