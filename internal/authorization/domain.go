package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/tixgate/internal/roles"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidObject = errors.New("invalid_authorization_object")
	ErrInvalidAction = errors.New("invalid_authorization_action")
)

type Service interface {
	// Authorize returns nil when any of the roles may perform action on object.
	Authorize(ctx context.Context, actorRoles roles.Set, object string, action string) error
}
