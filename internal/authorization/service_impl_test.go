package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/tixgate/internal/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(nil)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorize(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		roles  roles.Set
		object string
		action string
		allow  bool
	}{
		{"viewer reads slo", roles.NewSet(roles.Viewer), ObjectSLO, ActionSLOView, true},
		{"viewer cannot replay", roles.NewSet(roles.Viewer), ObjectOutbox, ActionOutboxReplay, false},
		{"ops replays", roles.NewSet(roles.Ops), ObjectOutbox, ActionOutboxReplay, true},
		{"ops inherits viewer", roles.NewSet(roles.Ops), ObjectSLO, ActionSLOView, true},
		{"gate records checkin", roles.NewSet(roles.Gate), ObjectCheckin, ActionCheckinRecord, true},
		{"gate cannot read outbox", roles.NewSet(roles.Gate), ObjectOutbox, ActionOutboxView, false},
		{"admin inherits gate", roles.NewSet(roles.Admin), ObjectCheckin, ActionCheckinRecord, true},
		{"admin inherits ops", roles.NewSet(roles.Admin), ObjectOutbox, ActionOutboxReplay, true},
		{"any matching role wins", roles.NewSet(roles.Viewer, roles.Gate), ObjectCheckin, ActionCheckinRecord, true},
		{"system expires entitlements", roles.NewSet(roles.System), ObjectEntitlement, ActionEntitlementExpire, true},
		{"admin cannot run system jobs", roles.NewSet(roles.Admin), ObjectSLO, ActionSLOPush, false},
		{"no roles", roles.Set{}, ObjectSLO, ActionSLOView, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tt.roles, tt.object, tt.action)
			if tt.allow {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	assert.ErrorIs(t, svc.Authorize(context.Background(), roles.NewSet(roles.Admin), "", ActionSLOView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(context.Background(), roles.NewSet(roles.Admin), ObjectSLO, " "), ErrInvalidAction)
}
