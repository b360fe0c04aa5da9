package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/tixgate/internal/roles"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSLO          = "slo"
	ObjectOutbox       = "outbox"
	ObjectEntitlement  = "entitlement"
	ObjectCheckin      = "checkin"
	ObjectNotification = "notification"
	ObjectPayment      = "payment"
)

const (
	ActionSLOView = "slo.view"
	ActionSLOPush = "slo.push"

	ActionOutboxView   = "outbox.view"
	ActionOutboxReplay = "outbox.replay"

	ActionEntitlementView   = "entitlement.view"
	ActionEntitlementExpire = "entitlement.expire"
	ActionCheckinRecord     = "checkin.record"

	ActionNotificationSend = "notification.send"

	ActionPaymentView     = "payment.view"
	ActionPaymentRegister = "payment.register"
	ActionPaymentRefund   = "payment.refund"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies through the gorm adapter and seeds the built-in
// ones. A nil db keeps policies in memory only.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if db != nil {
		adapter, err := gormadapter.NewAdapterByDB(db)
		if err != nil {
			return nil, err
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
		if err != nil {
			return nil, err
		}
		enforcer.EnableAutoSave(true)
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, err
		}
	}
	enforcer.EnableAutoBuildRoleLinks(true)

	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorRoles roles.Set, object string, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	for _, role := range actorRoles.Slice() {
		allowed, err := s.enforcer.Enforce(subject(role), object, action)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}

	s.log.Warn("authorization denied",
		zap.String("roles", actorRoles.String()),
		zap.String("object", object),
		zap.String("action", action),
	)
	return ErrForbidden
}

func subject(role roles.Role) string {
	return "role:" + string(role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Viewer permissions (read-only)
		{subject(roles.Viewer), ObjectSLO, ActionSLOView},
		{subject(roles.Viewer), ObjectEntitlement, ActionEntitlementView},

		// Gate staff scan tickets
		{subject(roles.Gate), ObjectEntitlement, ActionEntitlementView},
		{subject(roles.Gate), ObjectCheckin, ActionCheckinRecord},

		// Ops
		{subject(roles.Ops), ObjectOutbox, ActionOutboxView},
		{subject(roles.Ops), ObjectOutbox, ActionOutboxReplay},
		{subject(roles.Ops), ObjectPayment, ActionPaymentView},

		// Admin
		{subject(roles.Admin), ObjectNotification, ActionNotificationSend},
		{subject(roles.Admin), ObjectPayment, ActionPaymentRegister},
		{subject(roles.Admin), ObjectPayment, ActionPaymentRefund},

		// System (schedulers and internal callers)
		{subject(roles.System), ObjectNotification, ActionNotificationSend},
		{subject(roles.System), ObjectPayment, ActionPaymentRegister},
		{subject(roles.System), ObjectEntitlement, ActionEntitlementExpire},
		{subject(roles.System), ObjectSLO, ActionSLOPush},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	inheritance := [][]string{
		{subject(roles.Ops), subject(roles.Viewer)},
		{subject(roles.Admin), subject(roles.Ops)},
		{subject(roles.Admin), subject(roles.Gate)},
	}
	for _, rule := range inheritance {
		if _, err := enforcer.AddGroupingPolicy(rule); err != nil {
			return err
		}
	}
	return nil
}
