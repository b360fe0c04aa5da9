package domain

import entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"

// Rule describes what one gateway event type does to a payment and its entitlements.
type Rule struct {
	EventType string
	From      []Status
	To        Status
	EntFrom   entitlementdomain.Status
	EntTo     entitlementdomain.Status
	Issue     bool
}

var rules = map[string]Rule{
	EventTypeCaptured: {
		EventType: EventTypeCaptured,
		From:      []Status{StatusPending},
		To:        StatusSucceeded,
		EntFrom:   entitlementdomain.StatusPending,
		EntTo:     entitlementdomain.StatusActive,
		Issue:     true,
	},
	EventTypeDisputeCreated: {
		EventType: EventTypeDisputeCreated,
		From:      []Status{StatusSucceeded},
		To:        StatusDisputed,
		EntFrom:   entitlementdomain.StatusActive,
		EntTo:     entitlementdomain.StatusSuspended,
	},
	EventTypeDisputeWon: {
		EventType: EventTypeDisputeWon,
		From:      []Status{StatusDisputed},
		To:        StatusSucceeded,
		EntFrom:   entitlementdomain.StatusSuspended,
		EntTo:     entitlementdomain.StatusActive,
	},
	EventTypeDisputeLost: {
		EventType: EventTypeDisputeLost,
		From:      []Status{StatusDisputed},
		To:        StatusChargedBack,
		EntFrom:   entitlementdomain.StatusSuspended,
		EntTo:     entitlementdomain.StatusRevoked,
	},
}

// RuleFor returns the rule for a supported event type.
func RuleFor(eventType string) (Rule, bool) {
	rule, ok := rules[eventType]
	return rule, ok
}

func IsSupported(eventType string) bool {
	_, ok := rules[eventType]
	return ok
}

// Allows reports whether the rule may move a payment out of current.
func (r Rule) Allows(current Status) bool {
	for _, from := range r.From {
		if from == current {
			return true
		}
	}
	return false
}
