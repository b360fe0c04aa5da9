package domain

var transitions = map[Status][]Status{
	StatusPending:   {StatusActive},
	StatusActive:    {StatusSuspended, StatusRevoked, StatusExpired},
	StatusSuspended: {StatusActive, StatusRevoked},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusSuspended, StatusRevoked, StatusExpired:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusRevoked || s == StatusExpired
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from -> to and returns the new status.
func Transition(from, to Status) (Status, error) {
	if !from.Valid() || !to.Valid() {
		return from, ErrInvalidStatus
	}
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

// Access is the combined answer for gates and owners.
type Access struct {
	Status          Status          `json:"status"`
	EffectiveStatus EffectiveStatus `json:"effective_status"`
	Blocked         bool            `json:"blocked"`
	Consumed        bool            `json:"consumed"`
	CanCheckIn      bool            `json:"can_check_in"`
	CanViewDetails  bool            `json:"can_view_details"`
	CanDisplayQR    bool            `json:"can_display_qr"`
	Reason          string          `json:"reason,omitempty"`
}

// Evaluate derives access from the stored status and the check-in history together.
// Blocking statuses win over any check-in; a successful check-in on ACTIVE means consumed.
func Evaluate(status Status, checkins []Checkin) Access {
	consumed := false
	for _, c := range checkins {
		if c.ResultCode == CheckinOK {
			consumed = true
			break
		}
	}

	access := Access{Status: status, Consumed: consumed}
	switch status {
	case StatusRevoked:
		access.EffectiveStatus = EffectiveRevoked
		access.Blocked = true
		access.Reason = "REVOKED"
	case StatusSuspended:
		access.EffectiveStatus = EffectiveSuspended
		access.Blocked = true
		access.CanViewDetails = true
		access.Reason = "SUSPENDED"
	case StatusExpired:
		access.EffectiveStatus = EffectiveExpired
		access.CanViewDetails = true
		access.Reason = "EXPIRED"
	case StatusPending:
		access.EffectiveStatus = EffectivePending
		access.CanViewDetails = true
		access.Reason = "PAYMENT_PENDING"
	case StatusActive:
		access.CanViewDetails = true
		if consumed {
			access.EffectiveStatus = EffectiveConsumed
			access.Reason = "ALREADY_USED"
			break
		}
		access.EffectiveStatus = EffectiveActive
		access.CanCheckIn = true
		access.CanDisplayQR = true
	default:
		access.Blocked = true
		access.Reason = "UNKNOWN_STATUS"
	}
	return access
}

// GateResult maps access to the result code a scanner records.
func (a Access) GateResult() CheckinResult {
	switch {
	case a.CanCheckIn:
		return CheckinOK
	case a.Blocked:
		return CheckinBlocked
	case a.Consumed:
		return CheckinAlreadyUsed
	default:
		return CheckinInvalid
	}
}
