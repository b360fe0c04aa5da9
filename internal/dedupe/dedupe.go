// Package dedupe builds deterministic idempotency keys from the logical content of an operation.
//
// Keys are namespaced SHA-256 digests over length-prefixed parts, so ("ab","c") and
// ("a","bc") never collide and the same inputs always yield the same key regardless of
// wall-clock time or process.
package dedupe

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

const (
	NamespaceScheduleChange = "schedule_change"
	NamespacePaymentStatus  = "payment_status"
	NamespaceEntitlement    = "entitlement_status"
	NamespacePaymentNotice  = "payment_notice"
)

// Key returns "<namespace>:<hex sha256>" over the length-prefixed parts.
func Key(namespace string, parts ...string) string {
	namespace = strings.TrimSpace(namespace)
	h := sha256.New()
	writePart(h, namespace)
	for _, part := range parts {
		writePart(h, part)
	}
	return namespace + ":" + hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writePart(w byteWriter, part string) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(part)))
	_, _ = w.Write(size[:])
	_, _ = w.Write([]byte(part))
}

// ScheduleChange keys one notification per recipient per logical schedule change
// within an org. Bumping version yields a new key for a genuinely new change.
func ScheduleChange(orgID int64, matchID string, startsAt time.Time, courtID string, version int64, recipientID string) string {
	return Key(NamespaceScheduleChange,
		org(orgID),
		strings.TrimSpace(matchID),
		Timestamp(startsAt),
		strings.TrimSpace(courtID),
		strconv.FormatInt(version, 10),
		strings.TrimSpace(recipientID),
	)
}

// ScheduleChangeFact keys the event log fact shared by every recipient of one change.
func ScheduleChangeFact(orgID int64, matchID string, startsAt time.Time, courtID string, version int64) string {
	return Key(NamespaceScheduleChange,
		org(orgID),
		strings.TrimSpace(matchID),
		Timestamp(startsAt),
		strings.TrimSpace(courtID),
		strconv.FormatInt(version, 10),
	)
}

// PaymentStatus keys a payment status change caused by one gateway event.
func PaymentStatus(orgID int64, paymentID string, toStatus string, sourceEventID string) string {
	return Key(NamespacePaymentStatus,
		org(orgID),
		strings.TrimSpace(paymentID),
		strings.ToUpper(strings.TrimSpace(toStatus)),
		strings.TrimSpace(sourceEventID),
	)
}

// PaymentNotice keys the buyer notification for one payment status change.
func PaymentNotice(orgID int64, paymentID string, toStatus string, sourceEventID string) string {
	return Key(NamespacePaymentNotice,
		org(orgID),
		strings.TrimSpace(paymentID),
		strings.ToUpper(strings.TrimSpace(toStatus)),
		strings.TrimSpace(sourceEventID),
	)
}

// EntitlementStatus keys a single entitlement transition.
func EntitlementStatus(orgID int64, entitlementID string, toStatus string) string {
	return Key(NamespaceEntitlement,
		org(orgID),
		strings.TrimSpace(entitlementID),
		strings.ToUpper(strings.TrimSpace(toStatus)),
	)
}

func org(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Timestamp renders t in UTC with second precision so equal instants in different
// zones produce the same key.
func Timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
