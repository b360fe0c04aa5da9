package dedupe

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("ns", "match_1", "court_2")
	b := Key("ns", "match_1", "court_2")
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "ns:"))
	assert.Len(t, strings.TrimPrefix(a, "ns:"), 64)
}

func TestKeyLengthPrefixPreventsConcatCollisions(t *testing.T) {
	assert.NotEqual(t, Key("ns", "ab", "c"), Key("ns", "a", "bc"))
	assert.NotEqual(t, Key("ns", "a"), Key("other", "a"))
}

func TestScheduleChangeKey(t *testing.T) {
	startsAt := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)
	jakarta := time.FixedZone("WIB", 7*3600)

	base := ScheduleChange(1, "match_1", startsAt, "court_A", 1, "user_1")

	assert.Equal(t, base, ScheduleChange(1, "match_1", startsAt.In(jakarta), "court_A", 1, "user_1"), "same instant in another zone")
	assert.NotEqual(t, base, ScheduleChange(1, "match_1", startsAt, "court_A", 2, "user_1"), "version bump")
	assert.NotEqual(t, base, ScheduleChange(1, "match_1", startsAt.Add(time.Hour), "court_A", 1, "user_1"), "new start time")
	assert.NotEqual(t, base, ScheduleChange(1, "match_1", startsAt, "court_B", 1, "user_1"), "new court")
	assert.NotEqual(t, base, ScheduleChange(1, "match_1", startsAt, "court_A", 1, "user_2"), "other recipient")
	assert.NotEqual(t, base, ScheduleChangeFact(1, "match_1", startsAt, "court_A", 1))
}

func TestPaymentStatusKeyNormalizesStatus(t *testing.T) {
	assert.Equal(t,
		PaymentStatus(1, "pay_1", "disputed", "evt_1"),
		PaymentStatus(1, "pay_1", "DISPUTED", " evt_1 "),
	)
	assert.NotEqual(t,
		PaymentStatus(1, "pay_1", "DISPUTED", "evt_1"),
		PaymentStatus(1, "pay_1", "DISPUTED", "evt_2"),
	)
}

func TestKeysAreScopedToOrg(t *testing.T) {
	startsAt := time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

	assert.NotEqual(t,
		ScheduleChange(1, "match_1", startsAt, "court_A", 1, "user_1"),
		ScheduleChange(2, "match_1", startsAt, "court_A", 1, "user_1"),
	)
	assert.NotEqual(t,
		ScheduleChangeFact(1, "match_1", startsAt, "court_A", 1),
		ScheduleChangeFact(2, "match_1", startsAt, "court_A", 1),
	)
	assert.NotEqual(t, PaymentStatus(1, "pay_1", "REFUNDED", "evt_1"), PaymentStatus(2, "pay_1", "REFUNDED", "evt_1"))
	assert.NotEqual(t, PaymentNotice(1, "pay_1", "REFUNDED", "evt_1"), PaymentNotice(2, "pay_1", "REFUNDED", "evt_1"))
	assert.NotEqual(t, EntitlementStatus(1, "ent_1", "EXPIRED"), EntitlementStatus(2, "ent_1", "EXPIRED"))
}
