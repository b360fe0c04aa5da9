package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeFeesZeroSubtotal(t *testing.T) {
	assert.Equal(t, Fees{}, ComputeFees(0, FeeConfig{PlatformFeeBps: 500, ProcessorFixed: 30}))
	assert.Equal(t, Fees{}, ComputeFees(-100, FeeConfig{PlatformFeeBps: 500}))
}

func TestComputeFeesRounding(t *testing.T) {
	got := ComputeFees(10000, FeeConfig{
		DiscountBps:     1000,
		PlatformFeeBps:  500,
		ProcessorFeeBps: 290,
		ProcessorFixed:  30,
	})
	assert.Equal(t, int64(1000), got.Discount)
	assert.Equal(t, int64(9000), got.Net)
	assert.Equal(t, int64(450), got.PlatformFee)
	assert.Equal(t, int64(9450), got.Total)
	// 9450 * 0.029 = 274.05 -> 274, plus 30 fixed.
	assert.Equal(t, int64(304), got.ProcessorFee)
	assert.Equal(t, int64(9450-450-304), got.Payout)
}

func TestComputeFeesDiscountFloorsAndFeesRoundHalfUp(t *testing.T) {
	// 999 * 0.0333 = 33.2667 -> floor 33
	got := ComputeFees(999, FeeConfig{DiscountBps: 333, PlatformFeeBps: 50})
	assert.Equal(t, int64(33), got.Discount)
	// 966 * 0.005 = 4.83 -> 5
	assert.Equal(t, int64(5), got.PlatformFee)

	// 100 * 0.005 = 0.5 -> 1
	assert.Equal(t, int64(1), ComputeFees(100, FeeConfig{PlatformFeeBps: 50}).PlatformFee)
}

func TestComputeFeesClamps(t *testing.T) {
	full := ComputeFees(500, FeeConfig{DiscountBps: 20000, PlatformFeeBps: 500, ProcessorFixed: 30})
	assert.Equal(t, int64(500), full.Discount)
	assert.Equal(t, int64(0), full.Net)
	assert.Equal(t, int64(0), full.Total)
	assert.Equal(t, int64(0), full.ProcessorFee)

	tiny := ComputeFees(10, FeeConfig{ProcessorFixed: 1000})
	assert.Equal(t, int64(10), tiny.ProcessorFee)
	assert.Equal(t, int64(0), tiny.Payout)

	negative := ComputeFees(1000, FeeConfig{DiscountBps: -50, PlatformFeeBps: -1, ProcessorFixed: -30})
	assert.Equal(t, int64(0), negative.Discount)
	assert.Equal(t, int64(0), negative.PlatformFee)
	assert.Equal(t, int64(0), negative.ProcessorFee)
	assert.Equal(t, int64(1000), negative.Payout)
}

func TestRuleGuards(t *testing.T) {
	rule, ok := RuleFor(EventTypeDisputeCreated)
	assert.True(t, ok)
	assert.True(t, rule.Allows(StatusSucceeded))
	assert.False(t, rule.Allows(StatusPending))

	captured, _ := RuleFor(EventTypeCaptured)
	assert.False(t, captured.Allows(StatusDisputed), "late capture must not undo a dispute")

	assert.False(t, IsSupported("charge.refunded"))
}
