package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func entries(types ...EntryType) []Entry {
	out := make([]Entry, 0, len(types))
	for _, t := range types {
		out = append(out, Entry{EntryType: t, Amount: 1000})
	}
	return out
}

func TestDerivedStatusPrecedence(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
		status  string
		want    string
	}{
		{"payment status when ledger is quiet", entries(EntryPaymentGross), "SUCCEEDED", "SUCCEEDED"},
		{"open dispute", entries(EntryPaymentGross, EntryDisputeOpened), "SUCCEEDED", DerivedDisputed},
		{"dispute won", entries(EntryPaymentGross, EntryDisputeOpened, EntryDisputeWon), "SUCCEEDED", "SUCCEEDED"},
		{"chargeback beats refund", entries(EntryPaymentGross, EntryRefundGross, EntryChargebackDebit), "SUCCEEDED", DerivedChargedBack},
		{"dispute beats refund", entries(EntryPaymentGross, EntryRefundGross, EntryDisputeOpened), "SUCCEEDED", DerivedDisputed},
		{"full refund", entries(EntryPaymentGross, EntryRefundGross), "SUCCEEDED", DerivedRefunded},
		{"second dispute after a win", entries(EntryDisputeOpened, EntryDisputeWon, EntryDisputeOpened), "SUCCEEDED", DerivedDisputed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DerivedStatus(tc.entries, tc.status))
		})
	}
}

func TestDerivedStatusPartialRefund(t *testing.T) {
	got := DerivedStatus([]Entry{
		{EntryType: EntryPaymentGross, Amount: 5000},
		{EntryType: EntryRefundGross, Amount: 2000},
	}, "SUCCEEDED")
	assert.Equal(t, DerivedPartiallyRefunded, got)
}

func TestBalance(t *testing.T) {
	got := Balance([]Entry{
		{EntryType: EntryPaymentGross, Amount: 10000},
		{EntryType: EntryPlatformFee, Amount: 500},
		{EntryType: EntryProcessorFee, Amount: 320},
		{EntryType: EntryDisputeOpened, Amount: 10000},
	})
	assert.Equal(t, int64(9180), got)
}
