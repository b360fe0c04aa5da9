package domain

const bpsDenominator = 10000

// FeeConfig holds rates in basis points (1/10000) and fixed amounts in cents.
type FeeConfig struct {
	DiscountBps     int64
	PlatformFeeBps  int64
	ProcessorFeeBps int64
	ProcessorFixed  int64
}

type Fees struct {
	Subtotal     int64 `json:"subtotal"`
	Discount     int64 `json:"discount"`
	Net          int64 `json:"net"`
	PlatformFee  int64 `json:"platform_fee"`
	Total        int64 `json:"total"`
	ProcessorFee int64 `json:"processor_fee"`
	Payout       int64 `json:"payout"`
}

// ComputeFees splits a subtotal into what the buyer pays and what the organizer keeps.
// Discounts floor, fees round half up, and no value exceeds the amount it is taken from.
func ComputeFees(subtotal int64, cfg FeeConfig) Fees {
	if subtotal <= 0 {
		return Fees{}
	}

	discount := clamp(floorBps(subtotal, clampBps(cfg.DiscountBps)), 0, subtotal)
	net := subtotal - discount

	platform := clamp(roundBps(net, clampBps(cfg.PlatformFeeBps)), 0, net)
	total := net + platform

	processor := roundBps(total, clampBps(cfg.ProcessorFeeBps))
	if total > 0 {
		processor += max(cfg.ProcessorFixed, 0)
	}
	processor = clamp(processor, 0, total)

	payout := total - platform - processor
	if payout < 0 {
		payout = 0
	}

	return Fees{
		Subtotal:     subtotal,
		Discount:     discount,
		Net:          net,
		PlatformFee:  platform,
		Total:        total,
		ProcessorFee: processor,
		Payout:       payout,
	}
}

func clampBps(bps int64) int64 {
	return clamp(bps, 0, bpsDenominator)
}

func floorBps(amount, bps int64) int64 {
	return amount * bps / bpsDenominator
}

func roundBps(amount, bps int64) int64 {
	return (amount*bps + bpsDenominator/2) / bpsDenominator
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
