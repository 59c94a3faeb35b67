package domain

import (
	"math"
	"strconv"
)

// feasibilityEpsilonUSD is the residual notional tolerated for a fill to
// still count as feasible.
const feasibilityEpsilonUSD = 0.01

// SideMetric describes the execution cost of one side for a USD notional.
type SideMetric struct {
	SizeUSD     float64
	TotalCost   float64
	AvgPrice    float64
	SlippageBps float64
	LevelsUsed  int
	Feasible    bool
}

// SizeMetrics pairs the buy (walk asks) and sell (walk bids) metrics for one
// ladder size.
type SizeMetrics struct {
	Buy  SideMetric
	Sell SideMetric
}

// LadderMetrics maps the integer string of each ladder size to its metrics.
type LadderMetrics map[string]SizeMetrics

// ComputeLadder walks both sides of the snapshot for every ladder size.
// It is a pure function: the same snapshot and ladder always produce the
// same result.
func ComputeLadder(snap *Snapshot, sizes []float64) LadderMetrics {
	metrics := make(LadderMetrics, len(sizes))
	for _, size := range sizes {
		key := strconv.Itoa(int(size))
		metrics[key] = SizeMetrics{
			Buy:  computeSide(snap.Asks, size, snap.Mid, true),
			Sell: computeSide(snap.Bids, size, snap.Mid, false),
		}
	}
	return metrics
}

// computeSide walks levels from the best outward consuming USD notional.
// An infeasible fill still reports the achieved partial-fill VWAP.
func computeSide(levels []Level, sizeUSD float64, mid *float64, isBuy bool) SideMetric {
	metric := SideMetric{SizeUSD: sizeUSD}
	if len(levels) == 0 {
		return metric
	}

	remaining := sizeUSD
	totalCost := 0.0
	baseUnits := 0.0
	levelsUsed := 0

	for _, level := range levels {
		levelNotional := level.Price * level.Size
		if remaining <= levelNotional {
			baseUnits += remaining / level.Price
			totalCost += remaining
			levelsUsed++
			remaining = 0
			break
		}
		baseUnits += level.Size
		totalCost += levelNotional
		remaining -= levelNotional
		levelsUsed++
	}

	metric.TotalCost = totalCost
	metric.LevelsUsed = levelsUsed
	metric.Feasible = remaining <= feasibilityEpsilonUSD

	if baseUnits > 0 {
		metric.AvgPrice = totalCost / baseUnits
	}

	if mid != nil && *mid > 0 && metric.AvgPrice > 0 {
		slippage := metric.AvgPrice - *mid
		if !isBuy {
			slippage = *mid - metric.AvgPrice
		}
		metric.SlippageBps = slippage / *mid * 10000
	}

	return metric
}

// ClientSizeMetrics is the client-facing shape of one ladder size, with all
// values rounded to two decimals.
type ClientSizeMetrics struct {
	BuyCost         float64 `json:"buy_cost"`
	BuyAvgPrice     float64 `json:"buy_avg_price"`
	BuySlippageBps  float64 `json:"buy_slippage_bps"`
	SellProceeds    float64 `json:"sell_proceeds"`
	SellAvgPrice    float64 `json:"sell_avg_price"`
	SellSlippageBps float64 `json:"sell_slippage_bps"`
}

// ForClient converts the ladder to its client wire representation.
func (m LadderMetrics) ForClient() map[string]ClientSizeMetrics {
	out := make(map[string]ClientSizeMetrics, len(m))
	for key, sm := range m {
		out[key] = ClientSizeMetrics{
			BuyCost:         round2(sm.Buy.TotalCost),
			BuyAvgPrice:     round2(sm.Buy.AvgPrice),
			BuySlippageBps:  round2(sm.Buy.SlippageBps),
			SellProceeds:    round2(sm.Sell.TotalCost),
			SellAvgPrice:    round2(sm.Sell.AvgPrice),
			SellSlippageBps: round2(sm.Sell.SlippageBps),
		}
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
