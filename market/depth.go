package market

// Depth 深度快照的派生指标，供订单簿组件显示。
type Depth struct {
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Mid       float64 `json:"mid"`
	Spread    float64 `json:"spread"`    // ask/bid - 1
	Imbalance float64 `json:"imbalance"` // 前 N 档
}

// DefaultImbalanceLevels 计算盘口失衡默认使用的档数。
const DefaultImbalanceLevels = 10

// DepthOf 计算快照的派生指标。
func DepthOf(ob OrderBookSnapshot, levels int) Depth {
	bid, ask := ob.Best()
	d := Depth{Bid: bid, Ask: ask, Mid: ob.Mid()}
	d.Spread = RelativeSpread(bid, ask)
	d.Imbalance = CalculateImbalanceFromSnapshot(ob, levels)
	return d
}

// RelativeSpread ask/bid - 1；缺失任一侧返回 0。
func RelativeSpread(bid, ask float64) float64 {
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return ask/bid - 1
}
