package market

import "sort"

// ScreeningRow 单个标的的筛选/排名指标。推送每次整体替换全部行。
type ScreeningRow struct {
	Pair           InstrumentKey      `json:"pair" validate:"required"`
	Close          float64            `json:"close"`
	Change24h      float64            `json:"24h_change"`
	NextSupport    float64            `json:"next_support"`
	NextResistance float64            `json:"next_resistance"`
	SupportDist    float64            `json:"support_dist"`
	RSI            float64            `json:"rsi"`
	BBL            float64            `json:"bbl"`
	Score          float64            `json:"technicals_score"`
	BookImbalance  float64            `json:"book_imbalance"`
	Spread         float64            `json:"spread"`
	PotentialGain  float64            `json:"potential_gain"`
	Extra          map[string]float64 `json:"extra,omitempty"`
}

// RankByScore 返回按综合评分降序排列的副本（筛选表默认排序）。
func RankByScore(rows []ScreeningRow) []ScreeningRow {
	out := make([]ScreeningRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// FindRow 查找某标的对应的行。
func FindRow(rows []ScreeningRow, k InstrumentKey) (ScreeningRow, bool) {
	for _, r := range rows {
		if r.Pair == k {
			return r, true
		}
	}
	return ScreeningRow{}, false
}
