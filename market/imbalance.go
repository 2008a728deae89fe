package market

// CalculateImbalance calculates the imbalance between bid and ask volumes
// Imbalance = (BidVol - AskVol) / (BidVol + AskVol)
func CalculateImbalance(bidVolumeTop float64, askVolumeTop float64) float64 {
	totalVolume := bidVolumeTop + askVolumeTop
	if totalVolume == 0 {
		return 0
	}
	return (bidVolumeTop - askVolumeTop) / totalVolume
}

// CalculateImbalanceFromSnapshot uses the top `levels` levels of each side.
func CalculateImbalanceFromSnapshot(ob OrderBookSnapshot, levels int) float64 {
	if levels <= 0 {
		return 0
	}
	return CalculateImbalance(topVolume(ob.Bids, levels), topVolume(ob.Asks, levels))
}

func topVolume(levels []Level, n int) float64 {
	v := 0.0
	for i, l := range levels {
		if i >= n {
			break
		}
		v += l.Size
	}
	return v
}
