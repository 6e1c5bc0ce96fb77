package indicator

import "math"

// Trend describes the direction of a moving average: the current MA value and
// the sign of its most recent slope (+1 rising, -1 falling, 0 flat).
type Trend struct {
	MA    float64
	Slope int
}

// CalculateTrend computes the moving average over window and the sign of its
// last step. Requires window+1 prices so two consecutive MA values exist.
func CalculateTrend(prices []float64, window int) (*Trend, error) {
	if window <= 0 {
		return nil, insufficient("Trend", 2, len(prices))
	}
	if len(prices) < window+1 {
		return nil, insufficient("Trend", window+1, len(prices))
	}

	cur, err := SMA(prices, window)
	if err != nil {
		return nil, err
	}
	prev, err := SMA(prices[:len(prices)-1], window)
	if err != nil {
		return nil, err
	}

	slope := 0
	switch {
	case cur > prev:
		slope = 1
	case cur < prev:
		slope = -1
	}
	return &Trend{MA: cur, Slope: slope}, nil
}

// CalculateVolatility returns the standard deviation of relative price
// changes over the last window prices. Requires at least window prices.
func CalculateVolatility(prices []float64, window int) (float64, error) {
	if window < 2 {
		return 0, insufficient("Volatility", 2, window)
	}
	if len(prices) < window {
		return 0, insufficient("Volatility", window, len(prices))
	}

	recent := prices[len(prices)-window:]
	changes := make([]float64, 0, window-1)
	for i := 1; i < len(recent); i++ {
		if recent[i-1] == 0 {
			continue
		}
		changes = append(changes, (recent[i]-recent[i-1])/recent[i-1])
	}
	if len(changes) == 0 {
		return 0, nil
	}

	var mean float64
	for _, c := range changes {
		mean += c
	}
	mean /= float64(len(changes))

	var variance float64
	for _, c := range changes {
		d := c - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(changes))), nil
}
