package indicator

import "math"

// Bollinger holds the middle band (SMA), the upper and lower bands and the
// standard deviation used to build them.
type Bollinger struct {
	Mid    float64
	Upper  float64
	Lower  float64
	StdDev float64
}

// CalculateBollinger computes Bollinger bands over the last period prices:
// bands sit numStdDev standard deviations away from the SMA. Requires at
// least period prices.
func CalculateBollinger(prices []float64, period int, numStdDev float64) (*Bollinger, error) {
	if period <= 0 {
		return nil, insufficient("Bollinger", 1, period)
	}
	if len(prices) < period {
		return nil, insufficient("Bollinger", period, len(prices))
	}

	window := prices[len(prices)-period:]
	var sum float64
	for _, p := range window {
		sum += p
	}
	mean := sum / float64(period)

	var variance float64
	for _, p := range window {
		d := p - mean
		variance += d * d
	}
	// Sample standard deviation, matching the usual charting convention.
	std := 0.0
	if period > 1 {
		std = math.Sqrt(variance / float64(period-1))
	}

	return &Bollinger{
		Mid:    mean,
		Upper:  mean + numStdDev*std,
		Lower:  mean - numStdDev*std,
		StdDev: std,
	}, nil
}
