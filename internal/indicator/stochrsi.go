package indicator

// StochRSI holds the %K and %D lines of the Stochastic RSI oscillator, both
// in [0, 1].
type StochRSI struct {
	K float64
	D float64
}

// CalculateStochRSI re-normalizes a series of RSI values by their own rolling
// min/max range over period, then smooths: %K is an SMA of the raw stochastic
// over kPeriod and %D is an SMA of %K over dPeriod. Requires at least
// period+kPeriod+dPeriod-2 RSI values.
func CalculateStochRSI(rsiValues []float64, period, kPeriod, dPeriod int) (*StochRSI, error) {
	required := period + kPeriod + dPeriod - 2
	if len(rsiValues) < required {
		return nil, insufficient("StochRSI", required, len(rsiValues))
	}

	raw := make([]float64, 0, len(rsiValues)-period+1)
	for i := period - 1; i < len(rsiValues); i++ {
		window := rsiValues[i-period+1 : i+1]
		lo, hi := window[0], window[0]
		for _, v := range window[1:] {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi == lo {
			raw = append(raw, 0.5)
			continue
		}
		raw = append(raw, (rsiValues[i]-lo)/(hi-lo))
	}

	kSeries, err := smaSeries(raw, kPeriod)
	if err != nil {
		return nil, insufficient("StochRSI", required, len(rsiValues))
	}
	dSeries, err := smaSeries(kSeries, dPeriod)
	if err != nil {
		return nil, insufficient("StochRSI", required, len(rsiValues))
	}

	return &StochRSI{K: kSeries[len(kSeries)-1], D: dSeries[len(dSeries)-1]}, nil
}

// smaSeries computes the rolling simple moving average with the given window.
func smaSeries(values []float64, window int) ([]float64, error) {
	if window <= 0 || len(values) < window {
		return nil, insufficient("SMA", window, len(values))
	}
	out := make([]float64, 0, len(values)-window+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out, nil
}
