package indicator

// EMASeries computes the exponential moving average series of prices with the
// given period. The first element is the SMA of the first period prices; each
// later element applies the standard 2/(period+1) smoothing. The returned
// series has len(prices)-period+1 elements.
func EMASeries(prices []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, insufficient("EMA", 1, period)
	}
	if len(prices) < period {
		return nil, insufficient("EMA", period, len(prices))
	}

	mult := 2.0 / (float64(period) + 1.0)

	var seed float64
	for _, p := range prices[:period] {
		seed += p
	}
	seed /= float64(period)

	series := make([]float64, 0, len(prices)-period+1)
	series = append(series, seed)
	for _, p := range prices[period:] {
		prev := series[len(series)-1]
		series = append(series, (p-prev)*mult+prev)
	}
	return series, nil
}

// EMA returns the latest exponential moving average value.
func EMA(prices []float64, period int) (float64, error) {
	series, err := EMASeries(prices, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// SMA returns the simple moving average of the last period prices.
func SMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, insufficient("SMA", 1, period)
	}
	if len(prices) < period {
		return 0, insufficient("SMA", period, len(prices))
	}
	var sum float64
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), nil
}
