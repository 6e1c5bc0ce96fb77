package indicator

// MACD holds the latest values of the MACD line, its signal line and the
// histogram (line minus signal).
type MACD struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// CalculateMACD computes MACD from a price window. The MACD line is the short
// EMA minus the long EMA; the signal is an EMA of the MACD line. Requires at
// least longWindow+signalWindow prices.
func CalculateMACD(prices []float64, shortWindow, longWindow, signalWindow int) (*MACD, error) {
	required := longWindow + signalWindow
	if len(prices) < required {
		return nil, insufficient("MACD", required, len(prices))
	}

	shortEMA, err := EMASeries(prices, shortWindow)
	if err != nil {
		return nil, err
	}
	longEMA, err := EMASeries(prices, longWindow)
	if err != nil {
		return nil, err
	}

	// Align the two series on their tails; the long series is shorter.
	n := len(longEMA)
	shortEMA = shortEMA[len(shortEMA)-n:]
	macdLine := make([]float64, n)
	for i := range macdLine {
		macdLine[i] = shortEMA[i] - longEMA[i]
	}

	signalSeries, err := EMASeries(macdLine, signalWindow)
	if err != nil {
		return nil, err
	}

	line := macdLine[len(macdLine)-1]
	signal := signalSeries[len(signalSeries)-1]
	return &MACD{Line: line, Signal: signal, Histogram: line - signal}, nil
}
