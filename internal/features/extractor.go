// Package features computes the fixed 23-indicator feature vector from a
// candle window. Extraction is pure and deterministic: no state, no I/O.
package features

import (
	"math"

	"hybrid-learning-bot-go/internal/models"
)

// MinWindow is the shortest window Extract accepts, set by the MACD slow
// period. Indicators with a longer warmup (AO, ADX) report 0 until the window
// covers them.
const MinWindow = 26

// Extract computes the feature vector from the given window. The last candle
// in the window is the bar being described; earlier candles provide indicator
// history. Windows shorter than MinWindow fail with InsufficientHistory.
func Extract(window []models.Candle) (models.FeatureVector, error) {
	var v models.FeatureVector
	if len(window) < MinWindow {
		return v, models.NewAppError(models.KindInsufficientHistory,
			"need %d candles, got %d", MinWindow, len(window))
	}

	n := len(window)
	last := window[n-1]

	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	volumes := make([]float64, n)
	medians := make([]float64, n)
	typicals := make([]float64, n)
	for i, c := range window {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
		medians[i] = (c.High + c.Low) / 2
		typicals[i] = (c.High + c.Low + c.Close) / 3
	}

	macd, macdSignal, macdDiff := macd(closes, 12, 26, 9)
	stochK, stochD := stochastic(highs, lows, closes, 14, 3)
	bbHigh, bbLow := bollinger(closes, 20, 2)

	raw := [models.FeatureCount]float64{
		last.Open,
		last.High,
		last.Low,
		last.Close,
		last.Volume,
		rsi(closes, 14),
		stochK,
		stochD,
		williamsR(highs, lows, closes, 14),
		roc(closes, 10),
		awesome(medians, 5, 34),
		macd,
		macdSignal,
		macdDiff,
		adx(window, 14),
		cci(typicals, 20),
		sma(closes, 20),
		emaLast(closes, 20),
		bbHigh,
		bbLow,
		atr(window, 14),
		obv(closes, volumes),
		cmf(window, 20),
	}

	for i, x := range raw {
		v[i] = finite(x)
	}
	return v, nil
}

// finite replaces NaN and ±Inf with 0 at the extraction boundary.
func finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// sma returns the simple moving average of the last period values, or 0 when
// there is not enough history.
func sma(values []float64, period int) float64 {
	if len(values) < period || period <= 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// emaSeries computes the EMA over the whole slice, seeding with the SMA of
// the first period values. The returned series starts at index period-1.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	multiplier := 2.0 / float64(period+1)

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out
}

func emaLast(values []float64, period int) float64 {
	series := emaSeries(values, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// rsi is Wilder's relative strength index.
func rsi(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 0
	}
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// stochastic returns %K (fast, period kPeriod) and %D (SMA of %K over
// dPeriod).
func stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (float64, float64) {
	n := len(closes)
	if n < kPeriod {
		return 0, 0
	}

	kAt := func(end int) float64 {
		hh := highs[end]
		ll := lows[end]
		for i := end - kPeriod + 1; i <= end; i++ {
			hh = math.Max(hh, highs[i])
			ll = math.Min(ll, lows[i])
		}
		if hh == ll {
			return 50
		}
		return (closes[end] - ll) / (hh - ll) * 100
	}

	k := kAt(n - 1)

	count := 0
	sum := 0.0
	for end := n - 1; end >= kPeriod-1 && count < dPeriod; end-- {
		sum += kAt(end)
		count++
	}
	if count == 0 {
		return k, k
	}
	return k, sum / float64(count)
}

// williamsR is the Williams %R oscillator, in [-100, 0].
func williamsR(highs, lows, closes []float64, period int) float64 {
	n := len(closes)
	if n < period {
		return 0
	}
	hh := highs[n-1]
	ll := lows[n-1]
	for i := n - period; i < n; i++ {
		hh = math.Max(hh, highs[i])
		ll = math.Min(ll, lows[i])
	}
	if hh == ll {
		return -50
	}
	return (hh - closes[n-1]) / (hh - ll) * -100
}

// roc is the percentage rate of change over period bars.
func roc(closes []float64, period int) float64 {
	n := len(closes)
	if n < period+1 || closes[n-1-period] == 0 {
		return 0
	}
	return (closes[n-1]/closes[n-1-period] - 1) * 100
}

// awesome is the Awesome Oscillator: SMA(fast) - SMA(slow) of the bar median
// price.
func awesome(medians []float64, fast, slow int) float64 {
	if len(medians) < slow {
		return 0
	}
	return sma(medians, fast) - sma(medians, slow)
}

// macd returns the MACD line, signal line, and histogram for the standard
// fast/slow/signal periods.
func macd(closes []float64, fast, slow, signal int) (float64, float64, float64) {
	if len(closes) < slow {
		return 0, 0, 0
	}
	fastSeries := emaSeries(closes, fast)
	slowSeries := emaSeries(closes, slow)

	// Align the two series on their tails; the slow series is shorter.
	offset := len(fastSeries) - len(slowSeries)
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	line := macdSeries[len(macdSeries)-1]
	var sig float64
	if len(macdSeries) >= signal {
		sig = emaLast(macdSeries, signal)
	} else {
		// Not enough MACD points for a full signal EMA; average what exists.
		sum := 0.0
		for _, m := range macdSeries {
			sum += m
		}
		sig = sum / float64(len(macdSeries))
	}
	return line, sig, line - sig
}

// adx is Wilder's Average Directional Index. Needs 2*period+1 candles; below
// that it reports 0 (zero-filled per the schema contract).
func adx(window []models.Candle, period int) float64 {
	if len(window) < 2*period+1 {
		return 0
	}

	var trSmooth, pdmSmooth, mdmSmooth float64
	var dxValues []float64
	p := float64(period)

	for i := 1; i < len(window); i++ {
		cur, prev := window[i], window[i-1]

		upMove := cur.High - prev.High
		downMove := prev.Low - cur.Low
		var pdm, mdm float64
		if upMove > downMove && upMove > 0 {
			pdm = upMove
		}
		if downMove > upMove && downMove > 0 {
			mdm = downMove
		}
		tr := trueRange(cur, prev)

		if i <= period {
			trSmooth += tr
			pdmSmooth += pdm
			mdmSmooth += mdm
			if i < period {
				continue
			}
		} else {
			trSmooth = trSmooth - trSmooth/p + tr
			pdmSmooth = pdmSmooth - pdmSmooth/p + pdm
			mdmSmooth = mdmSmooth - mdmSmooth/p + mdm
		}

		if trSmooth == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		pdi := 100 * pdmSmooth / trSmooth
		mdi := 100 * mdmSmooth / trSmooth
		if pdi+mdi == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		dxValues = append(dxValues, 100*math.Abs(pdi-mdi)/(pdi+mdi))
	}

	if len(dxValues) < period {
		return 0
	}
	// Seed ADX with the average of the first period DX values, then apply
	// Wilder smoothing over the rest.
	adxVal := 0.0
	for i := 0; i < period; i++ {
		adxVal += dxValues[i]
	}
	adxVal /= p
	for i := period; i < len(dxValues); i++ {
		adxVal = (adxVal*(p-1) + dxValues[i]) / p
	}
	return adxVal
}

func trueRange(cur, prev models.Candle) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// cci is the Commodity Channel Index over the typical price.
func cci(typicals []float64, period int) float64 {
	n := len(typicals)
	if n < period {
		return 0
	}
	mean := sma(typicals, period)
	dev := 0.0
	for _, tp := range typicals[n-period:] {
		dev += math.Abs(tp - mean)
	}
	dev /= float64(period)
	if dev == 0 {
		return 0
	}
	return (typicals[n-1] - mean) / (0.015 * dev)
}

// bollinger returns the upper and lower bands (SMA ± stddevs·σ over period).
func bollinger(closes []float64, period int, stddevs float64) (float64, float64) {
	n := len(closes)
	if n < period {
		return 0, 0
	}
	mid := sma(closes, period)
	variance := 0.0
	for _, c := range closes[n-period:] {
		d := c - mid
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))
	return mid + stddevs*sd, mid - stddevs*sd
}

// atr is Wilder's Average True Range.
func atr(window []models.Candle, period int) float64 {
	if len(window) < period+1 {
		return 0
	}
	val := 0.0
	for i := 1; i <= period; i++ {
		val += trueRange(window[i], window[i-1])
	}
	val /= float64(period)
	for i := period + 1; i < len(window); i++ {
		val = (val*float64(period-1) + trueRange(window[i], window[i-1])) / float64(period)
	}
	return val
}

// obv is the cumulative On-Balance Volume over the window.
func obv(closes, volumes []float64) float64 {
	val := 0.0
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			val += volumes[i]
		case closes[i] < closes[i-1]:
			val -= volumes[i]
		}
	}
	return val
}

// cmf is the Chaikin Money Flow over the last period bars.
func cmf(window []models.Candle, period int) float64 {
	n := len(window)
	if n < period {
		return 0
	}
	var mfvSum, volSum float64
	for _, c := range window[n-period:] {
		volSum += c.Volume
		if c.High == c.Low {
			continue
		}
		multiplier := ((c.Close - c.Low) - (c.High - c.Close)) / (c.High - c.Low)
		mfvSum += multiplier * c.Volume
	}
	if volSum == 0 {
		return 0
	}
	return mfvSum / volSum
}
