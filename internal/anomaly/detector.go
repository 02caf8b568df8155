// Package anomaly is a streaming per-metric statistical detector. Each
// metric keeps a bounded ring of (timestamp, value) samples; every new
// point runs five tests (z-score, spike, trend change, volatility,
// rate-of-change) whose results are combined into a single detection.
// Quiet periods feed the metric's baseline profile, which in turn
// powers short-horizon predictions.
package anomaly

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/insightlabs/observatory/internal/events"
)

const (
	defaultRingCapacity      = 1000
	defaultMinDataPoints     = 10
	defaultWindowSize        = 24
	defaultPredictionHorizon = 6

	seasonalityBuckets = 24
)

// Sensitivity selects the z-score multiplier. Higher sensitivity means
// a lower trigger threshold.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
)

func (s Sensitivity) multiplier() float64 {
	switch s {
	case SensitivityHigh:
		return 2.0
	case SensitivityMedium:
		return 2.5
	default:
		return 3.0
	}
}

// Severity orders detections from low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Detection is the combined result of the per-point tests.
type Detection struct {
	Type               string    `json:"type"`
	Severity           Severity  `json:"severity"`
	Score              float64   `json:"score"`
	Confidence         float64   `json:"confidence"`
	ObservedValue      float64   `json:"observedValue"`
	ExpectedValue      float64   `json:"expectedValue"`
	AffectedMetrics    []string  `json:"affectedMetrics"`
	RecommendedActions []string  `json:"recommendedActions"`
	DetectedAt         time.Time `json:"detectedAt"`
}

// Profile is the rolling baseline of a metric, maintained from samples
// that did not trigger a detection.
type Profile struct {
	Mean               float64                      `json:"mean"`
	StdDev             float64                      `json:"stdDev"`
	Min                float64                      `json:"min"`
	Max                float64                      `json:"max"`
	SeasonalityPattern [seasonalityBuckets]float64  `json:"seasonalityPattern"`
	TrendCoefficient   float64                      `json:"trendCoefficient"`
	VolatilityIndex    float64                      `json:"volatilityIndex"`
	LastUpdated        time.Time                    `json:"lastUpdated"`
	SampleCount        int                          `json:"sampleCount"`
}

// ConfidenceInterval bounds a prediction at 95%.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Prediction is a short-horizon forecast for a metric.
type Prediction struct {
	PredictedValue     float64            `json:"predictedValue"`
	ConfidenceInterval ConfidenceInterval `json:"confidenceInterval"`
	PredictionTime     time.Time          `json:"predictionTime"`
	Trend              string             `json:"trend"`
	TrendStrength      float64            `json:"trendStrength"`
	RiskLevel          string             `json:"riskLevel"`
	AnomaliesExpected  bool               `json:"anomaliesExpected"`
}

type sample struct {
	at    time.Time
	value float64
}

// series is a fixed-capacity ring of samples.
type series struct {
	buf   []sample
	head  int
	count int
}

func newSeries(capacity int) *series {
	return &series{buf: make([]sample, capacity)}
}

func (s *series) push(p sample) {
	s.buf[s.head] = p
	s.head = (s.head + 1) % len(s.buf)
	if s.count < len(s.buf) {
		s.count++
	}
}

// values returns the newest n sample values in chronological order,
// or all of them when n <= 0 or n > count.
func (s *series) values(n int) []float64 {
	if n <= 0 || n > s.count {
		n = s.count
	}
	out := make([]float64, n)
	start := s.head - n
	if start < 0 {
		start += len(s.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = s.buf[(start+i)%len(s.buf)].value
	}
	return out
}

func (s *series) samples() []sample {
	out := make([]sample, s.count)
	start := s.head - s.count
	if start < 0 {
		start += len(s.buf)
	}
	for i := 0; i < s.count; i++ {
		out[i] = s.buf[(start+i)%len(s.buf)]
	}
	return out
}

// Options tune the detector. Zero values keep defaults.
type Options struct {
	RingCapacity      int
	MinDataPoints     int
	WindowSize        int
	PredictionHorizon int
	Sensitivity       Sensitivity
}

// Detector holds per-metric state. Construct one per concern and
// inject it; all methods are safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	series   map[string]*series
	profiles map[string]*Profile
	bus      events.Emitter

	ringCapacity      int
	minDataPoints     int
	windowSize        int
	predictionHorizon int
	sensitivity       Sensitivity
}

// New builds a detector. The bus may be nil.
func New(bus events.Emitter, opts Options) *Detector {
	d := &Detector{
		series:            make(map[string]*series),
		profiles:          make(map[string]*Profile),
		bus:               bus,
		ringCapacity:      defaultRingCapacity,
		minDataPoints:     defaultMinDataPoints,
		windowSize:        defaultWindowSize,
		predictionHorizon: defaultPredictionHorizon,
		sensitivity:       SensitivityMedium,
	}
	if opts.RingCapacity > 0 {
		d.ringCapacity = opts.RingCapacity
	}
	if opts.MinDataPoints > 0 {
		d.minDataPoints = opts.MinDataPoints
	}
	if opts.WindowSize > 0 {
		d.windowSize = opts.WindowSize
	}
	if opts.PredictionHorizon > 0 {
		d.predictionHorizon = opts.PredictionHorizon
	}
	if opts.Sensitivity != "" {
		d.sensitivity = opts.Sensitivity
	}
	return d
}

// Detect appends the point to the metric's series and runs the test
// battery. Nil means no anomaly (including the warm-up period before
// minDataPoints samples exist). Samples that trigger a detection do
// not feed the baseline profile.
func (d *Detector) Detect(metric string, value float64, at time.Time) *Detection {
	if at.IsZero() {
		at = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ser, ok := d.series[metric]
	if !ok {
		ser = newSeries(d.ringCapacity)
		d.series[metric] = ser
	}
	ser.push(sample{at: at, value: value})

	if ser.count < d.minDataPoints {
		return nil
	}

	window := ser.values(d.windowSize)
	recent := ser.values(2 * d.windowSize)
	multiplier := d.sensitivity.multiplier()

	var parts []Detection
	if det := zScoreTest(window, value, multiplier); det != nil {
		parts = append(parts, *det)
	}
	if det := spikeTest(recent, value); det != nil {
		parts = append(parts, *det)
	}
	if det := trendChangeTest(window, multiplier); det != nil {
		parts = append(parts, *det)
	}
	if det := volatilityTest(ser.values(0)); det != nil {
		parts = append(parts, *det)
	}
	if det := rateOfChangeTest(window, value); det != nil {
		parts = append(parts, *det)
	}

	if len(parts) == 0 {
		d.updateProfileLocked(metric, ser)
		return nil
	}

	combined := combine(parts)
	combined.AffectedMetrics = []string{metric}
	combined.ObservedValue = value
	combined.DetectedAt = at
	if d.bus != nil {
		d.bus.Emit(events.TypeAnomalyDetected, "anomaly", metric, map[string]interface{}{
			"type":     combined.Type,
			"severity": string(combined.Severity),
			"score":    combined.Score,
			"observed": combined.ObservedValue,
			"expected": combined.ExpectedValue,
		})
	}
	return combined
}

// GetProfile returns a copy of the metric's baseline, nil when the
// metric has no quiet samples yet.
func (d *Detector) GetProfile(metric string) *Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[metric]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// GetPrediction forecasts the metric predictionHorizon samples ahead
// from its profile. Nil when no profile exists.
func (d *Detector) GetPrediction(metric string) *Prediction {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.profiles[metric]
	if !ok {
		return nil
	}
	ser := d.series[metric]
	windowLen := d.windowSize
	if ser != nil && ser.count < windowLen {
		windowLen = ser.count
	}
	if windowLen == 0 {
		return nil
	}

	horizon := float64(d.predictionHorizon)
	predicted := p.Mean + p.TrendCoefficient*horizon
	ciWidth := 1.96 * p.StdDev * math.Sqrt(1+horizon/float64(windowLen))

	trend, strength := trendLabel(p)
	risk := riskLabel(p, trend)

	return &Prediction{
		PredictedValue: predicted,
		ConfidenceInterval: ConfidenceInterval{
			Lower: predicted - ciWidth,
			Upper: predicted + ciWidth,
		},
		PredictionTime:    time.Now(),
		Trend:             trend,
		TrendStrength:     strength,
		RiskLevel:         risk,
		AnomaliesExpected: risk == "high" || trend == "volatile",
	}
}

// Reset drops the series and profile for one metric, or everything
// when metric is empty.
func (d *Detector) Reset(metric string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if metric == "" {
		d.series = make(map[string]*series)
		d.profiles = make(map[string]*Profile)
		return
	}
	delete(d.series, metric)
	delete(d.profiles, metric)
}

func (d *Detector) updateProfileLocked(metric string, ser *series) {
	all := ser.values(0)
	window := ser.values(d.windowSize)

	p, ok := d.profiles[metric]
	if !ok {
		p = &Profile{}
		d.profiles[metric] = p
	}

	p.Mean = mean(all)
	p.StdDev = stdDev(all)
	p.Min, p.Max = all[0], all[0]
	for _, v := range all {
		if v < p.Min {
			p.Min = v
		}
		if v > p.Max {
			p.Max = v
		}
	}
	p.TrendCoefficient = olsSlope(window)
	p.VolatilityIndex = mean(absReturns(window))
	p.SampleCount = ser.count
	p.LastUpdated = time.Now()

	// Hour-of-day averages across the full buffer.
	var sums, counts [seasonalityBuckets]float64
	for _, s := range ser.samples() {
		h := s.at.UTC().Hour()
		sums[h] += s.value
		counts[h]++
	}
	for h := 0; h < seasonalityBuckets; h++ {
		if counts[h] > 0 {
			p.SeasonalityPattern[h] = sums[h] / counts[h]
		}
	}
}

func severityForZ(z float64) Severity {
	switch {
	case z < 3:
		return SeverityLow
	case z < 4:
		return SeverityMedium
	case z < 5:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func zScoreTest(window []float64, point, multiplier float64) *Detection {
	sigma := stdDev(window)
	if sigma == 0 {
		return nil
	}
	mu := mean(window)
	z := math.Abs(point-mu) / sigma
	if z <= multiplier {
		return nil
	}
	kind := "spike"
	if point < mu {
		kind = "drop"
	}
	return &Detection{
		Type:          kind,
		Severity:      severityForZ(z),
		Score:         clamp(z*10, 0, 100),
		Confidence:    clamp(z/10, 0.5, 0.99),
		ExpectedValue: mu,
		RecommendedActions: []string{
			"Verify upstream data source",
			"Compare against peer feeds",
		},
	}
}

func spikeTest(recent []float64, point float64) *Detection {
	mu := mean(recent)
	if mu == 0 {
		return nil
	}
	change := math.Abs(point-mu) / math.Abs(mu)
	if change <= 0.5 {
		return nil
	}
	sigma := stdDev(recent)
	if sigma == 0 {
		return nil
	}
	z := math.Abs(point-mu) / sigma
	return &Detection{
		Type:          "spike",
		Severity:      severityForZ(z),
		Score:         clamp(change*100, 0, 100),
		Confidence:    clamp(change, 0.5, 0.95),
		ExpectedValue: mu,
		RecommendedActions: []string{
			"Verify upstream data source",
			"Check for market-wide moves before alerting",
		},
	}
}

func trendChangeTest(window []float64, multiplier float64) *Detection {
	if len(window) < 4 {
		return nil
	}
	half := len(window) / 2
	mu1 := mean(window[:half])
	mu2 := mean(window[half:])
	if mu1 == 0 {
		return nil
	}
	changePct := math.Abs(mu2-mu1) / math.Abs(mu1) * 100
	if changePct <= multiplier*15 {
		return nil
	}
	return &Detection{
		Type:          "trend_change",
		Severity:      SeverityMedium,
		Score:         clamp(changePct, 0, 100),
		Confidence:    0.7,
		ExpectedValue: mu1,
		RecommendedActions: []string{
			"Review recent protocol or market events",
			"Re-baseline the metric profile",
		},
	}
}

func volatilityTest(all []float64) *Detection {
	returns := absReturns(all)
	if len(returns) < 20 {
		return nil
	}
	recent := mean(returns[len(returns)-10:])
	prior := mean(returns[len(returns)-20 : len(returns)-10])
	if prior == 0 {
		return nil
	}
	increase := (recent - prior) / prior
	if increase <= 1.5 {
		return nil
	}
	return &Detection{
		Type:       "volatility",
		Severity:   SeverityMedium,
		Score:      clamp(increase*20, 0, 100),
		Confidence: 0.65,
		RecommendedActions: []string{
			"Widen staleness tolerances temporarily",
			"Compare against peer feeds",
		},
	}
}

func rateOfChangeTest(window []float64, point float64) *Detection {
	if len(window) < 2 {
		return nil
	}
	prev := window[len(window)-2]
	if prev == 0 {
		return nil
	}
	change := math.Abs(point-prev) / math.Abs(prev)
	if change <= 0.5 {
		return nil
	}
	return &Detection{
		Type:          "rate_of_change",
		Severity:      SeverityHigh,
		Score:         clamp(change*100, 0, 100),
		Confidence:    clamp(change, 0.5, 0.95),
		ExpectedValue: prev,
		RecommendedActions: []string{
			"Verify upstream data source",
			"Inspect the raw transaction or round data",
		},
	}
}

// combine folds the individual test results into one detection:
// highest severity wins, scores average, confidence is the weakest
// link, and actions are a deduplicated union clipped to three.
func combine(parts []Detection) *Detection {
	out := &Detection{
		Severity:   parts[0].Severity,
		Type:       parts[0].Type,
		Confidence: parts[0].Confidence,
	}
	var scoreSum float64
	seen := make(map[string]bool)
	actions := make([]string, 0, 3)
	for _, p := range parts {
		scoreSum += p.Score
		if p.Severity.rank() > out.Severity.rank() {
			out.Severity = p.Severity
			out.Type = p.Type
			out.ExpectedValue = p.ExpectedValue
		}
		if p.Confidence < out.Confidence {
			out.Confidence = p.Confidence
		}
		for _, a := range p.RecommendedActions {
			if seen[a] || len(actions) >= 3 {
				continue
			}
			seen[a] = true
			actions = append(actions, a)
		}
	}
	if out.ExpectedValue == 0 {
		out.ExpectedValue = parts[0].ExpectedValue
	}
	out.Score = scoreSum / float64(len(parts))
	if out.Severity == SeverityHigh || out.Severity == SeverityCritical {
		actions = append([]string{"URGENT: Immediate investigation required"}, actions...)
	}
	out.RecommendedActions = actions
	return out
}

func trendLabel(p *Profile) (string, float64) {
	strength := 0.0
	if p.Mean != 0 {
		strength = math.Abs(p.TrendCoefficient) / math.Abs(p.Mean)
	}
	if p.VolatilityIndex > 0.1 {
		return "volatile", strength
	}
	if strength < 0.001 {
		return "stable", strength
	}
	if p.TrendCoefficient > 0 {
		return "increasing", strength
	}
	return "decreasing", strength
}

func riskLabel(p *Profile, trend string) string {
	switch {
	case trend == "volatile", p.VolatilityIndex > 0.2:
		return "high"
	case p.VolatilityIndex > 0.05, trend != "stable":
		return "medium"
	default:
		return "low"
	}
}

// MetricName builds the conventional per-feed metric key.
func MetricName(protocol, chain, symbol string) string {
	return fmt.Sprintf("%s:%s:%s", protocol, chain, symbol)
}
