package market

import "sync"

// AnomalyType classifies a detected data-quality issue.
type AnomalyType uint8

const (
	AnomalyNone AnomalyType = iota
	AnomalyPriceSpike
	AnomalyVolumeSpike
	AnomalyVolumeDrop
	AnomalySpreadWidening
	AnomalyStaleData
	AnomalySequenceGap
	AnomalyTimestampAnomaly
)

func (t AnomalyType) String() string {
	switch t {
	case AnomalyPriceSpike:
		return "price_spike"
	case AnomalyVolumeSpike:
		return "volume_spike"
	case AnomalyVolumeDrop:
		return "volume_drop"
	case AnomalySpreadWidening:
		return "spread_widening"
	case AnomalyStaleData:
		return "stale_data"
	case AnomalySequenceGap:
		return "sequence_gap"
	case AnomalyTimestampAnomaly:
		return "timestamp_anomaly"
	default:
		return "none"
	}
}

// Anomaly is one detected quality issue.
type Anomaly struct {
	Type        AnomalyType
	Severity    float64
	Expected    float64
	Actual      float64
	TimestampNS int64
	Description string
}

// QualityScore is a weighted breakdown of recent data quality.
type QualityScore struct {
	Overall       float64
	Freshness     float64
	Completeness  float64
	Consistency   float64
	Reliability   float64
	AnomalyCount  int64
	SampleCount   int64
}

// QualityConfig tunes every detector's thresholds.
type QualityConfig struct {
	PriceSpikeThreshold   float64
	PriceLookbackCount    int
	VolumeSpikeMultiplier float64
	VolumeDropThreshold   float64
	VolumeLookbackCount   int
	MaxSpreadBps          float64
	StaleThresholdMS      int64
	MaxClockSkewMS        int64
	FreshnessWeight       float64
	CompletenessWeight    float64
	ConsistencyWeight     float64
	ReliabilityWeight     float64
}

// DefaultQualityConfig matches the original implementation's defaults.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		PriceSpikeThreshold:   0.05,
		PriceLookbackCount:    100,
		VolumeSpikeMultiplier: 5.0,
		VolumeDropThreshold:   0.1,
		VolumeLookbackCount:   100,
		MaxSpreadBps:          100.0,
		StaleThresholdMS:      5000,
		MaxClockSkewMS:        1000,
		FreshnessWeight:       0.3,
		CompletenessWeight:    0.25,
		ConsistencyWeight:     0.25,
		ReliabilityWeight:     0.2,
	}
}

const maxAnomalyHistory = 1000

// AnomalyCallback is invoked synchronously whenever a new anomaly is
// recorded.
type AnomalyCallback func(Anomaly)

// QualityAnalyzer scores live market data and flags anomalies: price
// spikes, volume spikes/drops, spread widening, staleness, and
// timestamp skew.
type QualityAnalyzer struct {
	mu     sync.Mutex
	cfg    QualityConfig
	cb     AnomalyCallback

	recentPrices []float64
	priceSum     float64
	recentVols   []float64
	volSum       float64

	lastEventTimeNS  int64
	firstEventTimeNS int64

	anomalyHistory []Anomaly
	totalEvents    int64
	totalAnomalies int64
	staleCount     int64
	gapCount       int64
}

// NewQualityAnalyzer creates an analyzer with cfg.
func NewQualityAnalyzer(cfg QualityConfig) *QualityAnalyzer {
	return &QualityAnalyzer{cfg: cfg}
}

func (a *QualityAnalyzer) SetAnomalyCallback(cb AnomalyCallback) {
	a.mu.Lock()
	a.cb = cb
	a.mu.Unlock()
}

func (a *QualityAnalyzer) ClearAnomalyCallback() {
	a.mu.Lock()
	a.cb = nil
	a.mu.Unlock()
}

// AnalyzeTrade checks a trade for price and volume anomalies and, when
// the trade carries its own timestamp (TimeNS != 0), for clock skew
// between that timestamp and timestampNS.
func (a *QualityAnalyzer) AnalyzeTrade(t TradeData, timestampNS int64) []Anomaly {
	a.mu.Lock()
	defer a.mu.Unlock()

	var found []Anomaly
	price, _ := t.Price.Float64()
	qty, _ := t.Qty.Float64()

	if an, ok := a.checkPriceSpikeLocked(price, timestampNS); ok {
		found = append(found, an)
	}
	if an, ok := a.checkVolumeAnomalyLocked(qty, timestampNS); ok {
		found = append(found, an)
	}
	if t.TimeNS != 0 {
		if an, ok := a.checkTimestampLocked(t.TimeNS, timestampNS); ok {
			found = append(found, an)
		}
	}

	a.updateQualityMetricsLocked(len(found) > 0, timestampNS)
	for _, an := range found {
		a.recordAnomalyLocked(an)
	}
	return found
}

// AnalyzeBook checks a book update for spread anomalies. It receives no
// event timestamp, so it does not check clock skew.
func (a *QualityAnalyzer) AnalyzeBook(bestBid, bestAsk float64, timestampNS int64) []Anomaly {
	a.mu.Lock()
	defer a.mu.Unlock()

	var found []Anomaly
	if an, ok := a.checkSpreadLocked(bestBid, bestAsk, timestampNS); ok {
		found = append(found, an)
	}
	a.updateQualityMetricsLocked(len(found) > 0, timestampNS)
	for _, an := range found {
		a.recordAnomalyLocked(an)
	}
	return found
}

// AnalyzeEvent routes a normalized MarketEvent to the matching checks.
func (a *QualityAnalyzer) AnalyzeEvent(e MarketEvent) []Anomaly {
	switch {
	case e.Type == EventTrade && e.Trade != nil:
		return a.AnalyzeTrade(*e.Trade, e.RecvTimeNS)
	case e.Type == EventBookTicker && e.Book != nil && len(e.Book.Bids) > 0 && len(e.Book.Asks) > 0:
		bid, _ := e.Book.Bids[0].Price.Float64()
		ask, _ := e.Book.Asks[0].Price.Float64()
		return a.AnalyzeBook(bid, ask, e.RecvTimeNS)
	default:
		return nil
	}
}

// CheckStaleness flags the feed as stale if no event has arrived within
// StaleThresholdMS of currentTimeNS.
func (a *QualityAnalyzer) CheckStaleness(currentTimeNS int64) (Anomaly, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.totalEvents == 0 {
		return Anomaly{}, false
	}
	ageMS := (currentTimeNS - a.lastEventTimeNS) / 1_000_000
	if ageMS < a.cfg.StaleThresholdMS {
		return Anomaly{}, false
	}
	a.staleCount++
	an := Anomaly{
		Type:        AnomalyStaleData,
		Severity:    1.0,
		Expected:    float64(a.cfg.StaleThresholdMS),
		Actual:      float64(ageMS),
		TimestampNS: currentTimeNS,
		Description: "no data received within staleness threshold",
	}
	a.recordAnomalyLocked(an)
	return an, true
}

func (a *QualityAnalyzer) checkPriceSpikeLocked(price float64, ts int64) (Anomaly, bool) {
	defer a.pushPriceLocked(price)
	if len(a.recentPrices) < 2 {
		return Anomaly{}, false
	}
	avg := a.priceSum / float64(len(a.recentPrices))
	if avg == 0 {
		return Anomaly{}, false
	}
	change := (price - avg) / avg
	if change < 0 {
		change = -change
	}
	if change <= a.cfg.PriceSpikeThreshold {
		return Anomaly{}, false
	}
	return Anomaly{
		Type: AnomalyPriceSpike, Severity: clamp01(change / a.cfg.PriceSpikeThreshold / 2),
		Expected: avg, Actual: price, TimestampNS: ts,
		Description: "price deviated beyond spike threshold from rolling average",
	}, true
}

func (a *QualityAnalyzer) pushPriceLocked(price float64) {
	a.recentPrices = append(a.recentPrices, price)
	a.priceSum += price
	if len(a.recentPrices) > a.cfg.PriceLookbackCount {
		a.priceSum -= a.recentPrices[0]
		a.recentPrices = a.recentPrices[1:]
	}
}

func (a *QualityAnalyzer) checkVolumeAnomalyLocked(volume float64, ts int64) (Anomaly, bool) {
	defer a.pushVolumeLocked(volume)
	if len(a.recentVols) < 2 {
		return Anomaly{}, false
	}
	avg := a.volSum / float64(len(a.recentVols))
	if avg == 0 {
		return Anomaly{}, false
	}
	switch {
	case volume > avg*a.cfg.VolumeSpikeMultiplier:
		return Anomaly{
			Type: AnomalyVolumeSpike, Severity: clamp01(volume / (avg * a.cfg.VolumeSpikeMultiplier) / 2),
			Expected: avg, Actual: volume, TimestampNS: ts,
			Description: "volume exceeded spike multiplier of rolling average",
		}, true
	case volume < avg*a.cfg.VolumeDropThreshold:
		return Anomaly{
			Type: AnomalyVolumeDrop, Severity: clamp01(1 - volume/(avg*a.cfg.VolumeDropThreshold)),
			Expected: avg, Actual: volume, TimestampNS: ts,
			Description: "volume dropped below drop threshold of rolling average",
		}, true
	default:
		return Anomaly{}, false
	}
}

func (a *QualityAnalyzer) pushVolumeLocked(volume float64) {
	a.recentVols = append(a.recentVols, volume)
	a.volSum += volume
	if len(a.recentVols) > a.cfg.VolumeLookbackCount {
		a.volSum -= a.recentVols[0]
		a.recentVols = a.recentVols[1:]
	}
}

func (a *QualityAnalyzer) checkSpreadLocked(bid, ask float64, ts int64) (Anomaly, bool) {
	if bid <= 0 || ask <= 0 || ask < bid {
		return Anomaly{}, false
	}
	mid := (bid + ask) / 2
	if mid == 0 {
		return Anomaly{}, false
	}
	bps := (ask - bid) / mid * 10000
	if bps <= a.cfg.MaxSpreadBps {
		return Anomaly{}, false
	}
	severity := clamp01((bps - a.cfg.MaxSpreadBps) / a.cfg.MaxSpreadBps)
	return Anomaly{
		Type: AnomalySpreadWidening, Severity: severity,
		Expected: a.cfg.MaxSpreadBps, Actual: bps, TimestampNS: ts,
		Description: "spread exceeded configured maximum in basis points",
	}, true
}

func (a *QualityAnalyzer) checkTimestampLocked(eventTS, currentTS int64) (Anomaly, bool) {
	skewMS := (currentTS - eventTS) / 1_000_000
	if skewMS < 0 {
		skewMS = -skewMS
	}
	if skewMS <= a.cfg.MaxClockSkewMS {
		return Anomaly{}, false
	}
	return Anomaly{
		Type: AnomalyTimestampAnomaly, Severity: clamp01(float64(skewMS) / float64(a.cfg.MaxClockSkewMS) / 2),
		Expected: float64(a.cfg.MaxClockSkewMS), Actual: float64(skewMS), TimestampNS: currentTS,
		Description: "event timestamp skew exceeded configured maximum",
	}, true
}

func (a *QualityAnalyzer) recordAnomalyLocked(an Anomaly) {
	a.totalAnomalies++
	a.anomalyHistory = append(a.anomalyHistory, an)
	if len(a.anomalyHistory) > maxAnomalyHistory {
		a.anomalyHistory = a.anomalyHistory[len(a.anomalyHistory)-maxAnomalyHistory:]
	}
	if a.cb != nil {
		a.cb(an)
	}
}

func (a *QualityAnalyzer) updateQualityMetricsLocked(hasAnomaly bool, ts int64) {
	a.totalEvents++
	if a.firstEventTimeNS == 0 {
		a.firstEventTimeNS = ts
	}
	a.lastEventTimeNS = ts
}

// QualityScoreNow computes a weighted quality score from lifetime
// counters.
func (a *QualityAnalyzer) QualityScoreNow() QualityScore {
	a.mu.Lock()
	defer a.mu.Unlock()

	freshness := 1.0
	completeness := 1.0
	consistency := 1.0
	reliability := 1.0

	if a.totalEvents > 0 {
		anomalyRate := float64(a.totalAnomalies) / float64(a.totalEvents)
		consistency = clamp01(1 - anomalyRate)
		reliability = clamp01(1 - float64(a.staleCount)/float64(a.totalEvents))
		completeness = clamp01(1 - float64(a.gapCount)/float64(a.totalEvents))
	}
	if a.staleCount > 0 {
		freshness = clamp01(1 - float64(a.staleCount)/float64(max64(a.totalEvents, 1)))
	}

	overall := freshness*a.cfg.FreshnessWeight +
		completeness*a.cfg.CompletenessWeight +
		consistency*a.cfg.ConsistencyWeight +
		reliability*a.cfg.ReliabilityWeight

	return QualityScore{
		Overall: clamp01(overall), Freshness: freshness, Completeness: completeness,
		Consistency: consistency, Reliability: reliability,
		AnomalyCount: a.totalAnomalies, SampleCount: a.totalEvents,
	}
}

// RecentAnomalies returns up to count most-recent anomalies, newest
// first. count == 0 returns all retained history.
func (a *QualityAnalyzer) RecentAnomalies(count int) []Anomaly {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := len(a.anomalyHistory)
	if count <= 0 || count > n {
		count = n
	}
	out := make([]Anomaly, count)
	for i := 0; i < count; i++ {
		out[i] = a.anomalyHistory[n-1-i]
	}
	return out
}

// Reset clears all analyzer state.
func (a *QualityAnalyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	*a = QualityAnalyzer{cfg: a.cfg, cb: a.cb}
}

func (a *QualityAnalyzer) TotalEventsAnalyzed() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalEvents
}

func (a *QualityAnalyzer) TotalAnomaliesDetected() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalAnomalies
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// --- Data sampler ---

// SamplingStrategy selects how DataSampler decides whether to keep an
// event.
type SamplingStrategy int

const (
	SampleNone SamplingStrategy = iota
	SampleTimeInterval
	SampleCountInterval
	SampleAdaptive
)

// DataSamplerConfig tunes the active sampling strategy.
type DataSamplerConfig struct {
	Strategy            SamplingStrategy
	TimeIntervalMS       int64
	CountInterval        int
	VolatilityThreshold float64
}

// DefaultDataSamplerConfig matches the original implementation.
func DefaultDataSamplerConfig() DataSamplerConfig {
	return DataSamplerConfig{Strategy: SampleNone, TimeIntervalMS: 100, CountInterval: 10, VolatilityThreshold: 0.01}
}

// DataSampler reduces a high-frequency event stream to a manageable
// rate using one of several strategies.
type DataSampler struct {
	mu              sync.Mutex
	cfg             DataSamplerConfig
	lastSampleTimeNS int64
	eventCount      int
	lastPrice       float64
	totalEvents     int64
	sampledEvents   int64
}

// NewDataSampler creates a sampler with cfg.
func NewDataSampler(cfg DataSamplerConfig) *DataSampler {
	return &DataSampler{cfg: cfg}
}

// ShouldSample reports whether the event at timestampNS (with optional
// price for the Adaptive strategy) should be kept.
func (s *DataSampler) ShouldSample(timestampNS int64, price *float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalEvents++
	s.eventCount++

	keep := false
	switch s.cfg.Strategy {
	case SampleNone:
		keep = true
	case SampleTimeInterval:
		if timestampNS-s.lastSampleTimeNS >= s.cfg.TimeIntervalMS*1_000_000 {
			keep = true
			s.lastSampleTimeNS = timestampNS
		}
	case SampleCountInterval:
		if s.cfg.CountInterval <= 0 || s.eventCount%s.cfg.CountInterval == 1 {
			keep = true
		}
	case SampleAdaptive:
		if price == nil || s.lastPrice == 0 {
			keep = true
		} else {
			change := (*price - s.lastPrice) / s.lastPrice
			if change < 0 {
				change = -change
			}
			keep = change >= s.cfg.VolatilityThreshold
		}
		if price != nil {
			s.lastPrice = *price
		}
	}

	if keep {
		s.sampledEvents++
	}
	return keep
}

// Reset clears sampler state and counters.
func (s *DataSampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSampleTimeNS = 0
	s.eventCount = 0
	s.lastPrice = 0
	s.totalEvents = 0
	s.sampledEvents = 0
}

func (s *DataSampler) TotalEvents() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalEvents
}

func (s *DataSampler) SampledEvents() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sampledEvents
}

func (s *DataSampler) SampleRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.totalEvents == 0 {
		return 1.0
	}
	return float64(s.sampledEvents) / float64(s.totalEvents)
}
