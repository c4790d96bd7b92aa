package metrics

type Counter interface {
	Inc()
	Add(float64)
}

type Metrics struct {
	DatasetsLoaded     Counter
	DatasetLoadFailed  Counter
	CandlesLoaded      Counter
	IndicatorsComputed Counter
	IndicatorsFailed   Counter
	TradesFilled       Counter
	TradesRejected     Counter
	BatchesStreamed    Counter
}

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		DatasetsLoaded:     n,
		DatasetLoadFailed:  n,
		CandlesLoaded:      n,
		IndicatorsComputed: n,
		IndicatorsFailed:   n,
		TradesFilled:       n,
		TradesRejected:     n,
		BatchesStreamed:    n,
	}
}
