package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "tradesim"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

func (p promCounter) Add(v float64) {
	p.counter.Add(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry           *prometheus.Registry
	datasetsLoaded     prometheus.Counter
	datasetLoadFailed  prometheus.Counter
	candlesLoaded      prometheus.Counter
	indicatorsComputed prometheus.Counter
	indicatorsFailed   prometheus.Counter
	tradesFilled       prometheus.Counter
	tradesRejected     prometheus.Counter
	batchesStreamed    prometheus.Counter
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:           registry,
		datasetsLoaded:     newCounter("datasets_loaded_total", "Total number of successful candle loads."),
		datasetLoadFailed:  newCounter("dataset_load_failed_total", "Total number of rejected candle loads."),
		candlesLoaded:      newCounter("candles_loaded_total", "Total number of candles accepted into the store."),
		indicatorsComputed: newCounter("indicators_computed_total", "Total number of indicator computations."),
		indicatorsFailed:   newCounter("indicators_failed_total", "Total number of failed indicator requests."),
		tradesFilled:       newCounter("trades_filled_total", "Total number of simulated trades filled."),
		tradesRejected:     newCounter("trades_rejected_total", "Total number of simulated trades rejected."),
		batchesStreamed:    newCounter("batches_streamed_total", "Total number of candle batches delivered."),
	}
	registry.MustRegister(
		p.datasetsLoaded,
		p.datasetLoadFailed,
		p.candlesLoaded,
		p.indicatorsComputed,
		p.indicatorsFailed,
		p.tradesFilled,
		p.tradesRejected,
		p.batchesStreamed,
	)
	p.Metrics = &Metrics{
		DatasetsLoaded:     promCounter{p.datasetsLoaded},
		DatasetLoadFailed:  promCounter{p.datasetLoadFailed},
		CandlesLoaded:      promCounter{p.candlesLoaded},
		IndicatorsComputed: promCounter{p.indicatorsComputed},
		IndicatorsFailed:   promCounter{p.indicatorsFailed},
		TradesFilled:       promCounter{p.tradesFilled},
		TradesRejected:     promCounter{p.tradesRejected},
		BatchesStreamed:    promCounter{p.batchesStreamed},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
