package dex

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TxsProcessed   *prometheus.CounterVec
	TxsAdmitted    *prometheus.CounterVec
	Trades         prometheus.Counter
	BlockHeight    prometheus.Gauge
	MempoolSize    *prometheus.GaugeVec
	BlockExecution prometheus.Histogram
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		TxsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenex_txs_processed_total",
				Help: "Transactions executed in committed blocks.",
			},
			[]string{"type", "status"},
		),
		TxsAdmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokenex_txs_admitted_total",
				Help: "Transactions offered to the mempool, by admission result.",
			},
			[]string{"result"},
		),
		Trades: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tokenex_trades_total",
				Help: "Orders filled.",
			},
		),
		BlockHeight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tokenex_block_height",
				Help: "Height of the last committed block.",
			},
		),
		MempoolSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tokenex_mempool_size",
				Help: "Pending transactions by mempool bucket.",
			},
			[]string{"bucket"},
		),
		BlockExecution: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tokenex_block_execution_seconds",
				Help:    "Time spent executing a block.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(m.TxsProcessed, m.TxsAdmitted, m.Trades, m.BlockHeight, m.MempoolSize, m.BlockExecution)
	return m
}

func (m *Metrics) ObserveTx(txType, status string) {
	if m == nil {
		return
	}
	m.TxsProcessed.WithLabelValues(txType, status).Inc()
}

func (m *Metrics) ObserveAdmission(result string) {
	if m == nil {
		return
	}
	m.TxsAdmitted.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTrade() {
	if m == nil {
		return
	}
	m.Trades.Inc()
}

func (m *Metrics) ObserveBlock(height uint64, duration time.Duration) {
	if m == nil {
		return
	}
	m.BlockHeight.Set(float64(height))
	m.BlockExecution.Observe(duration.Seconds())
}

func (m *Metrics) SetMempoolSize(bucket string, n int) {
	if m == nil {
		return
	}
	m.MempoolSize.WithLabelValues(bucket).Set(float64(n))
}
