package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AllocTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdtpool",
		Name:      "alloc_total",
		Help:      "Total wallet allocation attempts.",
	}, []string{"network", "strategy", "result"}) // result: ok/conflict/empty

	AllocCASRetry = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdtpool",
		Name:      "alloc_cas_retry_total",
		Help:      "CAS retries during allocation (lost races).",
	}, []string{"network"})

	ReleaseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdtpool",
		Name:      "release_total",
		Help:      "Wallet release attempts.",
	}, []string{"network", "result"}) // result: ok/ownership_mismatch/not_found

	ConsolidationTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdtpool",
		Name:      "consolidation_tasks_total",
		Help:      "Consolidation task outcomes.",
	}, []string{"network", "result"}) // result: completed/failed/skipped

	ConsolidationAmount = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "usdtpool",
		Name:      "consolidation_amount_total",
		Help:      "Total consolidated amount (USDT).",
	}, []string{"network"})

	PoolWallets = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "usdtpool",
		Name:      "pool_wallets",
		Help:      "Wallet count by network and status.",
	}, []string{"network", "status"})

	TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "usdtpool",
		Name:      "transfer_duration_seconds",
		Help:      "On-chain consolidation transfer latency.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms ~ 200s
	}, []string{"network", "status"})
)
