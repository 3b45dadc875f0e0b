// Package metrics содержит Prometheus-метрики движка ёмкости.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry собственный реестр приложения
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// AdmissionDecisions решения валидатора по результату
var AdmissionDecisions = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "capacity",
	Name:      "admission_decisions_total",
	Help:      "Admission checks by outcome (accepted, insufficient_capacity, channel_unavailable)",
}, []string{"outcome"})

// AllocationPasses количество проходов аллокатора до неподвижной точки
var AllocationPasses = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "allocator",
	Name:      "passes",
	Help:      "Number of passes the slot allocator needed to converge",
	Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
})

// AllocationDemanded суммарный спрос, поступивший в аллокатор
var AllocationDemanded = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "allocator",
	Name:      "demanded_quantity_total",
	Help:      "Total quantity submitted to the slot allocator",
})

// AllocationPlaced суммарное размещённое количество
var AllocationPlaced = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "allocator",
	Name:      "placed_quantity_total",
	Help:      "Total quantity returned by the slot allocator",
})

// AllocationDropped отброшенное количество по причине
var AllocationDropped = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "allocator",
	Name:      "dropped_quantity_total",
	Help:      "Quantity dropped by the slot allocator, by reason",
}, []string{"reason"})

// AllocationDurationSeconds время одного вызова аллокатора
var AllocationDurationSeconds = factory.NewHistogram(prometheus.HistogramOpts{
	Namespace: "allocator",
	Name:      "duration_seconds",
	Help:      "Time taken by one slot allocation call",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
})

// LedgerWrites записи в леджер по операции
var LedgerWrites = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Name:      "writes_total",
	Help:      "Ledger mutations by operation (create, update, delete, release)",
}, []string{"operation"})
