package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NodeLoad tracks the current load weight carried by each service node
	NodeLoad = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "placement_node_load",
			Help: "Current load weight assigned to each service node",
		},
		[]string{"node"},
	)

	// NodeCapacity tracks the load-weight capacity of each service node
	NodeCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "placement_node_capacity",
			Help: "Load weight capacity of each service node",
		},
		[]string{"node"},
	)

	// AssignmentsTotal tracks the total number of tenant assignments per node
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placement_assignments_total",
			Help: "Total number of tenant assignments made per node",
		},
		[]string{"node"},
	)

	// MigrationsTotal tracks completed tenant migrations between nodes
	MigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placement_migrations_total",
			Help: "Total number of completed tenant migrations between nodes",
		},
		[]string{"from_node", "to_node"},
	)

	// EventPublishFailuresTotal tracks migration events that could not be published
	EventPublishFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "placement_event_publish_failures_total",
			Help: "Total number of migration events that failed to publish",
		},
	)

	// FleetUtilization tracks total load / total capacity over healthy nodes
	FleetUtilization = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "placement_fleet_utilization",
			Help: "Aggregate fleet utilization (total load / total capacity) over healthy nodes",
		},
	)

	// ScaleOperationsTotal tracks scale up/down attempts by direction and status
	ScaleOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placement_scale_operations_total",
			Help: "Total number of autoscaler operations by direction and status",
		},
		[]string{"direction", "status"},
	)

	// RebalanceMovesTotal tracks tenants moved by rebalance passes
	RebalanceMovesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "placement_rebalance_moves_total",
			Help: "Total number of tenants moved by rebalance passes",
		},
	)

	// RebalanceDuration tracks the duration of rebalance passes in seconds
	RebalanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "placement_rebalance_duration_seconds",
			Help:    "Duration of rebalance passes in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
	)
)

// SetNodeLoad sets the load and capacity gauges for a node
func SetNodeLoad(node string, load, capacity float64) {
	NodeLoad.WithLabelValues(node).Set(load)
	NodeCapacity.WithLabelValues(node).Set(capacity)
}

// RemoveNode removes a node's gauges after it is deregistered
func RemoveNode(node string) {
	NodeLoad.DeleteLabelValues(node)
	NodeCapacity.DeleteLabelValues(node)
}

// RecordAssignment increments the assignment counter for a node
func RecordAssignment(node string) {
	AssignmentsTotal.WithLabelValues(node).Inc()
}

// RecordMigration increments the migration counter for a node pair
func RecordMigration(fromNode, toNode string) {
	if fromNode != "" && toNode != "" && fromNode != toNode {
		MigrationsTotal.WithLabelValues(fromNode, toNode).Inc()
	}
}

// RecordEventPublishFailure increments the publish failure counter
func RecordEventPublishFailure() {
	EventPublishFailuresTotal.Inc()
}

// SetFleetUtilization sets the fleet utilization gauge
func SetFleetUtilization(utilization float64) {
	FleetUtilization.Set(utilization)
}

// RecordScaleOperation increments the scale operation counter
func RecordScaleOperation(direction, status string) {
	ScaleOperationsTotal.WithLabelValues(direction, status).Inc()
}

// RecordRebalanceMoves adds moved tenants to the rebalance counter
func RecordRebalanceMoves(count int) {
	if count > 0 {
		RebalanceMovesTotal.Add(float64(count))
	}
}

// ObserveRebalanceDuration records the duration of a rebalance pass in seconds
func ObserveRebalanceDuration(seconds float64) {
	RebalanceDuration.Observe(seconds)
}
