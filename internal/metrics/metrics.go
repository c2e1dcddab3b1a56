package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 出酒机监控指标

var (
	// PoursTotal 按最终结果分类的出酒任务计数
	PoursTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vhs",
		Name:      "pours_total",
		Help:      "出酒任务总数，按最终结果分类",
	}, []string{"status"})

	// SafetyAbortsTotal 安全中断计数（出酒中杯子被移走）
	SafetyAbortsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vhs",
		Name:      "safety_aborts_total",
		Help:      "出酒过程中杯子被移走导致的安全中断次数",
	})

	// UnknownTagsTotal 未注册标签计数
	UnknownTagsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vhs",
		Name:      "unknown_tags_total",
		Help:      "读到未注册标签的次数",
	})

	// DispenseStepSeconds 单个出酒步骤耗时
	DispenseStepSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vhs",
		Name:      "dispense_step_seconds",
		Help:      "单个出酒步骤的耗时分布",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	// MachineState 当前机器状态（每个状态一个0/1指标）
	MachineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vhs",
		Name:      "machine_state",
		Help:      "当前机器状态，处于该状态时为1",
	}, []string{"state"})

	// HardwareErrorsTotal 硬件故障计数
	HardwareErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vhs",
		Name:      "hardware_errors_total",
		Help:      "硬件故障次数",
	})
)

// allStates 用于状态切换时清零其余状态
var allStates = []string{
	"idle", "recipe_loaded", "waiting_for_cup",
	"pouring", "pouring_complete", "drink_ready", "error",
}

// SetMachineState 设置当前机器状态指标
func SetMachineState(state string) {
	for _, s := range allStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		MachineState.WithLabelValues(s).Set(value)
	}
}
