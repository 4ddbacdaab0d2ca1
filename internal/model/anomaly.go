package model

import "fmt"

// Threshold defines a single node-wide limit the monitor loop checks
// every tick, the same (metric, warning, critical, evaluator, message)
// shape the teacher used for its USE-method anomaly rules, retargeted
// from a performance Report onto a NodeEnvelope sample.
type Threshold struct {
	Metric    string
	Category  string
	Warning   float64
	Critical  float64
	Evaluator func(env NodeEnvelope) (float64, bool)
	Message   func(value float64) string
}

// DefaultThresholds returns the built-in node thresholds. The monitor
// loop uses them as-is; the ceilings in config.Thresholds do not change
// their Warning or Critical values.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{
			Metric: "cpu_temp_c", Category: "cpu",
			Warning: 75, Critical: 85,
			Evaluator: func(env NodeEnvelope) (float64, bool) { return env.CPUTempC, env.CPUTempC > 0 },
			Message:   func(v float64) string { return fmt.Sprintf("CPU temperature at %.1f°C", v) },
		},
		{
			Metric: "gpu_temp_c", Category: "gpu",
			Warning: 73, Critical: 83,
			Evaluator: func(env NodeEnvelope) (float64, bool) { return env.GPUTempC, env.GPUTempC > 0 },
			Message:   func(v float64) string { return fmt.Sprintf("GPU temperature at %.1f°C", v) },
		},
		{
			Metric: "cpu_power_w", Category: "cpu",
			Warning: 160, Critical: 200,
			Evaluator: func(env NodeEnvelope) (float64, bool) { return env.CPUPowerW, env.CPUPowerW > 0 },
			Message:   func(v float64) string { return fmt.Sprintf("CPU power draw at %.1fW", v) },
		},
		{
			Metric: "gpu_power_w", Category: "gpu",
			Warning: 200, Critical: 250,
			Evaluator: func(env NodeEnvelope) (float64, bool) { return env.GPUPowerW, env.GPUPowerW > 0 },
			Message:   func(v float64) string { return fmt.Sprintf("GPU power draw at %.1fW", v) },
		},
	}
}

// Severity classifies how far a triggered threshold has been breached.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityCritical
)

func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "warning"
}

// Anomaly is a single triggered threshold for the current NodeEnvelope
// sample, the governor's analogue of the teacher's report-wide anomaly
// list -- scoped to node thermal/power state instead of a USE-method
// resource report, and consumed by the monitor to decide which cloak
// strategy to enqueue rather than rendered into a human-facing report.
type Anomaly struct {
	Metric   string
	Category string
	Severity Severity
	Value    float64
	Message  string
}

// DetectAnomalies evaluates every threshold against env, returning one
// Anomaly per breach (critical thresholds still emit only one entry,
// at SeverityCritical, not one of each severity).
func DetectAnomalies(env NodeEnvelope, thresholds []Threshold) []Anomaly {
	var out []Anomaly
	for _, th := range thresholds {
		value, ok := th.Evaluator(env)
		if !ok {
			continue
		}
		switch {
		case value >= th.Critical:
			out = append(out, Anomaly{Metric: th.Metric, Category: th.Category, Severity: SeverityCritical, Value: value, Message: th.Message(value)})
		case value >= th.Warning:
			out = append(out, Anomaly{Metric: th.Metric, Category: th.Category, Severity: SeverityWarning, Value: value, Message: th.Message(value)})
		}
	}
	return out
}
