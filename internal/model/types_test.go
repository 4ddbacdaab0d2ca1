package model

import "testing"

func TestOriginalLimitsRecordIfAbsentFirstTouchWins(t *testing.T) {
	o := NewOriginalLimits()
	o.RecordIfAbsent(100, KnobCPUFreq, 3000)
	o.RecordIfAbsent(100, KnobCPUFreq, 2500) // must not overwrite

	v, ok := o.Get(100, KnobCPUFreq)
	if !ok || v != 3000 {
		t.Errorf("Get(100, cpu_freq) = (%v, %v), want (3000, true)", v, ok)
	}
}

func TestOriginalLimitsForgetRemovesAllKnobs(t *testing.T) {
	o := NewOriginalLimits()
	o.RecordIfAbsent(7, KnobCPUFreq, 3000)
	o.RecordIfAbsent(7, KnobNice, 0)

	o.Forget(7)

	if _, ok := o.Get(7, KnobCPUFreq); ok {
		t.Error("Get after Forget still finds cpu_freq")
	}
	if o.Count() != 0 {
		t.Errorf("Count() after Forget = %d, want 0", o.Count())
	}
}

func TestOriginalLimitsUnknownSentinelSkippedByCallers(t *testing.T) {
	o := NewOriginalLimits()
	o.RecordIfAbsent(9, KnobGPUPowerLimitW, UnknownLimit)

	v, ok := o.Get(9, KnobGPUPowerLimitW)
	if !ok || v != UnknownLimit {
		t.Errorf("Get(9, gpu_power_limit_w) = (%v, %v), want (%q, true)", v, ok, UnknownLimit)
	}
}

func TestOriginalLimitsPidsAndCount(t *testing.T) {
	o := NewOriginalLimits()
	o.RecordIfAbsent(1, KnobCPUFreq, 3000)
	o.RecordIfAbsent(2, KnobNice, 0)

	if o.Count() != 2 {
		t.Errorf("Count() = %d, want 2", o.Count())
	}
	pids := o.Pids()
	if len(pids) != 2 {
		t.Errorf("Pids() = %v, want length 2", pids)
	}
}

func TestTaskKindString(t *testing.T) {
	cases := map[TaskKind]string{
		TaskFunctionCall:  "function_call",
		TaskMonitoring:    "monitoring",
		TaskOptimization:  "optimization",
		TaskCloaking:      "cloaking",
		TaskRestore:       "restore",
		TaskKind(99):      "unknown",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("TaskKind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestDetectAnomaliesTriggersAtWarningAndCritical(t *testing.T) {
	thresholds := []Threshold{
		{
			Metric: "cpu_temp_c", Warning: 70, Critical: 85,
			Evaluator: func(env NodeEnvelope) (float64, bool) { return env.CPUTempC, true },
			Message:   func(v float64) string { return "hot" },
		},
	}

	cases := []struct {
		temp     float64
		wantLen  int
		wantSev  Severity
	}{
		{50, 0, SeverityWarning},
		{72, 1, SeverityWarning},
		{90, 1, SeverityCritical},
	}
	for _, tc := range cases {
		anomalies := DetectAnomalies(NodeEnvelope{CPUTempC: tc.temp}, thresholds)
		if len(anomalies) != tc.wantLen {
			t.Errorf("temp=%.0f: len(anomalies) = %d, want %d", tc.temp, len(anomalies), tc.wantLen)
			continue
		}
		if tc.wantLen == 1 && anomalies[0].Severity != tc.wantSev {
			t.Errorf("temp=%.0f: severity = %v, want %v", tc.temp, anomalies[0].Severity, tc.wantSev)
		}
	}
}
