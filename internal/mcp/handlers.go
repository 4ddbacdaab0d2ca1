package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cloakgov/cloakgov/internal/model"
)

type statusReport struct {
	SupervisedProcesses int `json:"supervised_processes"`
	CloakedProcesses    int `json:"cloaked_processes"`
	QueueDepth          int `json:"queue_depth"`
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report := statusReport{
		SupervisedProcesses: s.reg.Len(),
		CloakedProcesses:    s.reg.CloakedCount(),
		QueueDepth:          s.q.Len(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

func (s *Server) handleListProcesses(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	procs := s.reg.Snapshot()
	data, err := json.MarshalIndent(procs, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

// knobDocs is a static explanation per knob name, the governor's
// analogue of the teacher's anomaly-explanation lookup.
var knobDocs = map[string]string{
	model.KnobCPUThreads:     "Number of CPUs in the process's sched_setaffinity mask; applied by internal/adapter.CPU.SetAffinity.",
	model.KnobCPUFreq:        "Target CPU frequency in MHz, written as kHz to every cpufreq scaling_setspeed node; applied by internal/adapter.CPU.SetFrequency.",
	model.KnobNice:           "Scheduling niceness (-20..19); applied by internal/adapter.CPU.SetNice via setpriority(2).",
	model.KnobRAMAllocMB:     "cgroup v2 memory.max in megabytes for the process's cgroup; applied by internal/adapter.Cgroup.SetMemoryLimitMB.",
	model.KnobGPUPowerLimitW: "NVML power management limit in watts for GPU device 0; applied by internal/adapter.GPU.SetPowerLimitW.",
	model.KnobGPUUtilTarget:  "Three-slot GPU utilization target vector from the optimizer's model, averaged and enforced as an SM clock lock on GPU device 0; applied by internal/adapter.GPU.SetUtilizationTarget. Dropped for processes that never matched a GPU-workload substring.",
	model.KnobIOPriorityCls:  "ioprio_set(2) class (0=none, 1=realtime, 2=best-effort, 3=idle); applied by internal/adapter.IONice.SetClass.",
	model.KnobNetBandwidthMb: "Egress rate limit in Mbps enforced by a tbf qdisc; applied by internal/adapter.Network.AddTokenBucket.",
	model.KnobDropCaches:     "Boolean trigger that writes '3' to /proc/sys/vm/drop_caches; applied by internal/adapter.Cache.DropCaches.",
	model.KnobDiskIOLimitMb:  "Disk throughput cap in MB/s tracked alongside the process's ionice class.",
}

func (s *Server) handleExplainKnob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	knob := stringArg(args, "knob", "")
	if knob == "" {
		return errResult("knob argument is required"), nil
	}
	doc, ok := knobDocs[knob]
	if !ok {
		return errResult(fmt.Sprintf("unknown knob: %s", knob)), nil
	}
	return newTextResult(doc), nil
}

func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}
