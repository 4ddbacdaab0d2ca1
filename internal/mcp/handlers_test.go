package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/cloakgov/cloakgov/internal/queue"
	"github.com/cloakgov/cloakgov/internal/registry"
)

func TestGetArgsNilArguments(t *testing.T) {
	req := mcp.CallToolRequest{}
	args := getArgs(req)
	if len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestGetArgsValidMap(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{"knob": "cpu_threads"},
		},
	}
	args := getArgs(req)
	if v, ok := args["knob"]; !ok || v != "cpu_threads" {
		t.Fatalf("expected knob=cpu_threads, got %v", args)
	}
}

func TestStringArgDefault(t *testing.T) {
	args := map[string]interface{}{}
	if got := stringArg(args, "knob", "fallback"); got != "fallback" {
		t.Errorf("stringArg = %q, want fallback", got)
	}
}

func TestHandleExplainKnobKnown(t *testing.T) {
	s := &Server{reg: registry.New(nil, nil, nil, nil, nil, ""), q: queue.New(10)}
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: map[string]interface{}{"knob": "cpu_threads"}},
	}
	res, err := s.handleExplainKnob(context.Background(), req)
	if err != nil {
		t.Fatalf("handleExplainKnob error: %v", err)
	}
	if res.IsError {
		t.Fatalf("handleExplainKnob returned error result: %+v", res.Content)
	}
	text := textOf(t, res)
	if !strings.Contains(text, "sched_setaffinity") {
		t.Errorf("explanation = %q, missing expected detail", text)
	}
}

func TestHandleExplainKnobUnknown(t *testing.T) {
	s := &Server{reg: registry.New(nil, nil, nil, nil, nil, ""), q: queue.New(10)}
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: map[string]interface{}{"knob": "not_a_knob"}},
	}
	res, err := s.handleExplainKnob(context.Background(), req)
	if err != nil {
		t.Fatalf("handleExplainKnob error: %v", err)
	}
	if !res.IsError {
		t.Fatal("handleExplainKnob on unknown knob did not return an error result")
	}
}

func TestHandleGetStatus(t *testing.T) {
	s := &Server{reg: registry.New(nil, nil, nil, nil, nil, ""), q: queue.New(10)}
	res, err := s.handleGetStatus(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handleGetStatus error: %v", err)
	}
	text := textOf(t, res)
	if !strings.Contains(text, "supervised_processes") {
		t.Errorf("status report = %q, missing supervised_processes field", text)
	}
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content[0] is not TextContent: %T", res.Content[0])
	}
	return tc.Text
}
