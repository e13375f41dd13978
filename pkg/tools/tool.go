// Package tools provides the capability-typed tool substrate: a registry
// that resolves instrument capability requirements to concrete tools, and
// the built-in reasoning and web-search tools.
package tools

import (
	"context"
	"fmt"
)

// Well-known capability names. Rooms and tools may advertise others.
const (
	CapReasoning      = "reasoning"
	CapWebSearch      = "web_search"
	CapSynthesis      = "synthesis"
	CapAnalysis       = "analysis"
	CapVision         = "vision"
	CapShellExecution = "shell_execution"
)

// Manifest is the immutable self-description of a tool.
type Manifest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	ConfigKeys   []string `json:"config_keys,omitempty"`
}

// Call is a single capability invocation. Which fields matter depends on
// the capability: reasoning/synthesis/analysis use System+Prompt, web_search
// uses Query+MaxResults, vision adds Images.
type Call struct {
	Capability string
	System     string
	Prompt     string
	Query      string
	Images     []string
	MaxResults int
}

// SearchResult is one hit returned by a web_search invocation.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Result is the uniform tool output. Text carries model completions;
// Results carries search hits.
type Result struct {
	Text    string
	Results []SearchResult
}

// Tool is a capability provider. Implementations must be safe for
// concurrent use.
type Tool interface {
	Name() string
	Capabilities() []string
	Manifest() Manifest
	HealthCheck(ctx context.Context) error
	Invoke(ctx context.Context, call Call) (*Result, error)
}

// CapabilityError reports required capabilities the registry cannot provide.
type CapabilityError struct {
	Missing []string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("no tool provides required capabilities: %v", e.Missing)
}
