package instruments

import (
	"context"
	"errors"
	"sync"

	"github.com/loopsymphony/symphony/pkg/tools"
)

// scriptedTool replays queued results per capability. When the queue for a
// capability runs dry the last entry repeats.
type scriptedTool struct {
	mu      sync.Mutex
	name    string
	caps    []string
	replies map[string][]*tools.Result
	fail    map[string]error
	calls   []tools.Call
}

func newScriptedTool(name string, caps ...string) *scriptedTool {
	return &scriptedTool{
		name:    name,
		caps:    caps,
		replies: make(map[string][]*tools.Result),
		fail:    make(map[string]error),
	}
}

func (s *scriptedTool) reply(cap string, results ...*tools.Result) *scriptedTool {
	s.replies[cap] = append(s.replies[cap], results...)
	return s
}

func (s *scriptedTool) failWith(cap string, err error) *scriptedTool {
	s.fail[cap] = err
	return s
}

func (s *scriptedTool) Name() string           { return s.name }
func (s *scriptedTool) Capabilities() []string { return s.caps }
func (s *scriptedTool) Manifest() tools.Manifest {
	return tools.Manifest{Name: s.name, Capabilities: s.caps}
}
func (s *scriptedTool) HealthCheck(context.Context) error { return nil }

func (s *scriptedTool) Invoke(_ context.Context, call tools.Call) (*tools.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if err, ok := s.fail[call.Capability]; ok {
		return nil, err
	}
	queue := s.replies[call.Capability]
	if len(queue) == 0 {
		return nil, errors.New("no scripted reply for " + call.Capability)
	}
	head := queue[0]
	if len(queue) > 1 {
		s.replies[call.Capability] = queue[1:]
	}
	return head, nil
}

func (s *scriptedTool) callCount(cap string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Capability == cap {
			n++
		}
	}
	return n
}

func text(t string) *tools.Result { return &tools.Result{Text: t} }

func hits(results ...tools.SearchResult) *tools.Result {
	return &tools.Result{Results: results}
}
