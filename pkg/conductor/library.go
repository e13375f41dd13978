package conductor

import (
	"fmt"

	"github.com/loopsymphony/symphony/pkg/instruments"
	"github.com/loopsymphony/symphony/pkg/tools"
)

// Library is the conductor's instrument table. It satisfies compose.Library.
type Library struct {
	byName map[string]instruments.Instrument
	order  []string
}

// NewLibrary builds the instrument set the registry's tools can support.
// Instruments whose distinguishing capability has no provider are left out
// and the conductor routes around them; a construction failure for an
// instrument that should be buildable is fatal.
func NewLibrary(reg *tools.Registry, researchIterations int, eval *instruments.Evaluator) (*Library, error) {
	lib := &Library{byName: make(map[string]instruments.Instrument)}

	note, err := instruments.NewNote(reg)
	if err != nil {
		return nil, fmt.Errorf("note instrument: %w", err)
	}
	lib.add(note)

	if reg.GetByCapability(tools.CapWebSearch) != nil {
		research, err := instruments.NewResearch(reg, researchIterations, eval)
		if err != nil {
			return nil, fmt.Errorf("research instrument: %w", err)
		}
		lib.add(research)
	}
	if reg.GetByCapability(tools.CapSynthesis) != nil {
		synthesis, err := instruments.NewSynthesis(reg)
		if err != nil {
			return nil, fmt.Errorf("synthesis instrument: %w", err)
		}
		lib.add(synthesis)
	}
	if reg.GetByCapability(tools.CapVision) != nil {
		vision, err := instruments.NewVision(reg)
		if err != nil {
			return nil, fmt.Errorf("vision instrument: %w", err)
		}
		lib.add(vision)
	}
	lib.add(instruments.NewFalcon())
	return lib, nil
}

func (l *Library) add(inst instruments.Instrument) {
	if _, exists := l.byName[inst.Name()]; exists {
		return
	}
	l.byName[inst.Name()] = inst
	l.order = append(l.order, inst.Name())
}

// Instrument resolves a name.
func (l *Library) Instrument(name string) (instruments.Instrument, bool) {
	inst, ok := l.byName[name]
	return inst, ok
}

// Names returns the available instrument names in registration order.
func (l *Library) Names() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}
