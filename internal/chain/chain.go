package chain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownStage reports a stage name or Stage that is not part of the chain.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrDuplicateStage reports a stage name used more than once in a chain.
	ErrDuplicateStage = errors.New("duplicate stage")
	// ErrInvalidStage reports an empty stage name or an impossible navigation.
	ErrInvalidStage = errors.New("invalid stage")
)

// Stage is one step of a chain. The start stage has no intermediate name
// and no processor.
type Stage struct {
	intermediate string
	completed    string
	processorID  string
	start        bool
}

// Intermediate returns the "in progress" name. It is empty for the start stage.
func (s Stage) Intermediate() string { return s.intermediate }

// Completed returns the "finished" name.
func (s Stage) Completed() string { return s.completed }

// ProcessorID returns the processor that performs the stage. It is empty for the start stage.
func (s Stage) ProcessorID() string { return s.processorID }

// IsStart reports whether s is the synthetic start stage.
func (s Stage) IsStart() bool { return s.start }

// Equal reports whether two stages share a completed name.
func (s Stage) Equal(other Stage) bool { return s.completed == other.completed }

func (s Stage) String() string { return s.completed }

// Chain is an immutable ordered list of stages.
type Chain struct {
	stages []Stage
	byName map[string]int
}

// Start returns the synthetic start stage.
func (c *Chain) Start() Stage { return c.stages[0] }

// Stages returns a copy of the stages in order, start stage first.
func (c *Chain) Stages() []Stage {
	out := make([]Stage, len(c.stages))
	copy(out, c.stages)
	return out
}

// Len returns the number of stages including the start stage.
func (c *Chain) Len() int { return len(c.stages) }

// ForName resolves a stage by either its intermediate or completed name.
func (c *Chain) ForName(name string) (Stage, error) {
	idx, ok := c.byName[name]
	if !ok {
		return Stage{}, fmt.Errorf("%w %q, valid stages are %s", ErrUnknownStage, name, c)
	}
	return c.stages[idx], nil
}

// Next returns the stage following s.
func (c *Chain) Next(s Stage) (Stage, error) {
	idx, err := c.index(s)
	if err != nil {
		return Stage{}, err
	}
	if idx == len(c.stages)-1 {
		return Stage{}, fmt.Errorf("%w: end stage %q has no next stage", ErrInvalidStage, s)
	}
	return c.stages[idx+1], nil
}

// Previous returns the stage preceding s.
func (c *Chain) Previous(s Stage) (Stage, error) {
	idx, err := c.index(s)
	if err != nil {
		return Stage{}, err
	}
	if idx == 0 {
		return Stage{}, fmt.Errorf("%w: start stage %q has no previous stage", ErrInvalidStage, s)
	}
	return c.stages[idx-1], nil
}

// HasNext reports whether a stage follows s. Unknown stages report false.
func (c *Chain) HasNext(s Stage) bool {
	idx, err := c.index(s)
	if err != nil {
		return false
	}
	return idx < len(c.stages)-1
}

// LastCompletedStage maps a persisted stage name to the last stage known to
// have finished. Completed names are returned unchanged; an intermediate
// name yields the completed name of the stage before it.
func (c *Chain) LastCompletedStage(name string) (string, error) {
	stage, err := c.ForName(name)
	if err != nil {
		return "", err
	}
	if stage.completed == name {
		return name, nil
	}
	prev, err := c.Previous(stage)
	if err != nil {
		return "", err
	}
	return prev.completed, nil
}

// String lists the stages using both name forms.
func (c *Chain) String() string {
	parts := make([]string, 0, len(c.stages))
	for _, s := range c.stages {
		if s.start {
			parts = append(parts, s.completed)
			continue
		}
		parts = append(parts, fmt.Sprintf("(%s, %s)", s.intermediate, s.completed))
	}
	return "[" + strings.Join(parts, " -> ") + "]"
}

// Stage lists are short and hand-authored, a linear scan is enough.
func (c *Chain) index(s Stage) (int, error) {
	for i, candidate := range c.stages {
		if candidate.Equal(s) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w %q, valid stages are %s", ErrUnknownStage, s, c)
}

// Builder assembles a Chain. It is not safe for concurrent use.
type Builder struct {
	stages []Stage
	seen   map[string]struct{}
	err    error
}

// NewBuilder starts a chain with the given start stage name.
func NewBuilder(start string) *Builder {
	b := &Builder{seen: make(map[string]struct{})}
	start = strings.TrimSpace(start)
	if start == "" {
		b.err = fmt.Errorf("%w: start stage name is empty", ErrInvalidStage)
		return b
	}
	b.stages = append(b.stages, Stage{completed: start, start: true})
	b.seen[start] = struct{}{}
	return b
}

// Add appends a stage. The first error is kept and returned by Build.
func (b *Builder) Add(intermediate, completed, processorID string) *Builder {
	if b.err != nil {
		return b
	}
	intermediate = strings.TrimSpace(intermediate)
	completed = strings.TrimSpace(completed)
	processorID = strings.TrimSpace(processorID)
	switch {
	case intermediate == "":
		b.err = fmt.Errorf("%w: intermediate stage name is empty", ErrInvalidStage)
		return b
	case completed == "":
		b.err = fmt.Errorf("%w: completed stage name is empty", ErrInvalidStage)
		return b
	case processorID == "":
		b.err = fmt.Errorf("%w: stage %q has no processor", ErrInvalidStage, completed)
		return b
	}
	for _, name := range []string{intermediate, completed} {
		if _, dup := b.seen[name]; dup {
			b.err = fmt.Errorf("%w: %q", ErrDuplicateStage, name)
			return b
		}
		b.seen[name] = struct{}{}
	}
	b.stages = append(b.stages, Stage{intermediate: intermediate, completed: completed, processorID: processorID})
	return b
}

// Build freezes the builder into a Chain.
func (b *Builder) Build() (*Chain, error) {
	if b.err != nil {
		return nil, b.err
	}
	stages := make([]Stage, len(b.stages))
	copy(stages, b.stages)
	byName := make(map[string]int, len(stages)*2)
	for i, s := range stages {
		if !s.start {
			byName[s.intermediate] = i
		}
		byName[s.completed] = i
	}
	return &Chain{stages: stages, byName: byName}, nil
}

// MustBuild is Build for statically known chains; it panics on error.
func (b *Builder) MustBuild() *Chain {
	c, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("chain: %v", err))
	}
	return c
}
