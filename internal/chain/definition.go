package chain

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfig is the root of a chain definitions file. The top-level key is
// "chains"; each entry maps a task kind to its stages.
//
//	chains:
//	  report:
//	    start: CREATED
//	    stages:
//	      - intermediate: RUNNING
//	        completed: DATA_LOADED
//	        processor: data
//	      - [REPORTS, FINISHED, report]
type FileConfig struct {
	Chains map[string]ChainConfig `yaml:"chains"`
}

// ChainConfig describes one chain in YAML.
type ChainConfig struct {
	Start  string        `yaml:"start"`
	Stages []StageConfig `yaml:"stages"`
}

// StageConfig is a single stage entry: either a mapping or a three element
// sequence of intermediate, completed and processor.
type StageConfig struct {
	Intermediate string `yaml:"intermediate"`
	Completed    string `yaml:"completed"`
	Processor    string `yaml:"processor"`
}

// UnmarshalYAML accepts the mapping and the compact sequence form.
func (s *StageConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var parts []string
		if err := value.Decode(&parts); err != nil {
			return err
		}
		if len(parts) != 3 {
			return fmt.Errorf("line %d: stage sequence needs [intermediate, completed, processor], got %d values", value.Line, len(parts))
		}
		s.Intermediate, s.Completed, s.Processor = parts[0], parts[1], parts[2]
		return nil
	}
	type raw StageConfig
	return value.Decode((*raw)(s))
}

// Build turns the YAML description into a Chain.
func (c ChainConfig) Build() (*Chain, error) {
	b := NewBuilder(c.Start)
	for _, s := range c.Stages {
		b.Add(s.Intermediate, s.Completed, s.Processor)
	}
	return b.Build()
}

// Definitions maps task kinds to their chains.
type Definitions map[string]*Chain

// Lookup returns the chain registered for kind.
func (d Definitions) Lookup(kind string) (*Chain, bool) {
	c, ok := d[strings.TrimSpace(kind)]
	return c, ok && c != nil
}

// Kinds returns the registered kinds in sorted order.
func (d Definitions) Kinds() []string {
	kinds := make([]string, 0, len(d))
	for kind := range d {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// ParseDefinitions parses a YAML chain definitions document.
func ParseDefinitions(data []byte) (Definitions, error) {
	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse chain definitions: %w", err)
	}
	if len(file.Chains) == 0 {
		return nil, fmt.Errorf("parse chain definitions: %w: no chains defined", ErrInvalidStage)
	}
	defs := make(Definitions, len(file.Chains))
	for kind, cfg := range file.Chains {
		kind = strings.TrimSpace(kind)
		if kind == "" {
			return nil, fmt.Errorf("parse chain definitions: %w: empty task kind", ErrInvalidStage)
		}
		c, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("chain %q: %w", kind, err)
		}
		defs[kind] = c
	}
	return defs, nil
}

// LoadDefinitions reads and parses a YAML chain definitions file.
func LoadDefinitions(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain definitions: %w", err)
	}
	return ParseDefinitions(data)
}
