package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/urbanmesh/urbanflow/internal/application/pipeline"
	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// Duration wraps time.Duration so workflow files can say "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Workflow is the declarative pipeline definition parsed from
// workflow.yaml.
type Workflow struct {
	Name   string     `yaml:"name"`
	Phases []PhaseDef `yaml:"phases"`
	Stores []StoreDef `yaml:"stores"`
}

// PhaseDef describes one phase.
type PhaseDef struct {
	Name        string    `yaml:"name"`
	Agents      []string  `yaml:"agents"`
	DependsOn   []string  `yaml:"depends_on"`
	Parallelism int       `yaml:"parallelism"`
	Timeout     Duration  `yaml:"timeout"`
	FailureMode string    `yaml:"failure_mode"`
	Retry       *RetryDef `yaml:"retry"`
}

// RetryDef describes the backoff applied around each agent of a phase.
type RetryDef struct {
	Strategy    string   `yaml:"strategy"`
	Base        Duration `yaml:"base"`
	Factor      float64  `yaml:"factor"`
	Max         Duration `yaml:"max"`
	MaxAttempts int      `yaml:"max_attempts"`
}

// StoreDef selects a publish target by the name it was registered under
// in the service wiring.
type StoreDef struct {
	Name       string `yaml:"name"`
	BestEffort bool   `yaml:"best_effort"`
}

// LoadWorkflow reads and validates a workflow definition.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return ParseWorkflow(data)
}

// ParseWorkflow parses and validates workflow yaml.
func ParseWorkflow(data []byte) (*Workflow, error) {
	w := &Workflow{}
	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Validate checks structural properties that do not need the agent
// registry. Graph-level properties (cycles, unknown dependencies) are
// checked by the phase graph itself.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return &domain.ValidationError{Field: "name", Reason: "workflow name is required"}
	}
	if len(w.Phases) == 0 {
		return &domain.ValidationError{Field: "phases", Reason: "workflow has no phases"}
	}
	for _, p := range w.Phases {
		if p.Name == "" {
			return &domain.ValidationError{Field: "phases", Reason: "phase name is required"}
		}
		if len(p.Agents) == 0 {
			return &domain.ValidationError{Field: "phases", Reason: fmt.Sprintf("phase %q has no agents", p.Name)}
		}
		switch p.FailureMode {
		case "", string(domain.FailFast), string(domain.Continue), string(domain.Quarantine):
		default:
			return &domain.ValidationError{
				Field:  "failure_mode",
				Reason: fmt.Sprintf("phase %q: unknown failure mode %q", p.Name, p.FailureMode),
			}
		}
		if p.Retry != nil {
			switch p.Retry.Strategy {
			case "", string(pipeline.BackoffLinear), string(pipeline.BackoffExponential), string(pipeline.BackoffFibonacci):
			default:
				return &domain.ValidationError{
					Field:  "retry.strategy",
					Reason: fmt.Sprintf("phase %q: unknown strategy %q", p.Name, p.Retry.Strategy),
				}
			}
		}
	}
	return nil
}

// BuildGraph resolves agent names and assembles the phase graph. resolve
// looks agents up in the registry supplied by the service wiring.
func (w *Workflow) BuildGraph(defaults SchedulerConfig, resolve func(name string) (ports.AgentUnit, bool)) (*pipeline.PhaseGraph, error) {
	graph := pipeline.NewPhaseGraph()
	for _, def := range w.Phases {
		agents := make([]ports.AgentUnit, 0, len(def.Agents))
		for _, name := range def.Agents {
			agent, ok := resolve(name)
			if !ok {
				return nil, &domain.ValidationError{
					Field:  "agents",
					Reason: fmt.Sprintf("phase %q references unregistered agent %q", def.Name, name),
				}
			}
			agents = append(agents, agent)
		}

		phase := &pipeline.Phase{
			Name:        def.Name,
			Agents:      agents,
			DependsOn:   def.DependsOn,
			Parallelism: def.Parallelism,
			Timeout:     def.Timeout.Std(),
			FailureMode: domain.FailureMode(def.FailureMode),
			Retry:       def.retryPolicy(),
		}
		if phase.Parallelism < 1 {
			phase.Parallelism = defaults.DefaultParallelism
		}
		if phase.Timeout <= 0 {
			phase.Timeout = defaults.DefaultTimeout
		}
		if phase.FailureMode == "" {
			phase.FailureMode = domain.FailFast
		}
		if err := graph.AddPhase(phase); err != nil {
			return nil, err
		}
	}
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	return graph, nil
}

// retryPolicy converts the yaml definition, defaulting to a single
// attempt (no retries) when absent.
func (d PhaseDef) retryPolicy() pipeline.RetryPolicy {
	if d.Retry == nil {
		return pipeline.LinearBackoff(0, 1)
	}
	r := d.Retry
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	switch r.Strategy {
	case string(pipeline.BackoffExponential):
		factor := r.Factor
		if factor <= 1 {
			factor = 2
		}
		return pipeline.ExponentialBackoff(r.Base.Std(), factor, r.Max.Std(), attempts)
	case string(pipeline.BackoffFibonacci):
		return pipeline.FibonacciBackoff(r.Base.Std(), attempts)
	default:
		return pipeline.LinearBackoff(r.Base.Std(), attempts)
	}
}
