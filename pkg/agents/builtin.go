package agents

import (
	"context"
	"time"

	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// Func adapts a plain function to the AgentUnit contract. Used by embedders
// and tests that don't need a full type.
type Func struct {
	AgentName string
	Fn        func(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error)
}

func (f Func) Name() string { return f.AgentName }

func (f Func) Execute(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
	return f.Fn(ctx, input)
}

// Passthrough forwards its input unchanged. Useful as a join point between
// phases and as a placeholder while a real agent is under development.
type Passthrough struct{}

func (Passthrough) Name() string { return "passthrough" }

func (Passthrough) Execute(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return domain.CloneBatch(input), nil
}

// Annotate stamps every entity with a processing attribute and advances its
// version, marking the batch as having passed through the named stage.
type Annotate struct {
	Stage string
}

func (a Annotate) Name() string { return "annotate-" + a.Stage }

func (a Annotate) Execute(ctx context.Context, input []*domain.Entity) ([]*domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := time.Now()
	out := domain.CloneBatch(input)
	for _, e := range out {
		e.SetAttribute("processedBy", domain.Value{
			Kind:       domain.KindProperty,
			Value:      a.Stage,
			ObservedAt: &now,
		})
		e.Touch()
	}
	return out, nil
}

// RegisterBuiltins adds the agents that ship with the service.
func RegisterBuiltins(r *Registry) error {
	builtins := []ports.AgentUnit{
		Passthrough{},
		Annotate{Stage: "normalize"},
		Annotate{Stage: "enrich"},
	}
	for _, agent := range builtins {
		if err := r.Register(agent); err != nil {
			return err
		}
	}
	return nil
}
