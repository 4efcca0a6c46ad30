// Package contract declares the per-operation mutation contracts
// (authorization scope, visibility, idempotency, quota, lifecycle) that
// mutating endpoints carry. Contracts are plain records attached to each
// operation at startup and validated once; handlers and the coordinator
// honor them at runtime.
package contract

import (
	"fmt"
	"time"

	"storyforge/internal/domain"
	"storyforge/internal/lifecycle"
)

type Scope string

const (
	ScopeNone    Scope = "none"
	ScopeAccount Scope = "account"
	ScopeAdmin   Scope = "admin"
)

type Visibility string

const (
	VisibilityPublic     Visibility = "public"
	VisibilityRestricted Visibility = "restricted"
	VisibilityInternal   Visibility = "internal"
)

// ReservationPhase says when an operation's quota is reserved. Only
// request-phase reservations may be refundable: a completion-phase
// charge is recorded after the fact and there is nothing to hand back.
type ReservationPhase string

const (
	ReservedAtRequest    ReservationPhase = "request"
	ReservedAtCompletion ReservationPhase = "completion"
)

// Idempotency is the x-idempotency contract of a mutating operation.
type Idempotency struct {
	Required      bool          `json:"required"`
	LockKey       string        `json:"lock_key"`
	TTL           time.Duration `json:"ttl_seconds"`
	ConsumesQuota bool          `json:"consumes_quota"`
	RetrySafe     bool          `json:"retry_safe"`
}

// Quota is the x-quota contract. Cost is per generated slot.
type Quota struct {
	Type       string           `json:"type"`
	Cost       int              `json:"cost"`
	Refundable bool             `json:"refundable"`
	ReservedAt ReservationPhase `json:"reserved_at"`
}

// Lifecycle is the x-lifecycle contract of a state-changing operation.
type Lifecycle struct {
	Resource    lifecycle.Kind      `json:"resource"`
	FromStates  []domain.StoryState `json:"from_states"`
	ToState     domain.StoryState   `json:"to_state"`
	SideEffects []string            `json:"side_effects"`
}

// Operation binds one HTTP operation to its contracts.
type Operation struct {
	Name        string       `json:"name"`
	Method      string       `json:"method"`
	Path        string       `json:"path"`
	Scope       Scope        `json:"scope"`
	Visibility  Visibility   `json:"visibility"`
	Idempotency *Idempotency `json:"idempotency,omitempty"`
	Quota       *Quota       `json:"quota,omitempty"`
	Lifecycle   *Lifecycle   `json:"lifecycle,omitempty"`
}

// Validate checks the operation's contracts against the static schema.
func (o Operation) Validate() error {
	if o.Name == "" || o.Method == "" || o.Path == "" {
		return fmt.Errorf("%w: operation needs name, method and path", domain.ErrValidation)
	}
	switch o.Visibility {
	case VisibilityPublic, VisibilityRestricted, VisibilityInternal:
	default:
		return fmt.Errorf("%w: operation %s has unknown visibility %q", domain.ErrValidation, o.Name, o.Visibility)
	}
	if spec := o.Idempotency; spec != nil {
		if spec.Required && spec.LockKey == "" {
			return fmt.Errorf("%w: operation %s requires idempotency but names no lock key", domain.ErrValidation, o.Name)
		}
		if spec.TTL <= 0 {
			return fmt.Errorf("%w: operation %s has non-positive idempotency ttl", domain.ErrValidation, o.Name)
		}
	}
	if spec := o.Quota; spec != nil {
		if spec.Type == "" {
			return fmt.Errorf("%w: operation %s has a quota contract without a type", domain.ErrValidation, o.Name)
		}
		if spec.Cost <= 0 {
			return fmt.Errorf("%w: operation %s has non-positive quota cost", domain.ErrValidation, o.Name)
		}
		switch spec.ReservedAt {
		case ReservedAtRequest, ReservedAtCompletion:
		default:
			return fmt.Errorf("%w: operation %s has unknown reservation phase %q", domain.ErrValidation, o.Name, spec.ReservedAt)
		}
		if spec.Refundable && spec.ReservedAt != ReservedAtRequest {
			return fmt.Errorf("%w: operation %s declares refundable quota reserved at %s", domain.ErrValidation, o.Name, spec.ReservedAt)
		}
	}
	if spec := o.Lifecycle; spec != nil {
		if spec.Resource == "" || spec.ToState == "" || len(spec.FromStates) == 0 {
			return fmt.Errorf("%w: operation %s has an incomplete lifecycle contract", domain.ErrValidation, o.Name)
		}
		for _, from := range spec.FromStates {
			if !lifecycle.Allowed(spec.Resource, from, spec.ToState) {
				return fmt.Errorf("%w: operation %s declares lifecycle transition %s -> %s absent from the %s table",
					domain.ErrValidation, o.Name, from, spec.ToState, spec.Resource)
			}
		}
	}
	return nil
}

// Registry holds the validated operation set for the service.
type Registry struct {
	ops    []Operation
	byName map[string]Operation
}

// NewRegistry validates every operation and rejects duplicates. It is
// called once at startup; a bad contract fails the boot.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{byName: make(map[string]Operation, len(ops))}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.byName[op.Name]; exists {
			return nil, fmt.Errorf("%w: operation %s declared twice", domain.ErrValidation, op.Name)
		}
		r.byName[op.Name] = op
		r.ops = append(r.ops, op)
	}
	return r, nil
}

// Get returns the named operation.
func (r *Registry) Get(name string) (Operation, bool) {
	op, ok := r.byName[name]
	return op, ok
}

// Operations returns all operations in declaration order.
func (r *Registry) Operations() []Operation {
	out := make([]Operation, len(r.ops))
	copy(out, r.ops)
	return out
}
