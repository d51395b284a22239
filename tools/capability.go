/*
Package tools contains the capability layer of the Concierge agent.

A capability is an invocable external action (weather lookup, web search,
schedule access, document question-answering) with a declared name, purpose,
and argument schema. The reasoning loop discovers capabilities through the
Registry, re-validates every model-proposed call against the declared schema,
and executes it through the Capability interface.

This file defines the capability contract, the typed argument schema, the
argument validation applied at the registry boundary, and the shared failure
taxonomy used by all capability implementations.
*/
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ArgType enumerates the argument types a capability may declare.
type ArgType string

const (
	ArgTypeString ArgType = "string"
	ArgTypeInt    ArgType = "integer"
	ArgTypeBool   ArgType = "boolean"
)

// ArgSpec describes a single named argument of a capability.
type ArgSpec struct {
	Name        string
	Type        ArgType
	Required    bool
	Description string
}

// CapabilityDescriptor is the immutable description of a capability: its
// unique name, a human-readable purpose shown to the decision model, and the
// argument schema enforced before execution.
type CapabilityDescriptor struct {
	Name    string
	Purpose string
	Args    []ArgSpec
}

// Args holds the resolved arguments for one capability invocation. Values
// come from model output parsed as JSON, so numbers arrive as float64.
type Args map[string]any

// String returns the named argument as a string, or the empty string when it
// is absent or not a string.
func (a Args) String(name string) string {
	v, ok := a[name].(string)
	if !ok {
		return ""
	}
	return v
}

// Int returns the named argument as an int64. JSON numbers decode as
// float64, so both representations are accepted.
func (a Args) Int(name string) int64 {
	switch v := a[name].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Bool returns the named argument as a bool, defaulting to false.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// Capability is the uniform contract every invocable action satisfies.
// Execute returns a model-readable result payload or a typed failure.
// Implementations must honor context cancellation and must not emit stream
// events; event emission is the reasoning loop's authority.
type Capability interface {
	Descriptor() CapabilityDescriptor
	Execute(ctx context.Context, args Args) (string, error)
}

// Failure taxonomy shared by capability implementations. Registry misuse
// (duplicate or unknown names) is fatal at startup; everything else is a
// capability failure the reasoning loop folds back into conversation context.
var (
	ErrDuplicateCapability = errors.New("capability name already registered")
	ErrUnknownCapability   = errors.New("unknown capability")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrLocationNotFound    = errors.New("location not found")
	ErrConflictOrInvalid   = errors.New("conflicting or invalid meeting request")
	ErrNoDocument          = errors.New("no document available")
)

// InvalidArgsError reports a model-proposed argument set that does not match
// the capability's declared schema. It is raised before execution so bad
// arguments never reach a capability implementation.
type InvalidArgsError struct {
	Capability string
	Reason     string
}

func (e *InvalidArgsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Capability, e.Reason)
}

// ValidateArgs checks proposed arguments against a descriptor's schema.
// Unknown fields, missing required fields, and mistyped values are all
// rejected with an error naming the offending field.
func ValidateArgs(desc CapabilityDescriptor, args Args) error {
	specs := make(map[string]ArgSpec, len(desc.Args))
	for _, spec := range desc.Args {
		specs[spec.Name] = spec
	}

	for name, value := range args {
		spec, ok := specs[name]
		if !ok {
			return &InvalidArgsError{Capability: desc.Name, Reason: fmt.Sprintf("unknown field %q", name)}
		}
		if err := checkType(spec, value); err != nil {
			return &InvalidArgsError{Capability: desc.Name, Reason: err.Error()}
		}
	}

	for _, spec := range desc.Args {
		if !spec.Required {
			continue
		}
		value, ok := args[spec.Name]
		if !ok {
			return &InvalidArgsError{Capability: desc.Name, Reason: fmt.Sprintf("missing required field %q", spec.Name)}
		}
		if s, isString := value.(string); isString && s == "" {
			return &InvalidArgsError{Capability: desc.Name, Reason: fmt.Sprintf("required field %q is empty", spec.Name)}
		}
	}

	return nil
}

func checkType(spec ArgSpec, value any) error {
	switch spec.Type {
	case ArgTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string", spec.Name)
		}
	case ArgTypeInt:
		switch v := value.(type) {
		case float64:
			if v != math.Trunc(v) {
				return fmt.Errorf("field %q must be an integer", spec.Name)
			}
		case int, int64:
		default:
			return fmt.Errorf("field %q must be an integer", spec.Name)
		}
	case ArgTypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean", spec.Name)
		}
	}
	return nil
}
