package tools

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps capability names to implementations. It is built once during
// server construction and read-only afterwards, so no locking is needed on
// the request path. The descriptor order it reports is the registration
// order, keeping the decision model's vocabulary stable across requests.
type Registry struct {
	capabilities map[string]Capability
	order        []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		capabilities: make(map[string]Capability),
	}
}

// Register adds a capability under its descriptor name. Registering the same
// name twice is a programming error and fails with ErrDuplicateCapability;
// callers treat this as fatal at startup.
func (r *Registry) Register(c Capability) error {
	name := c.Descriptor().Name
	if name == "" {
		return fmt.Errorf("capability has an empty name")
	}
	if _, exists := r.capabilities[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, name)
	}
	r.capabilities[name] = c
	r.order = append(r.order, name)
	return nil
}

// Resolve returns the executor registered under name, or
// ErrUnknownCapability. The reasoning loop uses the failure to correct the
// decision model rather than aborting the request.
func (r *Registry) Resolve(name string) (Capability, error) {
	c, ok := r.capabilities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	return c, nil
}

// DescribeAll returns every registered descriptor in registration order.
// The result is handed verbatim to the decision model adapter so the model's
// action vocabulary always matches what can actually execute.
func (r *Registry) DescribeAll() []CapabilityDescriptor {
	descriptors := make([]CapabilityDescriptor, 0, len(r.order))
	for _, name := range r.order {
		descriptors = append(descriptors, r.capabilities[name].Descriptor())
	}
	return descriptors
}

// Names returns the registered capability names, sorted, for status
// reporting.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DescribeForPrompt renders a descriptor as a single line suitable for the
// system prompt, including the argument schema.
func DescribeForPrompt(desc CapabilityDescriptor) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(desc.Name)
	b.WriteString("(")
	for i, arg := range desc.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.Name)
		b.WriteString(": ")
		b.WriteString(string(arg.Type))
		if !arg.Required {
			b.WriteString(", optional")
		}
	}
	b.WriteString("): ")
	b.WriteString(desc.Purpose)
	return b.String()
}
