package adapter

// Registry holds the closed adapter set, keyed by provider ID.
type Registry struct {
	byID  map[string]Adapter
	order []string
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byID: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if _, dup := r.byID[a.ID()]; dup {
			continue
		}
		r.byID[a.ID()] = a
		r.order = append(r.order, a.ID())
	}
	return r
}

// DefaultRegistry wires every supported provider.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewClaudeAdapter(),
		NewCodexAdapter(),
		NewGeminiAdapter(),
		NewOpenCodeAdapter(),
		NewQwenAdapter(),
	)
}

// Lookup returns the adapter for id.
func (r *Registry) Lookup(id string) (Adapter, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// IDs returns the registered provider IDs in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}
