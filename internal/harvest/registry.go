package harvest

import (
	"fmt"

	"DataHarvester/internal/domain"
	"DataHarvester/internal/ports"
)

// MapperFactory builds a payload mapper from per-endpoint options.
type MapperFactory func(options map[string]string) (ports.RecordMapper, error)

// Entry binds one endpoint descriptor to its resolved payload mapper.
type Entry struct {
	Descriptor domain.EndpointDescriptor
	Mapper     ports.RecordMapper
}

// Registry keeps the process-wide set of harvestable endpoints. Mapper
// strategies register by name; descriptors resolve their mapper when added.
type Registry struct {
	factories map[string]MapperFactory
	entries   map[string]Entry
	order     []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]MapperFactory{},
		entries:   map[string]Entry{},
	}
}

// RegisterMapper adds or replaces a mapper strategy.
func (r *Registry) RegisterMapper(name string, factory MapperFactory) {
	r.factories[name] = factory
}

// AddEndpoint validates the descriptor, resolves its mapper, and registers
// it. Descriptors are immutable once registered.
func (r *Registry) AddEndpoint(desc domain.EndpointDescriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("endpoint id is required")
	}
	if _, exists := r.entries[desc.ID]; exists {
		return fmt.Errorf("endpoint %s is already registered", desc.ID)
	}
	if desc.OutputName == "" {
		return fmt.Errorf("endpoint %s: output name is required", desc.ID)
	}
	switch desc.Mode {
	case domain.ModePaged:
		if desc.PageSize <= 0 {
			return fmt.Errorf("endpoint %s: paged mode requires a positive page size", desc.ID)
		}
	case domain.ModeSingleShot:
	default:
		return fmt.Errorf("endpoint %s: unknown pagination mode %q", desc.ID, desc.Mode)
	}

	factory, ok := r.factories[desc.Mapper]
	if !ok {
		return fmt.Errorf("endpoint %s: mapper %q is not registered", desc.ID, desc.Mapper)
	}
	mapper, err := factory(desc.MapperOptions)
	if err != nil {
		return fmt.Errorf("endpoint %s: build mapper: %w", desc.ID, err)
	}

	r.entries[desc.ID] = Entry{Descriptor: desc, Mapper: mapper}
	r.order = append(r.order, desc.ID)
	return nil
}

// Resolve returns an endpoint by id or an error if it is absent.
func (r *Registry) Resolve(id string) (Entry, error) {
	if entry, ok := r.entries[id]; ok {
		return entry, nil
	}
	return Entry{}, fmt.Errorf("endpoint %s is not registered", id)
}

// All returns every registered endpoint in registration order.
func (r *Registry) All() []Entry {
	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.entries[id])
	}
	return entries
}

// ByCategory returns the registered endpoints of one category, in
// registration order.
func (r *Registry) ByCategory(category string) []Entry {
	var entries []Entry
	for _, id := range r.order {
		if entry := r.entries[id]; entry.Descriptor.Category == category {
			entries = append(entries, entry)
		}
	}
	return entries
}
