package fee

import (
	"sort"
	"sync"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
)

// Directory resolves module IDs to shared module implementations.
// It is safe for concurrent use by many instances.
type Directory struct {
	mu      sync.RWMutex
	modules map[ModuleID]Module
}

// NewDirectory returns a directory holding the given modules.
func NewDirectory(modules ...Module) (*Directory, error) {
	d := &Directory{modules: make(map[ModuleID]Module, len(modules))}
	for _, m := range modules {
		if err := d.Register(m); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Register adds a module. Re-registering an ID is rejected so a deployed
// module can never be swapped out underneath instances that trust it.
func (d *Directory) Register(m Module) error {
	if m == nil {
		return apperrors.New(apperrors.CodeInvalidConfiguration, "module is required")
	}
	id := m.ID()
	if id == (ModuleID{}) {
		return apperrors.New(apperrors.CodeInvalidConfiguration, "module id is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.modules[id]; exists {
		return apperrors.WithMetadata(apperrors.CodeInvalidConfiguration, "module already registered",
			map[string]string{"module": id.Hex()})
	}
	d.modules[id] = m
	return nil
}

// Lookup returns the module registered under id.
func (d *Directory) Lookup(id ModuleID) (Module, error) {
	d.mu.RLock()
	m, ok := d.modules[id]
	d.mu.RUnlock()
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeModuleUnknown, "module is not registered",
			map[string]string{"module": id.Hex()})
	}
	return m, nil
}

// IDs lists registered module IDs in byte order.
func (d *Directory) IDs() []ModuleID {
	d.mu.RLock()
	out := make([]ModuleID, 0, len(d.modules))
	for id := range d.modules {
		out = append(out, id)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}
