package layer

import (
	"sort"

	"github.com/born-ml/brew/internal/config"
	"github.com/pkg/errors"
)

// Constructor builds the Impl for one layer configuration. It should only
// capture the configuration; validation belongs in Configure.
type Constructor func(param config.LayerParameter) Impl

var registry = map[string]Constructor{}

// Register adds a variant under typ. Registering a type twice panics.
func Register(typ string, c Constructor) {
	if _, dup := registry[typ]; dup {
		panic(errors.Errorf("layer: type %q already registered", typ))
	}
	registry[typ] = c
}

// New resolves param.Type through the registry and wraps the result.
func New(param config.LayerParameter) (*Layer, error) {
	c, ok := registry[param.Type]
	if !ok {
		return nil, errors.Errorf("layer %s: unknown type %q (known: %v)", param.Name, param.Type, Types())
	}
	return Wrap(param, c(param)), nil
}

// Types returns the registered type names in sorted order.
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
