package runner

import (
	"fmt"
	"strings"
)

var registry = map[string]Factory{
	"command": NewCommandRunner,
}

// Registry exposes the available runner factories. Intended for internal
// inspection/tests.
func Registry() map[string]Factory {
	return registry
}

// Select returns the factory registered under name. An empty name selects
// the default exec-based runner.
func Select(name string) (Factory, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "command"
	}
	if factory, ok := registry[key]; ok {
		return factory, nil
	}
	return nil, fmt.Errorf("unsupported runner %q", name)
}
