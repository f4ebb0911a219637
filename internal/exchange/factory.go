package exchange

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Credentials carries the API key material a builder needs.
type Credentials struct {
	APIKey  string
	Secret  string
	Testnet bool
}

// Builder constructs a Gateway from credentials.
type Builder func(creds Credentials, logger *slog.Logger) (Gateway, error)

var (
	buildersMu sync.RWMutex
	builders   = make(map[string]Builder)
)

// Register makes a gateway implementation available under the given name.
// Implementations call Register from an init function.
func Register(name string, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	builders[name] = b
}

// New builds the gateway registered under name.
func New(name string, creds Credentials, logger *slog.Logger) (Gateway, error) {
	buildersMu.RLock()
	b, ok := builders[name]
	buildersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("exchange: unknown exchange %q (registered: %v)", name, Names())
	}
	return b(creds, logger)
}

// Names returns the registered exchange names in sorted order.
func Names() []string {
	buildersMu.RLock()
	defer buildersMu.RUnlock()
	names := make([]string, 0, len(builders))
	for n := range builders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
