package tinyorm

import (
	"fmt"
	"sort"
	"sync"
)

// =====================================
// Provider Registry
// =====================================

// Opener opens a DB for a configuration. Adapter packages register one
// under their name when imported:
//
//	import _ "github.com/lemmego/tinyorm/tinybun"
//
//	db, err := tinyorm.Open("bun", cfg)
type Opener func(cfg Config, opts ...Option) (*DB, error)

var (
	providersMutex sync.RWMutex
	providers      = make(map[string]Opener)
)

// RegisterProvider makes an opener available under name. It panics if
// opener is nil or name is already taken.
func RegisterProvider(name string, opener Opener) {
	providersMutex.Lock()
	defer providersMutex.Unlock()
	if opener == nil {
		panic("tinyorm: RegisterProvider opener is nil")
	}
	if _, dup := providers[name]; dup {
		panic("tinyorm: RegisterProvider called twice for provider " + name)
	}
	providers[name] = opener
}

// Providers returns the names of the registered providers, sorted.
func Providers() []string {
	providersMutex.RLock()
	defer providersMutex.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open validates cfg and opens a DB with the named provider.
func Open(provider string, cfg Config, opts ...Option) (*DB, error) {
	providersMutex.RLock()
	opener, ok := providers[provider]
	providersMutex.RUnlock()
	if !ok {
		return nil, NewError(ErrorTypeUnsupported,
			fmt.Sprintf("unknown provider %q (forgotten import?)", provider))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return opener(cfg, opts...)
}
