package browser

import (
	"sync"

	"github.com/trendscope/trendscope/internal/errkind"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Factory)
)

// RegisterDriver makes a driver binding available by name, database/sql
// style. Driver packages call it from init.
func RegisterDriver(name string, factory Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if factory == nil {
		panic("browser: RegisterDriver with nil factory")
	}
	if _, dup := drivers[name]; dup {
		panic("browser: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = factory
}

// OpenDriver returns the named registered driver. An empty name selects the
// sole registered driver when exactly one exists.
func OpenDriver(name string) (Factory, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	if name == "" {
		if len(drivers) == 1 {
			for _, f := range drivers {
				return f, nil
			}
		}
		return nil, errkind.New(errkind.Config, "BROWSER_DRIVER not set and %d drivers registered", len(drivers))
	}
	f, ok := drivers[name]
	if !ok {
		return nil, errkind.New(errkind.Config, "unknown browser driver %q", name)
	}
	return f, nil
}

// Drivers lists the registered driver names.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	out := make([]string, 0, len(drivers))
	for name := range drivers {
		out = append(out, name)
	}
	return out
}
