package tariffplans

import (
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Plan)
)

func init() {
	// The reference plan: fixed connection fee plus a per-minute charge
	// inside the 06:00-22:00 standard window.
	Register(Plan{
		Key:           "standard",
		Name:          "Standard residential",
		ConnectionFee: "0.36",
		PerMinuteRate: "0.09",
		StandardStart: "06:00",
		StandardEnd:   "22:00",
	})
}

// Register registers a tariff plan.
func Register(p Plan) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if p.Key == "" {
		panic("tariffplans: Register plan with empty key")
	}
	registry[p.Key] = p
}

// Get returns a tariff plan by key.
func Get(key string) (Plan, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[key]
	return p, ok
}

// List returns the registered plan keys, sorted.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var keys []string
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetAll returns all registered plans.
func GetAll() []Plan {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var plans []Plan
	for _, p := range registry {
		plans = append(plans, p)
	}
	return plans
}
