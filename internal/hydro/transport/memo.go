package transport

import (
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/i474232898/hydro-aggregation/internal/hydro"
)

// MemoConfig bounds the in-process response memo. Each resource kind has
// its own LRU so large reading fan-outs cannot evict station listings.
type MemoConfig struct {
	TTL        time.Duration // 0 = entries never expire, only evicted
	Capacities map[hydro.Resource]int
}

// DefaultMemoConfig mirrors the capacities the pipeline was tuned with.
func DefaultMemoConfig() MemoConfig {
	return MemoConfig{
		TTL: 10 * time.Minute,
		Capacities: map[hydro.Resource]int{
			hydro.ResourceStations: 32,
			hydro.ResourceMeasures: 64,
			hydro.ResourceReadings: 128,
		},
	}
}

type memo struct {
	caches map[hydro.Resource]*expirable.LRU[string, hydro.Payload]
}

func newMemo(cfg MemoConfig) *memo {
	m := &memo{caches: make(map[hydro.Resource]*expirable.LRU[string, hydro.Payload])}
	for resource, size := range cfg.Capacities {
		if size <= 0 {
			continue
		}
		m.caches[resource] = expirable.NewLRU[string, hydro.Payload](size, nil, cfg.TTL)
	}
	return m
}

func (m *memo) get(resource hydro.Resource, key string) (hydro.Payload, bool) {
	c, ok := m.caches[resource]
	if !ok {
		return hydro.Payload{}, false
	}
	return c.Get(key)
}

func (m *memo) add(resource hydro.Resource, key string, p hydro.Payload) {
	if c, ok := m.caches[resource]; ok {
		c.Add(key, p)
	}
}

func (m *memo) remove(resource hydro.Resource, key string) {
	if c, ok := m.caches[resource]; ok {
		c.Remove(key)
	}
}

func (m *memo) purge() {
	for _, c := range m.caches {
		c.Purge()
	}
}

func (m *memo) len(resource hydro.Resource) int {
	if c, ok := m.caches[resource]; ok {
		return c.Len()
	}
	return 0
}

// memoKey identifies a request by provider, resource and parameters.
// url.Values.Encode sorts keys, which makes the key order-independent.
func memoKey(providerID string, resource hydro.Resource, params hydro.Params) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return providerID + "|" + string(resource) + "|" + v.Encode()
}
