package common

import (
	"strings"
	"sync"
)

// ConfigStore is the dotted-path configuration map behind the kernel's
// setConfig/getConfig contract (spec §4.G) and the CLI's flag-to-config
// translation. Keys are exactly the ones enumerated in spec §6:
// transport.http.*, storage.*, compression.*, cdn.*.
type ConfigStore struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{values: defaultConfig()}
}

// defaultConfig seeds every key spec §6 enumerates with the default named
// in the component's own section (§4.B-F), so a fresh kernel is usable
// without any configuration at all.
func defaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"transport.http.uploadUrl":          "/api/upload/chunk",
		"transport.http.mergeUrl":           "/api/upload/merge",
		"transport.http.checkUrl":           "/api/upload/check",
		"transport.http.chunkSize":          int64(1 << 20), // 1 MiB, §4.F
		"transport.http.timeout":            "10s",
		"transport.http.maxConcurrentUploads": 3,
		"transport.http.retryCount":         3,
		"transport.http.allowedFileTypes":   []string{},

		"storage.prefix":          "filechunk:",
		"storage.maxStorageSize":  int64(50 << 20), // 50 MiB browser default, §4.C
		"storage.cleanupThreshold": 0.8,
		"storage.cleanupStrategy": "smart",
		"storage.autoCleanup":     true,

		"compression.profile":  "balanced",
		"compression.minSize":  int64(1024),

		"cdn.healthCheckInterval": "30s",
		"cdn.failoverThreshold":   3,
		"cdn.maxRetries":          5,
		"cdn.retryDelay":          "1s",
		"cdn.backoffFactor":       2.0,
	}
}

func (c *ConfigStore) Get(path string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[path]
	return v, ok
}

func (c *ConfigStore) Set(path string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[path] = value
}

// Snapshot returns a copy of every key under the given dotted prefix,
// e.g. Snapshot("cdn.") for the connector's boot configuration.
func (c *ConfigStore) Snapshot(prefix string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]interface{})
	for k, v := range c.values {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}

// LoadYAML merges a nested YAML document (filechunk.yaml, per
// SPEC_FULL.md §4) into the dotted-path store, flattening nested maps
// into dotted keys. Call this before applying CLI flag overrides so the
// layering is file < flags < in-process SetConfig, matching tenzoki-agen's
// cellorg config precedence.
func (c *ConfigStore) LoadYAML(doc map[string]interface{}) {
	flat := map[string]interface{}{}
	flattenYAML("", doc, flat)
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range flat {
		c.values[k] = v
	}
}

func flattenYAML(prefix string, node map[string]interface{}, out map[string]interface{}) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenYAML(key, nested, out)
			continue
		}
		out[key] = v
	}
}
