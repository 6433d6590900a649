package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/filechunkpro/filechunk-pro/adapter"
	"github.com/filechunkpro/filechunk-pro/cdn"
	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/compression"
	"github.com/filechunkpro/filechunk-pro/engine"
	"github.com/filechunkpro/filechunk-pro/hashpool"
	"github.com/filechunkpro/filechunk-pro/kernel"
	"github.com/filechunkpro/filechunk-pro/store"
)

// appContext bundles the handles a subcommand needs. It is built fresh
// per invocation: filechunkctl is a one-shot CLI, not a long-running
// host, so there is no benefit to caching the kernel across commands.
type appContext struct {
	Kernel *kernel.Kernel
	Engine *engine.Engine
	CDN    *cdn.Connector
	Store  *store.Store
	Logger common.ILogger
	Format OutputFormat
}

// loadYAMLFile reads filechunk.yaml into a nested map for
// common.ConfigStore.LoadYAML. A missing --config is not an error: the
// kernel's own defaults (common.NewConfigStore) stand in, mirroring
// spec §6's "file < flags < in-process SetConfig" layering with an
// empty file.
func loadYAMLFile(path string) (map[string]interface{}, error) {
	if path == "" {
		return map[string]interface{}{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, common.NewError(common.ECode.IO(), "reading config file", err)
	}
	doc := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, common.NewError(common.ECode.Config(), "parsing config file", err)
	}
	return doc, nil
}

// cdnEndpointConfig is the shape of one entry under cdn.endpoints in
// filechunk.yaml.
type cdnEndpointConfig struct {
	BaseURL  string
	TestPath string
}

// cdnEndpointsFrom pulls the optional cdn.endpoints list out of the raw
// YAML document. There's no generated top-level config struct for the
// whole file: most of it is consumed through the kernel's dotted
// ConfigStore, this is the one section (a list of structured records)
// that store can't express.
func cdnEndpointsFrom(doc map[string]interface{}) []cdnEndpointConfig {
	cdnSection, ok := doc["cdn"].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := cdnSection["endpoints"].([]interface{})
	if !ok {
		return nil
	}
	var out []cdnEndpointConfig
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		baseURL, _ := m["baseUrl"].(string)
		testPath, _ := m["testPath"].(string)
		out = append(out, cdnEndpointConfig{BaseURL: baseURL, TestPath: testPath})
	}
	return out
}

func configString(k *kernel.Kernel, path string) string {
	v, ok := k.GetConfig(path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// buildApp assembles every component, registers them with a fresh
// kernel and starts it, the way a host embedding FileChunk Pro would
// (spec §4.G). Callers must call app.Kernel.Stop(ctx) when done.
func buildApp(ctx context.Context) (*appContext, error) {
	logger := common.NewProcessLogger(common.LogInfo, nil)

	format, err := parseOutputFormat(outputTypeFlag)
	if err != nil {
		return nil, err
	}

	rawDoc, err := loadYAMLFile(cfgFile)
	if err != nil {
		return nil, err
	}
	k := kernel.New(logger)
	k.Config().LoadYAML(rawDoc)
	k.SetConfig("storage.maxStorageSize", quotaMBFlag<<20)

	nativeAdapter := adapter.NewNative(adapter.NewMemoryKV(quotaMBFlag<<20), nil, 10*time.Second)
	adapterModule := adapter.NewModule(nativeAdapter)
	if err := k.Register(adapterModule); err != nil {
		return nil, err
	}

	pool := hashpool.NewPool(4, logger)
	hashpoolModule := hashpool.NewModule(pool)
	if err := k.Register(hashpoolModule); err != nil {
		return nil, err
	}

	backend := store.NewBadgerBackend(storeDirFlag)
	storeCfg := store.DefaultConfig(quotaMBFlag << 20)
	storeModule := store.NewModule(backend, storeCfg, logger)
	if err := k.Register(storeModule); err != nil {
		return nil, err
	}

	compressionModule := compression.NewModule(storeModule.Store, logger)
	if err := k.Register(compressionModule); err != nil {
		return nil, err
	}

	transport := adapter.NewHTTPTransport(30 * time.Second)

	var cdnConn *cdn.Connector
	if cdnEndpoints := cdnEndpointsFrom(rawDoc); len(cdnEndpoints) > 0 {
		endpoints := make([]*cdn.Endpoint, 0, len(cdnEndpoints))
		for _, e := range cdnEndpoints {
			endpoints = append(endpoints, cdn.NewEndpoint(e.BaseURL, e.TestPath))
		}
		cdnConn = cdn.New(endpoints, transport, cdn.DefaultConfig(), logger)
		cdnModule := cdn.NewModule(cdnConn)
		if err := k.Register(cdnModule); err != nil {
			return nil, err
		}
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.CheckURL = configString(k, "transport.http.checkUrl")
	engineCfg.ChunkURL = configString(k, "transport.http.uploadUrl")
	engineCfg.MergeURL = configString(k, "transport.http.mergeUrl")
	engineCfg.SessionLogDir = filepath.Join(storeDirFlag, "session-logs")
	if mc, ok := k.GetConfig("transport.http.maxConcurrentUploads"); ok {
		if n, ok := mc.(int); ok {
			engineCfg.MaxConcurrentUploads = n
		}
	}
	if rc, ok := k.GetConfig("transport.http.retryCount"); ok {
		if n, ok := rc.(int); ok {
			engineCfg.RetryCount = n
		}
	}
	eng := engine.New(storeModule.Store, pool, transport, cdnConn, engineCfg, logger)
	engineModule := engine.NewModule(eng)
	if err := k.Register(engineModule); err != nil {
		return nil, err
	}

	if err := k.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting kernel: %w", err)
	}

	return &appContext{
		Kernel: k,
		Engine: eng,
		CDN:    cdnConn,
		Store:  storeModule.Store,
		Logger: logger,
		Format: format,
	}, nil
}
