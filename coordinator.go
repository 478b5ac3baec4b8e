// Copyright 2021 Couchbase
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tcc

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Coordinator is the top level wrapper object for all TCC transaction
// handling.  It also runs the recovery job in the background.
type Coordinator struct {
	config      Config
	repo        Repository
	registry    *Registry
	resolver    Resolver
	pool        *workerPool
	manager     *Manager
	interceptor *Interceptor
	recovery    *Recovery
	scheduler   *Scheduler
	admin       *Admin
}

// Init will initialize the coordinator and return a Coordinator object
// which can be used to run compensable calls.
func Init(config *Config) (*Coordinator, error) {
	defaultConfig := &Config{
		CacheSize:              defaultCacheSize,
		CacheTTL:               defaultCacheTTL,
		MaxRetryCount:          30,
		RecoverDuration:        120 * time.Second,
		CronExpression:         DefaultCronExpression,
		DelayCancel:            DefaultDelayCancel,
		AsyncTerminatePoolSize: 1024,
	}

	if config == nil {
		config = defaultConfig
	}

	if config.CacheSize == 0 {
		config.CacheSize = defaultConfig.CacheSize
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaultConfig.CacheTTL
	}
	if config.MaxRetryCount == 0 {
		config.MaxRetryCount = defaultConfig.MaxRetryCount
	}
	if config.RecoverDuration == 0 {
		config.RecoverDuration = defaultConfig.RecoverDuration
	}
	if config.CronExpression == "" {
		config.CronExpression = defaultConfig.CronExpression
	}
	if config.DelayCancel == nil {
		config.DelayCancel = defaultConfig.DelayCancel
	}
	if config.AsyncTerminatePoolSize == 0 {
		config.AsyncTerminatePoolSize = defaultConfig.AsyncTerminatePoolSize
	}
	if config.Repository == nil {
		config.Repository = NewMemoryRepository()
	}
	if config.Registry == nil {
		config.Registry = NewRegistry()
	}
	if config.Resolver == nil {
		config.Resolver = NewSingletonResolver()
	}
	if config.ContextEditors == nil {
		config.ContextEditors = NewEditorRegistry()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.MeterProvider == nil {
		config.MeterProvider = otel.GetMeterProvider()
	}
	if config.TracerProvider == nil {
		config.TracerProvider = otel.GetTracerProvider()
	}
	if config.Internal.Hooks == nil {
		config.Internal.Hooks = &DefaultHooks{}
	}
	if config.Internal.Clock == nil {
		config.Internal.Clock = time.Now
	}

	metrics, err := newCoordinatorMetrics(config.MeterProvider)
	if err != nil {
		return nil, err
	}
	tracer := config.TracerProvider.Tracer(instrumentationName)
	logger := config.Logger.Named("tcc")

	repo := config.Repository
	if !config.DisableCache {
		repo = NewCachingRepository(repo, config.CacheSize, config.CacheTTL)
	}

	terminator := NewTerminator(config.Registry, config.Resolver, config.ContextEditors)
	pool := newWorkerPool(config.AsyncTerminatePoolSize)

	manager := &Manager{
		repo:       repo,
		terminator: terminator,
		pool:       pool,
		logger:     logger.Named("manager"),
		hooks:      config.Internal.Hooks,
		metrics:    metrics,
		tracer:     tracer,
		now:        config.Internal.Clock,
	}

	recovery := &Recovery{
		repo:            repo,
		terminator:      terminator,
		maxRetryCount:   config.MaxRetryCount,
		recoverDuration: config.RecoverDuration,
		logger:          logger.Named("recovery"),
		hooks:           config.Internal.Hooks,
		metrics:         metrics,
		tracer:          tracer,
		now:             config.Internal.Clock,
	}

	c := &Coordinator{
		config:   *config,
		repo:     repo,
		registry: config.Registry,
		resolver: config.Resolver,
		pool:     pool,
		manager:  manager,
		interceptor: &Interceptor{
			manager:     manager,
			editors:     config.ContextEditors,
			delayCancel: config.DelayCancel,
			logger:      logger.Named("interceptor"),
		},
		recovery: recovery,
		admin:    NewAdmin(repo),
	}

	if !config.DisableRecovery {
		scheduler, err := newScheduler(config.CronExpression, recovery, logger.Named("scheduler"))
		if err != nil {
			return nil, err
		}
		c.scheduler = scheduler
		c.scheduler.Start()
	}

	return c, nil
}

// Config returns the config that was used during the initialization
// of this Coordinator object.
func (c *Coordinator) Config() Config {
	return c.config
}

// Manager returns the transaction manager.
func (c *Coordinator) Manager() *Manager {
	return c.manager
}

// Interceptor returns the entry point for compensable calls.
func (c *Coordinator) Interceptor() *Interceptor {
	return c.interceptor
}

// Recovery returns the recovery engine.
func (c *Coordinator) Recovery() *Recovery {
	return c.recovery
}

// Admin returns the operator actions on stored records.
func (c *Coordinator) Admin() *Admin {
	return c.admin
}

// Registry returns the operation registry used to terminate participants.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Resolver returns the resolver used to find participant instances.
func (c *Coordinator) Resolver() Resolver {
	return c.resolver
}

// Repository returns the repository used by the coordinator, including
// its cache.
func (c *Coordinator) Repository() Repository {
	return c.repo
}

// Close will shut down this Coordinator object, stopping the recovery job
// and waiting for asynchronous confirms and cancels to finish.
func (c *Coordinator) Close() error {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}
	c.pool.Close()

	return nil
}

// CoordinatorInternal exposes internal methods that are useful for testing and/or
// other forms of internal use.
type CoordinatorInternal struct {
	parent *Coordinator
}

// Internal returns an CoordinatorInternal object which can be used for specialized
// internal use cases.
func (c *Coordinator) Internal() *CoordinatorInternal {
	return &CoordinatorInternal{
		parent: c,
	}
}

// WaitAsyncTermination blocks until all asynchronous confirms and cancels
// submitted so far have finished.
func (c *CoordinatorInternal) WaitAsyncTermination() {
	c.parent.pool.Wait()
}

// Scheduler returns the recovery scheduler, or nil when recovery is disabled.
func (c *CoordinatorInternal) Scheduler() *Scheduler {
	return c.parent.scheduler
}
