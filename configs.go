package tcc

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DurabilityLevel specifies the durability level to use for a mutation.
type DurabilityLevel int

const (
	// DurabilityLevelUnknown indicates to use the default level.
	DurabilityLevelUnknown = DurabilityLevel(0)

	// DurabilityLevelNone indicates that no durability is needed.
	DurabilityLevelNone = DurabilityLevel(1)

	// DurabilityLevelMajority indicates the operation must be replicated to the majority.
	DurabilityLevelMajority = DurabilityLevel(2)

	// DurabilityLevelMajorityAndPersistToActive indicates the operation must be replicated
	// to the majority and persisted to the active server.
	DurabilityLevelMajorityAndPersistToActive = DurabilityLevel(3)

	// DurabilityLevelPersistToMajority indicates the operation must be persisted to the active server.
	DurabilityLevelPersistToMajority = DurabilityLevel(4)
)

// Config specifies various tunable options related to the coordinator.
type Config struct {
	// Repository is where transaction records are persisted.  Defaults to
	// an in-memory repository.
	Repository Repository

	// DisableCache stops the repository from being wrapped in a read cache.
	DisableCache bool

	// CacheSize is the maximum number of cached records.
	CacheSize int

	// CacheTTL is how long a cached record lives after its last access.
	CacheTTL time.Duration

	// Registry holds the confirm and cancel operations of the participants.
	Registry *Registry

	// Resolver maps participant target types to live instances.
	Resolver Resolver

	// ContextEditors holds the named context editors.  Defaults to the
	// built-in editors.
	ContextEditors *EditorRegistry

	// MaxRetryCount is the number of recovery attempts made for a stale
	// transaction before it is left for an operator.
	MaxRetryCount int

	// RecoverDuration is how long a transaction must go unmodified before
	// the recovery job considers it stale.
	RecoverDuration time.Duration

	// CronExpression schedules the recovery job.  It has a leading seconds
	// field.
	CronExpression string

	// DisableRecovery stops the recovery job from being scheduled.  Sweeps
	// may still be run by calling Recovery().StartRecover.
	DisableRecovery bool

	// DelayCancel decides whether a try failure is left for the recovery
	// job to cancel instead of being rolled back immediately.
	DelayCancel func(error) bool

	// AsyncTerminatePoolSize bounds the number of concurrent asynchronous
	// confirms and cancels.
	AsyncTerminatePoolSize int

	// Logger receives all logging from the coordinator.
	Logger *zap.Logger

	// MeterProvider is used to create the coordinator's counters.
	// Defaults to the global provider.
	MeterProvider metric.MeterProvider

	// TracerProvider is used to trace commits, rollbacks and recovery.
	// Defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Internal specifies a set of options for internal use.
	// Internal: This should never be used and is not supported.
	Internal struct {
		Hooks CoordinatorHooks
		Clock func() time.Time
	}
}
