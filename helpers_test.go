package tcc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const accountTarget = "test.AccountService"

var accountParams = []string{"string", "int", TransactionContextType}

var debitMethod = CompensableMethod{
	TargetType:       accountTarget,
	TryOperation:     "tryDebit",
	ConfirmOperation: "confirmDebit",
	CancelOperation:  "cancelDebit",
	ParameterTypes:   accountParams,
}

type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	c.now = c.now.Add(d)
	c.lock.Unlock()
}

type testHooks struct {
	beforeCommit             func(Xid) error
	beforeRollback           func(Xid) error
	beforeRecoverTransaction func(Xid) error
	beforeRecoverTermination func(Xid) error
}

func (h *testHooks) BeforeCommit(xid Xid) error {
	if h.beforeCommit == nil {
		return nil
	}
	return h.beforeCommit(xid)
}

func (h *testHooks) BeforeRollback(xid Xid) error {
	if h.beforeRollback == nil {
		return nil
	}
	return h.beforeRollback(xid)
}

func (h *testHooks) BeforeRecoverTransaction(xid Xid) error {
	if h.beforeRecoverTransaction == nil {
		return nil
	}
	return h.beforeRecoverTransaction(xid)
}

func (h *testHooks) BeforeRecoverTermination(xid Xid) error {
	if h.beforeRecoverTermination == nil {
		return nil
	}
	return h.beforeRecoverTermination(xid)
}

// accountService records the confirm and cancel calls made against it.
type accountService struct {
	lock        sync.Mutex
	calls       []string
	failConfirm error
	failCancel  error
}

func (s *accountService) record(call string) {
	s.lock.Lock()
	s.calls = append(s.calls, call)
	s.lock.Unlock()
}

func (s *accountService) Calls() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *accountService) SetFailConfirm(err error) {
	s.lock.Lock()
	s.failConfirm = err
	s.lock.Unlock()
}

func (s *accountService) SetFailCancel(err error) {
	s.lock.Lock()
	s.failCancel = err
	s.lock.Unlock()
}

func (s *accountService) terminate(phase string, args Arguments) error {
	var account string
	if err := args.Decode(0, &account); err != nil {
		return err
	}
	txCtx, err := args.TransactionContext(2)
	if err != nil {
		return err
	}
	status := "none"
	if txCtx != nil {
		status = txCtx.Status.String()
	}

	s.lock.Lock()
	failure := s.failConfirm
	if phase == "cancel" {
		failure = s.failCancel
	}
	s.lock.Unlock()
	if failure != nil {
		return failure
	}

	s.record(phase + ":" + account + ":" + status)
	return nil
}

func registerAccountService(t *testing.T, registry *Registry, resolver *SingletonResolver) *accountService {
	svc := &accountService{}
	resolver.Register(accountTarget, svc)

	err := registry.Register(accountTarget, "confirmDebit", accountParams,
		func(ctx context.Context, target interface{}, args Arguments) error {
			return target.(*accountService).terminate("confirm", args)
		})
	require.NoError(t, err, "register confirm failed")

	err = registry.Register(accountTarget, "cancelDebit", accountParams,
		func(ctx context.Context, target interface{}, args Arguments) error {
			return target.(*accountService).terminate("cancel", args)
		})
	require.NoError(t, err, "register cancel failed")

	return svc
}

type testEnv struct {
	coordinator *Coordinator
	backend     *MemoryRepository
	svc         *accountService
	clock       *testClock
	hooks       *testHooks
}

func newTestEnv(t *testing.T, configure func(config *Config)) *testEnv {
	env := &testEnv{
		backend: NewMemoryRepository(),
		clock:   newTestClock(),
		hooks:   &testHooks{},
	}

	registry := NewRegistry()
	resolver := NewSingletonResolver()
	env.svc = registerAccountService(t, registry, resolver)

	config := &Config{
		Repository:      env.backend,
		Registry:        registry,
		Resolver:        resolver,
		DisableRecovery: true,
		MaxRetryCount:   3,
		RecoverDuration: time.Minute,
		Logger:          zaptest.NewLogger(t),
	}
	config.Internal.Hooks = env.hooks
	config.Internal.Clock = env.clock.Now
	if configure != nil {
		configure(config)
	}

	c, err := Init(config)
	require.NoError(t, err, "init failed")
	t.Cleanup(func() {
		_ = c.Close()
	})
	env.coordinator = c
	return env
}

// debit enlists an account participant on the current transaction.
func (env *testEnv) debit(ctx context.Context, account string, amount int) (*TransactionContext, error) {
	return env.coordinator.Interceptor().Coordinate(ctx, debitMethod, account, amount, nil)
}

// records returns every stored record.
func (env *testEnv) records(t *testing.T) []*Transaction {
	txs, err := env.coordinator.Admin().List(context.Background())
	require.NoError(t, err, "list failed")
	return txs
}

// sweep advances the clock past the recover duration and runs a recovery
// sweep.
func (env *testEnv) sweep(t *testing.T, advance time.Duration) *RecoveryResult {
	env.clock.Advance(advance)
	result, err := env.coordinator.Recovery().StartRecover(context.Background())
	require.NoError(t, err, "recovery sweep failed")
	return result
}
