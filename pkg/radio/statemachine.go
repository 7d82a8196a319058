package radio

import (
	"sync"
	"time"

	"github.com/rigd-project/rigd/pkg/logging"
)

// Defaults for the state machine's scheduling policy. The fixed reconnect
// delay with unlimited retries is deliberate; both knobs are configurable.
const (
	DefaultHealthInterval = 3 * time.Second
	DefaultReconnectDelay = 5 * time.Second
)

type smEventKind int

const (
	smConnect smEventKind = iota
	smDisconnect
	smConnectOK
	smConnectFail
	smHealthFail
	smRetryTick
	smManualReconnect
	smFatal
	smStop
)

type smInput struct {
	kind   smEventKind
	reason string
	err    error
}

// Context is the mutable data owned by the state machine actor. It is
// created when the actor starts, mutated only by the actor's own
// transition handlers, and readers get copies.
type Context struct {
	Config            RadioConfig
	Healthy           bool
	LastError         error
	ReconnectAttempts int
}

// Callbacks inject all transport behavior into the actor. The actor owns
// no transport logic itself, which keeps reconnection policy testable
// without hardware.
type Callbacks struct {
	OnConnect     func(cfg RadioConfig) error
	OnDisconnect  func(reason string)
	OnHealthCheck func() bool
	OnStateChange func(state ConnectionState, ctx Context)
	OnError       func(err error)
}

// StateMachinePolicy tunes scheduling. Zero values take the defaults;
// MaxReconnectAttempts == 0 means retry forever.
type StateMachinePolicy struct {
	HealthInterval       time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

type smWaiter struct {
	target ConnectionState
	ch     chan struct{}
}

// StateMachine is an explicit actor owning connect/disconnect/reconnect
// policy. Exactly one current state; transitions happen only through the
// actor's event queue, never by direct mutation from backends.
type StateMachine struct {
	policy   StateMachinePolicy
	cb       Callbacks
	configFn func() RadioConfig

	events chan smInput
	done   chan struct{}

	mu      sync.Mutex
	state   ConnectionState
	ctxData Context
	waiters []smWaiter
	running bool

	// actor-local, touched only inside run()
	attemptActive bool
	retryTimer    *time.Timer
	healthTicker  *time.Ticker
}

// NewStateMachine constructs the actor. configFn supplies the latest
// externally-owned configuration; reconnects re-read it so a mid-reconnect
// reconfiguration is not lost to a stale snapshot.
func NewStateMachine(policy StateMachinePolicy, cb Callbacks, configFn func() RadioConfig) *StateMachine {
	if policy.HealthInterval <= 0 {
		policy.HealthInterval = DefaultHealthInterval
	}
	if policy.ReconnectDelay <= 0 {
		policy.ReconnectDelay = DefaultReconnectDelay
	}
	return &StateMachine{
		policy:   policy,
		cb:       cb,
		configFn: configFn,
		events:   make(chan smInput, 16),
		done:     make(chan struct{}),
		state:    StateDisconnected,
	}
}

// Start launches the actor goroutine.
func (sm *StateMachine) Start() {
	sm.mu.Lock()
	if sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = true
	sm.mu.Unlock()
	go sm.run()
}

// Stop terminates the actor. Pending waiters are released.
func (sm *StateMachine) Stop() {
	sm.mu.Lock()
	if !sm.running {
		sm.mu.Unlock()
		return
	}
	sm.running = false
	sm.mu.Unlock()

	select {
	case sm.events <- smInput{kind: smStop}:
	case <-sm.done:
	}
	<-sm.done
}

// Connect requests a transition to CONNECTING.
func (sm *StateMachine) Connect() { sm.post(smInput{kind: smConnect}) }

// Disconnect requests a transition to DISCONNECTED.
func (sm *StateMachine) Disconnect(reason string) {
	sm.post(smInput{kind: smDisconnect, reason: reason})
}

// ManualReconnect cancels any pending automatic retry, resets the attempt
// counter and issues a fresh connect.
func (sm *StateMachine) ManualReconnect() { sm.post(smInput{kind: smManualReconnect}) }

// NotifyHealthFailure feeds an out-of-band failure (backend error event or
// failed user operation) into the actor. Health failures and operation
// failures funnel through this single channel so there is one arbiter of
// "should we reconnect now".
func (sm *StateMachine) NotifyHealthFailure(err error) {
	sm.post(smInput{kind: smHealthFail, err: err})
}

// NotifyFatal reports a non-recoverable callback error. The actor parks in
// ERROR; a fresh Connect can still leave it.
func (sm *StateMachine) NotifyFatal(err error) { sm.post(smInput{kind: smFatal, err: err}) }

// State returns the current state.
func (sm *StateMachine) State() ConnectionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Snapshot returns a copy of the actor context.
func (sm *StateMachine) Snapshot() Context {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ctxData
}

// WaitForState blocks until the actor reaches target or the timeout
// elapses. A timeout fails the wait without touching the actor's state.
func (sm *StateMachine) WaitForState(target ConnectionState, timeout time.Duration) bool {
	sm.mu.Lock()
	if sm.state == target {
		sm.mu.Unlock()
		return true
	}
	w := smWaiter{target: target, ch: make(chan struct{})}
	sm.waiters = append(sm.waiters, w)
	sm.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ch:
		return true
	case <-sm.done:
		return false
	case <-timer.C:
		sm.removeWaiter(w)
		return false
	}
}

func (sm *StateMachine) removeWaiter(w smWaiter) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for i := range sm.waiters {
		if sm.waiters[i].ch == w.ch {
			sm.waiters = append(sm.waiters[:i], sm.waiters[i+1:]...)
			return
		}
	}
}

func (sm *StateMachine) post(in smInput) {
	select {
	case sm.events <- in:
	case <-sm.done:
	}
}

func (sm *StateMachine) run() {
	defer close(sm.done)
	defer sm.stopTimers()

	// the ticker channel is swapped in and out as health checking starts
	// and stops; a nil channel never fires in select
	var healthC <-chan time.Time
	var retryC <-chan time.Time

	for {
		if sm.healthTicker != nil {
			healthC = sm.healthTicker.C
		} else {
			healthC = nil
		}
		if sm.retryTimer != nil {
			retryC = sm.retryTimer.C
		} else {
			retryC = nil
		}

		select {
		case in := <-sm.events:
			if in.kind == smStop {
				return
			}
			sm.handle(in)

		case <-healthC:
			if sm.State() != StateConnected || sm.cb.OnHealthCheck == nil {
				continue
			}
			if !sm.cb.OnHealthCheck() {
				// model the failed check as an input event, not a direct
				// state mutation
				sm.handle(smInput{kind: smHealthFail, err: Errf(ErrConnectionLost, "health check failed")})
			}

		case <-retryC:
			sm.retryTimer = nil
			sm.handle(smInput{kind: smRetryTick})
		}
	}
}

func (sm *StateMachine) handle(in smInput) {
	state := sm.State()

	switch in.kind {
	case smConnect:
		if state == StateConnecting || state == StateConnected {
			return
		}
		sm.stopRetryTimer()
		sm.transition(StateConnecting)
		sm.startAttempt()

	case smManualReconnect:
		sm.stopRetryTimer()
		sm.mutate(func(c *Context) { c.ReconnectAttempts = 0 })
		sm.transition(StateConnecting)
		sm.startAttempt()

	case smDisconnect:
		sm.stopTimers()
		if sm.cb.OnDisconnect != nil {
			sm.cb.OnDisconnect(in.reason)
		}
		sm.mutate(func(c *Context) {
			c.Healthy = false
			c.ReconnectAttempts = 0
		})
		sm.transition(StateDisconnected)

	case smConnectOK:
		sm.attemptActive = false
		if state != StateConnecting && state != StateReconnecting {
			// the caller moved on (disconnect raced the attempt); the
			// result is stale and must not resurrect the connection
			return
		}
		sm.mutate(func(c *Context) {
			c.Healthy = true
			c.LastError = nil
			c.ReconnectAttempts = 0
		})
		sm.startHealthTicker()
		sm.transition(StateConnected)

	case smConnectFail:
		sm.attemptActive = false
		if state != StateConnecting && state != StateReconnecting {
			return
		}
		sm.mutate(func(c *Context) { c.LastError = in.err })
		if sm.cb.OnError != nil && in.err != nil {
			sm.cb.OnError(in.err)
		}
		// connect failures are treated the same as post-connect losses:
		// always retry, never terminally fail on the first attempt
		sm.scheduleRetry()

	case smHealthFail:
		if state != StateConnected {
			return
		}
		logging.Warnf("statemachine", "connection unhealthy: %v", in.err)
		sm.stopHealthTicker()
		sm.mutate(func(c *Context) {
			c.Healthy = false
			c.LastError = in.err
		})
		sm.scheduleRetry()

	case smRetryTick:
		if sm.State() != StateReconnecting || sm.attemptActive {
			return
		}
		sm.startAttempt()

	case smFatal:
		sm.stopTimers()
		sm.mutate(func(c *Context) {
			c.Healthy = false
			c.LastError = in.err
		})
		if sm.cb.OnError != nil && in.err != nil {
			sm.cb.OnError(in.err)
		}
		sm.transition(StateError)
	}
}

// startAttempt launches a single connect attempt. Attempts are strictly
// sequential: a new one is never started while a previous one is
// outstanding.
func (sm *StateMachine) startAttempt() {
	if sm.attemptActive {
		return
	}
	sm.attemptActive = true

	cfg := sm.configFn()
	sm.mutate(func(c *Context) { c.Config = cfg })

	go func() {
		var err error
		if sm.cb.OnConnect != nil {
			err = sm.cb.OnConnect(cfg)
		}
		if err != nil {
			sm.post(smInput{kind: smConnectFail, err: err})
		} else {
			sm.post(smInput{kind: smConnectOK})
		}
	}()
}

func (sm *StateMachine) scheduleRetry() {
	attempts := sm.Snapshot().ReconnectAttempts
	if sm.policy.MaxReconnectAttempts > 0 && attempts >= sm.policy.MaxReconnectAttempts {
		err := Errf(ErrReconnectMaxAttempts, "gave up after %d attempts", attempts)
		if sm.cb.OnError != nil {
			sm.cb.OnError(err)
		}
		sm.mutate(func(c *Context) { c.LastError = err })
		sm.transition(StateError)
		return
	}

	sm.mutate(func(c *Context) { c.ReconnectAttempts++ })
	sm.transition(StateReconnecting)
	sm.stopRetryTimer()
	sm.retryTimer = time.NewTimer(sm.policy.ReconnectDelay)
}

func (sm *StateMachine) transition(next ConnectionState) {
	sm.mu.Lock()
	prev := sm.state
	sm.state = next
	ctx := sm.ctxData

	var released []smWaiter
	if prev != next {
		kept := sm.waiters[:0]
		for _, w := range sm.waiters {
			if w.target == next {
				released = append(released, w)
			} else {
				kept = append(kept, w)
			}
		}
		sm.waiters = kept
	}
	sm.mu.Unlock()

	if prev == next {
		return
	}

	logging.Debugf("statemachine", "state %s -> %s (attempts=%d)", prev, next, ctx.ReconnectAttempts)

	for _, w := range released {
		close(w.ch)
	}
	if sm.cb.OnStateChange != nil {
		sm.cb.OnStateChange(next, ctx)
	}
}

func (sm *StateMachine) mutate(fn func(*Context)) {
	sm.mu.Lock()
	fn(&sm.ctxData)
	sm.mu.Unlock()
}

func (sm *StateMachine) startHealthTicker() {
	sm.stopHealthTicker()
	sm.healthTicker = time.NewTicker(sm.policy.HealthInterval)
}

func (sm *StateMachine) stopHealthTicker() {
	if sm.healthTicker != nil {
		sm.healthTicker.Stop()
		sm.healthTicker = nil
	}
}

func (sm *StateMachine) stopRetryTimer() {
	if sm.retryTimer != nil {
		sm.retryTimer.Stop()
		sm.retryTimer = nil
	}
}

func (sm *StateMachine) stopTimers() {
	sm.stopHealthTicker()
	sm.stopRetryTimer()
}
