package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/eapache/queue"
	"golang.org/x/time/rate"

	"github.com/rickgao/tokenfeed/internal/frame"
	"github.com/rickgao/tokenfeed/internal/metrics"
	"github.com/rickgao/tokenfeed/internal/router"
)

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("connection manager already started")

// Manager owns the single stream connection and its subscriptions.
//
// Connect, Subscribe, Unsubscribe and Disconnect never block: they enqueue a
// command for the manager loop and return.
type Manager interface {
	// Start runs the manager loop until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop shuts the loop down, releases the transport and closes Frames.
	Stop(ctx context.Context) error

	// Connect dials url with token. No-op unless disconnected.
	Connect(url, token string)

	// Subscribe records channel and sends a subscribe once connected.
	Subscribe(channel string, params frame.Params)

	// Unsubscribe forgets channel and sends an unsubscribe if connected.
	Unsubscribe(channel string)

	// Disconnect releases the transport. Subscriptions are kept and replayed
	// by a later Connect.
	Disconnect()

	// Frames returns the buffer of decoded, non-ping frames.
	Frames() *router.GrowableBuffer[frame.Frame]

	// State returns the current connection state.
	State() State

	// Watch returns a channel of state changes and a func that stops the
	// watch. A watcher that falls behind misses changes.
	Watch() (<-chan StateChange, func())

	// Stats returns current connection and subscription statistics.
	Stats() ManagerStats
}

// Option configures a Manager.
type Option func(*manager)

// WithDialer replaces the WebSocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(m *manager) {
		m.dial = dial
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *manager) {
		m.metrics = mt
	}
}

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdSubscribe
	cmdUnsubscribe
	cmdDisconnect
)

// command is a caller request processed by the manager loop.
type command struct {
	kind    commandKind
	url     string
	token   string
	channel string
	params  frame.Params
}

// dialResult is posted back to the loop by a dial goroutine.
type dialResult struct {
	gen    uint64
	client Client
	err    error
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	dial    DialFunc

	// Output to the Channel Router
	frames *router.GrowableBuffer[frame.Frame]

	// Command queue; wake carries at most one pending signal
	cmdMu sync.Mutex
	cmds  *queue.Queue
	wake  chan struct{}

	dialResults chan dialResult

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	// Loop-owned state
	url        string
	token      string
	subs       *subscriptionTable
	client     Client
	gen        uint64
	dialCancel context.CancelFunc
	backoff    *backoff.ExponentialBackOff
	limiter    *rate.Limiter
	outbox     []frame.Control
	retryTimer *time.Timer
	heartbeat  *time.Timer
	sendTimer  *time.Timer

	state atomic.Int32

	watchMu   sync.Mutex
	watchers  map[uint64]chan StateChange
	nextWatch uint64

	// Stats
	dialAttempts   atomic.Int64
	reconnects     atomic.Int64
	framesReceived atomic.Int64
	pingsReceived  atomic.Int64
	decodeErrors   atomic.Int64
	controlSent    atomic.Int64
	subCount       atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = withManagerDefaults(cfg)

	m := &manager{
		cfg:         cfg,
		logger:      logger,
		dial:        Dial,
		frames:      router.NewGrowableBuffer[frame.Frame](cfg.FrameBufferSize),
		cmds:        queue.New(),
		wake:        make(chan struct{}, 1),
		dialResults: make(chan dialResult),
		subs:        newSubscriptionTable(),
		watchers:    make(map[uint64]chan StateChange),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.backoff = newReconnectBackOff(cfg)

	limit := rate.Inf
	if cfg.ControlRate > 0 {
		limit = rate.Limit(cfg.ControlRate)
	}
	m.limiter = rate.NewLimiter(limit, cfg.ControlBurst)

	m.metrics.SetConnectionState(StateDisconnected.String())
	return m
}

func withManagerDefaults(cfg ManagerConfig) ManagerConfig {
	def := DefaultManagerConfig()
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.ReconnectMaxExp <= 0 {
		cfg.ReconnectMaxExp = def.ReconnectMaxExp
	}
	if cfg.ControlBurst < 1 {
		cfg.ControlBurst = 1
	}
	if cfg.FrameBufferSize <= 0 {
		cfg.FrameBufferSize = def.FrameBufferSize
	}
	if cfg.WatchBufferSize <= 0 {
		cfg.WatchBufferSize = def.WatchBufferSize
	}
	return cfg
}

// newReconnectBackOff yields base, 2*base, 4*base... capped at
// min(maxDelay, base*2^maxExp), without jitter.
func newReconnectBackOff(cfg ManagerConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectBaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = ReconnectDelay(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.ReconnectMaxExp, cfg.ReconnectMaxExp)
	b.Reset()
	return b
}

// Start begins the manager loop.
func (m *manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started")
	return nil
}

// Stop gracefully shuts down the manager.
func (m *manager) Stop(ctx context.Context) error {
	if !m.started.Load() {
		m.frames.Close()
		return nil
	}

	m.logger.Info("stopping connection manager")
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}

	m.logger.Info("connection manager stopped")
	return nil
}

func (m *manager) Connect(url, token string) {
	m.enqueue(command{kind: cmdConnect, url: url, token: token})
}

func (m *manager) Subscribe(channel string, params frame.Params) {
	m.enqueue(command{kind: cmdSubscribe, channel: channel, params: params})
}

func (m *manager) Unsubscribe(channel string) {
	m.enqueue(command{kind: cmdUnsubscribe, channel: channel})
}

func (m *manager) Disconnect() {
	m.enqueue(command{kind: cmdDisconnect})
}

// Frames returns the frame buffer.
func (m *manager) Frames() *router.GrowableBuffer[frame.Frame] {
	return m.frames
}

// State returns the current state.
func (m *manager) State() State {
	return State(m.state.Load())
}

// Watch registers a state watcher.
func (m *manager) Watch() (<-chan StateChange, func()) {
	ch := make(chan StateChange, m.cfg.WatchBufferSize)

	m.watchMu.Lock()
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = ch
	m.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.watchMu.Lock()
			defer m.watchMu.Unlock()
			if c, ok := m.watchers[id]; ok {
				delete(m.watchers, id)
				close(c)
			}
		})
	}
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	return ManagerStats{
		State:          m.State(),
		DialAttempts:   m.dialAttempts.Load(),
		Reconnects:     m.reconnects.Load(),
		FramesReceived: m.framesReceived.Load(),
		PingsReceived:  m.pingsReceived.Load(),
		DecodeErrors:   m.decodeErrors.Load(),
		ControlSent:    m.controlSent.Load(),
		Subscriptions:  int(m.subCount.Load()),
		FrameBuffer:    m.frames.Stats(),
	}
}

func (m *manager) enqueue(cmd command) {
	m.cmdMu.Lock()
	m.cmds.Add(cmd)
	m.cmdMu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *manager) nextCommand() (command, bool) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()
	if m.cmds.Length() == 0 {
		return command{}, false
	}
	return m.cmds.Remove().(command), true
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// run is the manager loop. It is the only goroutine that touches
// loop-owned state.
func (m *manager) run() {
	defer m.wg.Done()

	// Commands queued before Start.
	m.drainCommands()

	for {
		var msgs <-chan TimestampedMessage
		var errs <-chan error
		if m.client != nil {
			msgs = m.client.Messages()
			errs = m.client.Errors()
		}

		select {
		case <-m.ctx.Done():
			m.shutdown()
			return

		case <-m.wake:
			m.drainCommands()

		case res := <-m.dialResults:
			m.handleDialResult(res)

		case msg := <-msgs:
			m.handleMessage(msg)

		case err := <-errs:
			m.handleTransportError(err)

		case <-timerC(m.heartbeat):
			m.heartbeat = nil
			m.logger.Warn("heartbeat timeout", "timeout", m.cfg.HeartbeatTimeout)
			m.handleTransportError(ErrHeartbeat)

		case <-timerC(m.retryTimer):
			m.retryTimer = nil
			m.retryDial()

		case <-timerC(m.sendTimer):
			m.sendTimer = nil
			m.flushOutbox()
		}
	}
}

func (m *manager) drainCommands() {
	for {
		cmd, ok := m.nextCommand()
		if !ok {
			return
		}
		m.handleCommand(cmd)
	}
}

func (m *manager) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdConnect:
		if st := m.State(); st != StateDisconnected {
			m.logger.Debug("connect ignored", "state", st)
			return
		}
		m.url = cmd.url
		m.token = cmd.token
		m.startDial()

	case cmdSubscribe:
		m.subs.put(cmd.channel, cmd.params)
		m.subCount.Store(int64(m.subs.len()))
		if m.State() == StateReconnecting && m.retryTimer == nil {
			// Reconnect was paused for lack of subscriptions.
			m.retryDial()
			return
		}
		if m.State() == StateConnected {
			m.enqueueControl(frame.Control{
				Action:  frame.ActionSubscribe,
				Channel: cmd.channel,
				Params:  cmd.params,
			})
		} else {
			m.logger.Debug("subscription queued", "channel", cmd.channel, "state", m.State())
		}

	case cmdUnsubscribe:
		existed := m.subs.remove(cmd.channel)
		m.subCount.Store(int64(m.subs.len()))
		if existed && m.State() == StateConnected {
			m.enqueueControl(frame.Control{
				Action:  frame.ActionUnsubscribe,
				Channel: cmd.channel,
			})
		}

	case cmdDisconnect:
		if m.State() == StateDisconnected {
			return
		}
		m.setState(StateClosing, nil)
		m.releaseTransport()
		m.setState(StateDisconnected, nil)
	}
}

// startDial opens a connection on a helper goroutine.
func (m *manager) startDial() {
	m.gen++
	gen := m.gen

	ctx, cancel := context.WithCancel(m.ctx)
	m.dialCancel = cancel

	cfg := m.cfg.Client
	cfg.URL = m.url
	cfg.Token = m.token

	m.dialAttempts.Add(1)
	m.setState(StateConnecting, nil)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		var c Client
		var err error
		if cfg.URL == "" {
			err = ErrNoURL
		} else {
			c, err = m.dial(ctx, cfg, m.logger)
		}

		select {
		case m.dialResults <- dialResult{gen: gen, client: c, err: err}:
		case <-m.ctx.Done():
			if c != nil {
				c.Close()
			}
		}
	}()
}

func (m *manager) handleDialResult(res dialResult) {
	if res.gen != m.gen || m.State() != StateConnecting {
		// Superseded by a Disconnect or a newer dial.
		if res.client != nil {
			res.client.Close()
		}
		return
	}

	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}

	if res.err != nil {
		m.scheduleReconnect(fmt.Errorf("dial: %w", res.err))
		return
	}

	m.client = res.client
	m.outbox = nil
	m.backoff.Reset()
	m.setState(StateConnected, nil)

	if m.cfg.HeartbeatTimeout > 0 {
		m.heartbeat = time.NewTimer(m.cfg.HeartbeatTimeout)
	}

	subs := m.subs.all()
	if len(subs) > 0 {
		m.logger.Info("replaying subscriptions", "count", len(subs))
	}
	for _, s := range subs {
		if m.client == nil {
			// A failed send already scheduled the next attempt, which
			// replays the table from scratch.
			return
		}
		m.enqueueControl(frame.Control{
			Action:  frame.ActionSubscribe,
			Channel: s.channel,
			Params:  s.params,
		})
	}
}

// scheduleReconnect drops the transport and arms the retry timer.
func (m *manager) scheduleReconnect(cause error) {
	m.releaseTransport()

	delay := m.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = m.cfg.ReconnectMaxDelay
	}

	m.reconnects.Add(1)
	m.metrics.IncReconnects()
	m.setState(StateReconnecting, cause)

	m.logger.Warn("stream connection lost, reconnecting",
		"delay", delay,
		"error", cause,
	)
	m.retryTimer = time.NewTimer(delay)
}

// retryDial redials after a backoff wait. With no subscriptions nothing
// needs the stream, so the manager stays reconnecting until the next
// Subscribe.
func (m *manager) retryDial() {
	if m.State() != StateReconnecting {
		return
	}
	if m.subs.len() == 0 {
		m.logger.Info("reconnect paused, no subscriptions")
		return
	}
	m.startDial()
}

func (m *manager) handleTransportError(err error) {
	if m.client == nil {
		return
	}
	m.scheduleReconnect(err)
}

func (m *manager) handleMessage(msg TimestampedMessage) {
	if m.heartbeat != nil {
		m.heartbeat.Reset(m.cfg.HeartbeatTimeout)
	}
	m.framesReceived.Add(1)

	f, err := frame.Decode(msg.Data, msg.ReceivedAt)
	if err != nil {
		m.decodeErrors.Add(1)
		m.metrics.IncFrameDropped(metrics.DropDecodeError)
		m.logger.Warn("dropping malformed frame",
			"error", err,
			"bytes", len(msg.Data),
		)
		return
	}
	m.metrics.IncFrameReceived(f.Kind.String())

	if f.Kind == frame.KindPing {
		m.pingsReceived.Add(1)
		return
	}

	m.frames.Send(f)
}

// enqueueControl appends c to the outbox and flushes unless a paced send
// is already pending. Without a client c is dropped.
func (m *manager) enqueueControl(c frame.Control) {
	if m.client == nil {
		return
	}
	m.outbox = append(m.outbox, c)
	if m.sendTimer == nil {
		m.flushOutbox()
	}
}

func (m *manager) flushOutbox() {
	for len(m.outbox) > 0 && m.client != nil {
		r := m.limiter.Reserve()
		if d := r.Delay(); d > 0 {
			r.Cancel()
			m.sendTimer = time.NewTimer(d)
			return
		}

		c := m.outbox[0]
		m.outbox = m.outbox[1:]

		data, err := c.Encode()
		if err != nil {
			m.logger.Error("failed to encode control message",
				"action", c.Action,
				"channel", c.Channel,
				"error", err,
			)
			continue
		}

		if err := m.client.Send(data); err != nil {
			m.scheduleReconnect(fmt.Errorf("send %s %s: %w", c.Action, c.Channel, err))
			return
		}

		m.controlSent.Add(1)
		m.metrics.IncControl(c.Action)
		m.logger.Debug("control message sent", "action", c.Action, "channel", c.Channel)
	}
}

// releaseTransport cancels any dial, stops timers and closes the client.
// Pending control messages are discarded; the subscription table is the
// source of truth for the next connect.
func (m *manager) releaseTransport() {
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	for _, t := range []*time.Timer{m.retryTimer, m.heartbeat, m.sendTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.retryTimer, m.heartbeat, m.sendTimer = nil, nil, nil
	m.outbox = nil

	if m.client != nil {
		if err := m.client.Close(); err != nil {
			m.logger.Debug("error closing client", "error", err)
		}
		m.client = nil
	}
}

func (m *manager) shutdown() {
	if m.State() != StateDisconnected {
		m.setState(StateClosing, nil)
		m.releaseTransport()
		m.setState(StateDisconnected, nil)
	}
	m.frames.Close()

	m.watchMu.Lock()
	for id, ch := range m.watchers {
		delete(m.watchers, id)
		close(ch)
	}
	m.watchMu.Unlock()
}

func (m *manager) setState(to State, cause error) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}

	m.metrics.SetConnectionState(to.String())

	attrs := []any{"from", from.String(), "to", to.String()}
	if cause != nil {
		attrs = append(attrs, "error", cause)
	}
	m.logger.Info("connection state changed", attrs...)

	change := StateChange{From: from, To: to, At: time.Now(), Err: cause}

	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- change:
		default:
			m.logger.Debug("state watcher behind, dropping change", "to", to.String())
		}
	}
}
