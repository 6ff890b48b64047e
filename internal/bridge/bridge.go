// Package bridge assembles one emulated Hue bridge: its datastore, control
// loop, API dispatcher, engines, listeners and discovery responders.
package bridge

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huebridge/internal/api"
	"github.com/dokzlo13/huebridge/internal/cert"
	"github.com/dokzlo13/huebridge/internal/datastore"
	"github.com/dokzlo13/huebridge/internal/daylight"
	"github.com/dokzlo13/huebridge/internal/eventbus"
	"github.com/dokzlo13/huebridge/internal/geo"
	"github.com/dokzlo13/huebridge/internal/ledger"
	luart "github.com/dokzlo13/huebridge/internal/lua"
	"github.com/dokzlo13/huebridge/internal/mdns"
	"github.com/dokzlo13/huebridge/internal/rules"
	"github.com/dokzlo13/huebridge/internal/scheduler"
	"github.com/dokzlo13/huebridge/internal/server"
	"github.com/dokzlo13/huebridge/internal/ssdp"
	"github.com/dokzlo13/huebridge/internal/storage/kv"
)

// DefaultLinkButtonWindow is how long a timed link button press lasts.
const DefaultLinkButtonWindow = 30 * time.Second

// Config describes one bridge instance.
type Config struct {
	Name             string
	Network          datastore.Network
	BindAddress      string
	RuleInterval     time.Duration
	HTTP             server.Options
	SSDP             bool
	SSDPInterval     time.Duration
	MDNSHostname     string
	Script           string
	ShutdownTimeout  time.Duration
	LinkButtonWindow time.Duration
}

// Bridge is one emulated bridge. Everything that touches the datastore runs
// on its control loop.
type Bridge struct {
	id     string
	cfg    Config
	logger zerolog.Logger

	ds       *datastore.Datastore
	bus      *eventbus.Bus
	loop     *eventbus.Loop
	disp     *api.Dispatcher
	sched    *scheduler.Scheduler
	rules    *rules.Engine
	daylight *daylight.Engine
	calc     *geo.Calculator
	ledger   *ledger.Ledger
	script   *luart.Runtime
	mdns     *mdns.Responder

	httpPort  atomic.Int32
	httpsPort atomic.Int32

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	linkTimer *time.Timer
}

// Option configures a Bridge.
type Option func(*Bridge, *[]datastore.Option)

// WithLedger records every rule and schedule firing in l.
func WithLedger(l *ledger.Ledger) Option {
	return func(b *Bridge, _ *[]datastore.Option) { b.ledger = l }
}

// WithCalculator shares an astronomical calculator between bridges.
func WithCalculator(calc *geo.Calculator) Option {
	return func(b *Bridge, _ *[]datastore.Option) { b.calc = calc }
}

// WithClock overrides the datastore time source.
func WithClock(now func() time.Time) Option {
	return func(_ *Bridge, ds *[]datastore.Option) { *ds = append(*ds, datastore.WithClock(now)) }
}

// New creates a bridge persisting into bucket. Nothing runs until Start.
func New(bucket kv.Bucket, cfg Config, opts ...Option) *Bridge {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.LinkButtonWindow <= 0 {
		cfg.LinkButtonWindow = DefaultLinkButtonWindow
	}
	if cfg.SSDPInterval <= 0 {
		cfg.SSDPInterval = ssdp.DefaultInterval
	}

	id := datastore.BridgeID(cfg.Network.MAC)
	b := &Bridge{
		id:     id,
		cfg:    cfg,
		logger: log.With().Str("bridge", id).Logger(),
		bus:    eventbus.New(),
	}
	var dsOpts []datastore.Option
	for _, opt := range opts {
		opt(b, &dsOpts)
	}
	if b.calc == nil {
		b.calc = geo.NewCalculator()
	}

	b.ds = datastore.New(bucket, b.bus, cfg.Network, dsOpts...)
	b.loop = eventbus.NewLoop(b.bus, 0, b.flush)
	b.disp = api.NewDispatcher(b.ds)
	b.sched = scheduler.New(b.ds, b.loop.Post, b.fireSchedule)
	b.rules = rules.New(b.ds, b.loop.Post, b.fireRule, cfg.RuleInterval)
	b.daylight = daylight.New(b.ds, b.loop.Post, b.calc)
	return b
}

// BridgeID returns the ID derived from the configured MAC.
func (b *Bridge) BridgeID() string { return b.id }

// Datastore returns the bridge state. Only use it on the control loop.
func (b *Bridge) Datastore() *datastore.Datastore { return b.ds }

// Bus returns the event bus. Subscribing is safe from any goroutine;
// handlers run on the control loop.
func (b *Bridge) Bus() *eventbus.Bus { return b.bus }

// HTTPPort returns the bound HTTP port, or 0 before Start.
func (b *Bridge) HTTPPort() int { return int(b.httpPort.Load()) }

// HTTPSPort returns the bound HTTPS port, or 0 when TLS is off.
func (b *Bridge) HTTPSPort() int { return int(b.httpsPort.Load()) }

// Running reports whether the bridge has been started and not stopped.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Start loads persisted state and starts the engines, listeners and discovery.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bridge %s already running", b.id)
	}
	b.running = true
	b.mu.Unlock()

	if err := b.ds.Load(); err != nil {
		b.setStopped()
		return fmt.Errorf("load bridge %s: %w", b.id, err)
	}
	if b.cfg.Name != "" && b.ds.Config().Name == datastore.DefaultConfig().Name {
		b.ds.SetName(b.cfg.Name)
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.loop.Start()

	b.sched.Subscribe(b.bus)
	b.rules.Subscribe(b.bus, b.loop.Defer)
	b.daylight.Subscribe(b.bus)

	var scriptErr error
	err := b.loop.Do(ctx, func() {
		b.sched.Start()
		b.daylight.Start()
		if b.cfg.Script != "" {
			b.script = luart.NewRuntime(b, b.calc)
			scriptErr = b.script.LoadScript(b.cfg.Script)
		}
	})
	if err == nil {
		err = scriptErr
	}
	if err != nil {
		b.Stop()
		return fmt.Errorf("start bridge %s: %w", b.id, err)
	}

	b.listen(ctx, b.cfg.Network.HTTPPort, b.cfg.HTTP, &b.httpPort, (*datastore.Datastore).SetHTTPPort)
	if b.cfg.Network.HTTPSPort > 0 {
		if c, err := cert.Generate(b.id, time.Now()); err != nil {
			b.logger.Warn().Err(err).Msg("Certificate generation failed, HTTPS disabled")
		} else {
			opts := b.cfg.HTTP
			opts.TLS = cert.TLSConfig(c)
			b.listen(ctx, b.cfg.Network.HTTPSPort, opts, &b.httpsPort, (*datastore.Datastore).SetHTTPSPort)
		}
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.rules.Run(ctx)
	}()

	b.startDiscovery(ctx)

	b.logger.Info().
		Int("http_port", b.HTTPPort()).
		Int("https_port", b.HTTPSPort()).
		Msg("Bridge started")
	return nil
}

// listen binds one listener and reports its port to the datastore. Failures
// are published as http-error and do not stop the bridge.
func (b *Bridge) listen(ctx context.Context, port int, opts server.Options, bound *atomic.Int32, record func(*datastore.Datastore, int)) {
	addr := net.JoinHostPort(b.cfg.BindAddress, strconv.Itoa(port))
	srv := server.New(addr, b, opts)

	actual, err := srv.Listen()
	if err != nil {
		b.httpError(addr, err)
		return
	}
	bound.Store(int32(actual))
	if err := b.loop.Do(ctx, func() { record(b.ds, actual) }); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to record listener port")
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := srv.Run(ctx, b.cfg.ShutdownTimeout); err != nil {
			b.httpError(addr, err)
		}
	}()
}

func (b *Bridge) httpError(addr string, err error) {
	b.logger.Error().Err(err).Str("addr", addr).Msg("Listener failed")
	b.loop.Post(func() {
		b.ds.Emit(eventbus.Event{Type: eventbus.HTTPError, Address: addr, Value: err.Error()})
	})
}

func (b *Bridge) startDiscovery(ctx context.Context) {
	if b.cfg.SSDP {
		var adv ssdp.Advertisement
		err := b.loop.Do(ctx, func() {
			n := b.ds.Network()
			adv = ssdp.Advertisement{Address: n.Address, Port: n.AdvertisedPort(), MAC: n.MAC, BridgeID: b.id}
		})
		if err == nil {
			responder := ssdp.New(adv, b.cfg.SSDPInterval)
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				if err := responder.Run(ctx); err != nil {
					b.logger.Warn().Err(err).Msg("SSDP responder stopped")
				}
			}()
		}
	}

	if b.cfg.MDNSHostname != "" {
		r, err := mdns.Start(b.cfg.MDNSHostname)
		if err != nil {
			b.logger.Warn().Err(err).Msg("mDNS responder unavailable")
			return
		}
		b.mdns = r
	}
}

// Stop stops the rule tick, cancels schedule jobs and the daylight timer,
// closes listeners and discovery, flushes state and closes the loop.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	if b.linkTimer != nil {
		b.linkTimer.Stop()
		b.linkTimer = nil
	}
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ShutdownTimeout)
	defer cancel()

	b.sched.Stop(ctx)
	b.daylight.Stop()
	if b.mdns != nil {
		if err := b.mdns.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("mDNS close")
		}
		b.mdns = nil
	}
	b.wg.Wait()

	// The turn ends with a flush.
	_ = b.loop.Do(ctx, func() {
		if b.script != nil {
			b.script.Close()
		}
	})
	b.loop.Close(ctx)
	b.logger.Info().Msg("Bridge stopped")
}

func (b *Bridge) setStopped() {
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
}

// flush runs after every loop turn.
func (b *Bridge) flush() {
	if err := b.ds.Flush(); err != nil {
		b.logger.Error().Err(err).Msg("Failed to persist bridge state")
	}
}

// ServeAPI dispatches r on the control loop. Events raised by the request are
// held back until commit, so the client sees its response before any rule reacts.
func (b *Bridge) ServeAPI(ctx context.Context, r *api.Request) (*api.Recorder, func(), error) {
	rec := &api.Recorder{}
	var events []eventbus.Event
	err := b.loop.Do(ctx, func() {
		b.disp.Dispatch(rec, r)
		events = b.bus.Take()
	})
	if err != nil {
		return nil, nil, err
	}

	commit := func() {
		if len(events) == 0 {
			return
		}
		if !b.loop.Post(func() { b.bus.Deliver(events) }) {
			b.logger.Debug().Int("events", len(events)).Msg("Loop closed, dropping request events")
		}
	}
	return rec, commit, nil
}

// Dispatch runs a request through the API and returns the response. Must run
// on the control loop.
func (b *Bridge) Dispatch(method, path string, body []byte) *api.Recorder {
	rec := &api.Recorder{}
	b.disp.Dispatch(rec, api.NewRequest(method, path, body))
	return rec
}

// Do runs fn against the datastore on the control loop and waits for it.
func (b *Bridge) Do(ctx context.Context, fn func(ds *datastore.Datastore)) error {
	return b.loop.Do(ctx, func() { fn(b.ds) })
}

// PressLinkButton presses the link button for d (DefaultLinkButtonWindow
// when d is zero). Must run on the control loop.
func (b *Bridge) PressLinkButton(d time.Duration) {
	if d <= 0 {
		d = b.cfg.LinkButtonWindow
	}
	b.ds.SetLinkButton(true)
	b.logger.Info().Dur("window", d).Msg("Link button pressed")

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.linkTimer != nil {
		b.linkTimer.Stop()
	}
	b.linkTimer = time.AfterFunc(d, func() {
		b.loop.Post(func() {
			b.ds.SetLinkButton(false)
			b.logger.Debug().Msg("Link button released")
		})
	})
}

// fireRule replays a rule action on behalf of the rule owner.
func (b *Bridge) fireRule(ruleID, owner string, action datastore.Action) {
	b.replay(ledger.KindRule, ruleID, action.Method, "/api/"+owner+action.Address, action.Body)
}

// fireSchedule replays a schedule command. Its address already carries the username.
func (b *Bridge) fireSchedule(id string, cmd datastore.Command) {
	b.replay(ledger.KindSchedule, id, cmd.Method, cmd.Address, cmd.Body)
}

func (b *Bridge) replay(kind ledger.Kind, sourceID, method, path string, body []byte) {
	b.logger.Debug().
		Str("kind", string(kind)).
		Str("id", sourceID).
		Str("method", method).
		Str("path", path).
		Msg("Replaying action")

	b.disp.Dispatch(api.Discard{}, api.NewRequest(method, path, body))

	if b.ledger == nil {
		return
	}
	if err := b.ledger.Append(b.id, kind, sourceID, method, path, body); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to record firing")
	}
}
