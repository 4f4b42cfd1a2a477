// Package hub hosts the light controllers: it owns one controller per
// configured strip, serializes calls into each of them, schedules polls and
// publishes state changes on an event bus.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ledstrip-bridge/internal/device"
	"ledstrip-bridge/internal/light"
	"ledstrip-bridge/internal/store"
)

var (
	// ErrUnknownStrip is returned for a host that is not configured.
	ErrUnknownStrip = errors.New("unknown strip")
	// ErrExists is returned when adding a host that is already configured.
	ErrExists = errors.New("strip already exists")
)

// Config holds hub configuration.
type Config struct {
	PollInterval time.Duration
	// RateLimit is the per-strip request rate in requests/second; 0 disables it.
	RateLimit float64
	Burst     int
	// RefreshAfterCommand polls the strip right after a successful command so
	// the cached power and color reflect the device.
	RefreshAfterCommand bool
}

// Device is what the hub needs from a strip client.
type Device interface {
	light.Device
	Info(ctx context.Context) (map[string]any, error)
}

// DeviceFactory creates the client for a strip address.
type DeviceFactory func(host string) Device

// Option configures a Hub.
type Option func(*Hub)

// WithDeviceFactory replaces the default HTTP device client.
func WithDeviceFactory(f DeviceFactory) Option {
	return func(h *Hub) {
		h.newDevice = f
	}
}

// WithDeviceTimeout sets the request timeout of the default device client.
func WithDeviceTimeout(d time.Duration) Option {
	return func(h *Hub) {
		h.deviceTimeout = d
	}
}

type strip struct {
	mu      sync.Mutex // serializes calls into ctrl
	ctrl    *light.Controller
	dev     Device
	limiter *rate.Limiter
}

// Hub manages the configured strips.
type Hub struct {
	store         store.Store
	events        *EventBus
	cfg           Config
	logger        *slog.Logger
	newDevice     DeviceFactory
	deviceTimeout time.Duration

	mu     sync.RWMutex
	strips map[string]*strip

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a hub. Call Load to pick up persisted strips and Start to begin
// polling.
func New(st store.Store, events *EventBus, cfg Config, logger *slog.Logger, opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:         st,
		events:        events,
		cfg:           cfg,
		logger:        logger.With("component", "hub"),
		deviceTimeout: device.DefaultTimeout,
		strips:        make(map[string]*strip),
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.newDevice == nil {
		h.newDevice = func(host string) Device {
			return device.NewClient(host, logger, device.WithTimeout(h.deviceTimeout))
		}
	}
	return h
}

// Events returns the event bus.
func (h *Hub) Events() *EventBus {
	return h.events
}

// Context returns the hub's context, which is cancelled on Stop.
func (h *Hub) Context() context.Context {
	return h.ctx
}

// Load creates controllers for every persisted strip.
func (h *Hub) Load() error {
	strips, err := h.store.ListStrips()
	if err != nil {
		return fmt.Errorf("list strips: %w", err)
	}
	for _, s := range strips {
		h.attach(s.Host, s.Name)
	}
	h.logger.Info("strips loaded", "count", len(strips))
	return nil
}

// Add persists a new strip and starts managing it.
func (h *Hub) Add(host, name string) (light.State, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return light.State{}, fmt.Errorf("add strip: empty host")
	}
	if name == "" {
		name = host
	}

	// The check, the store write and the insert happen under one lock so
	// concurrent adds of the same host cannot both succeed.
	h.mu.Lock()
	if _, exists := h.strips[host]; exists {
		h.mu.Unlock()
		return light.State{}, fmt.Errorf("add strip %s: %w", host, ErrExists)
	}
	if err := h.store.SaveStrip(&store.Strip{Host: host, Name: name}); err != nil {
		h.mu.Unlock()
		return light.State{}, fmt.Errorf("save strip: %w", err)
	}
	s := h.newStrip(host, name)
	h.strips[host] = s
	h.mu.Unlock()

	st := s.ctrl.Snapshot()
	h.logger.Info("strip added", "host", host, "name", name)
	h.events.Emit(Event{Type: EventStripAdded, Data: StateData(st)})
	return st, nil
}

// Rename changes the display name of a strip.
func (h *Hub) Rename(host, name string) (light.State, error) {
	s, err := h.get(host)
	if err != nil {
		return light.State{}, err
	}
	err = h.store.UpdateStrip(host, func(strip *store.Strip) error {
		strip.Name = name
		return nil
	})
	if err != nil {
		return light.State{}, fmt.Errorf("rename strip: %w", err)
	}

	s.mu.Lock()
	s.ctrl.SetName(name)
	st := s.ctrl.Snapshot()
	s.mu.Unlock()

	h.events.Emit(Event{Type: EventStripUpdated, Data: StateData(st)})
	return st, nil
}

// Remove forgets a strip.
func (h *Hub) Remove(host string) error {
	s, err := h.get(host)
	if err != nil {
		return err
	}
	if err := h.store.DeleteStrip(host); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete strip: %w", err)
	}

	h.mu.Lock()
	delete(h.strips, host)
	h.mu.Unlock()

	s.mu.Lock()
	st := s.ctrl.Snapshot()
	s.mu.Unlock()

	h.logger.Info("strip removed", "host", host)
	h.events.Emit(Event{Type: EventStripRemoved, Data: StateData(st)})
	return nil
}

// State returns the cached state of a strip.
func (h *Hub) State(host string) (light.State, error) {
	s, err := h.get(host)
	if err != nil {
		return light.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl.Snapshot(), nil
}

// States returns the cached state of every strip, ordered by host.
func (h *Hub) States() []light.State {
	h.mu.RLock()
	strips := make([]*strip, 0, len(h.strips))
	for _, s := range h.strips {
		strips = append(strips, s)
	}
	h.mu.RUnlock()

	states := make([]light.State, 0, len(strips))
	for _, s := range strips {
		s.mu.Lock()
		states = append(states, s.ctrl.Snapshot())
		s.mu.Unlock()
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Host < states[j].Host })
	return states
}

// Resolve finds a strip by host or, case-insensitively, by display name.
func (h *Hub) Resolve(target string) (string, bool) {
	h.mu.RLock()
	_, ok := h.strips[target]
	h.mu.RUnlock()
	if ok {
		return target, true
	}
	for _, st := range h.States() {
		if strings.EqualFold(st.Name, target) {
			return st.Host, true
		}
	}
	return "", false
}

// TurnOn applies a light intent to a strip.
func (h *Hub) TurnOn(ctx context.Context, host string, in light.Intent) (light.State, error) {
	return h.command(ctx, host, "turn_on", func(ctx context.Context, c *light.Controller) error {
		return c.TurnOn(ctx, in)
	})
}

// TurnOff powers a strip off.
func (h *Hub) TurnOff(ctx context.Context, host string) (light.State, error) {
	return h.command(ctx, host, "turn_off", func(ctx context.Context, c *light.Controller) error {
		return c.TurnOff(ctx)
	})
}

// Poll refreshes one strip from the device.
func (h *Hub) Poll(ctx context.Context, host string) (light.State, error) {
	return h.call(ctx, host, "poll", false, func(ctx context.Context, c *light.Controller) error {
		return c.Poll(ctx)
	})
}

// Info returns the raw diagnostic info reported by a strip.
func (h *Hub) Info(ctx context.Context, host string) (map[string]any, error) {
	s, err := h.get(host)
	if err != nil {
		return nil, err
	}
	if err := waitTurn(ctx, s, host); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.Info(ctx)
}

// PollAll polls every strip once. Failures are logged and reported as events.
func (h *Hub) PollAll(ctx context.Context) {
	for _, st := range h.States() {
		if ctx.Err() != nil {
			return
		}
		if _, err := h.Poll(ctx, st.Host); err != nil {
			h.logger.Warn("poll failed", "host", st.Host, "err", err)
		}
	}
}

// Start launches the poll loop.
func (h *Hub) Start() {
	if h.cfg.PollInterval <= 0 {
		h.logger.Info("polling disabled")
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.PollAll(h.ctx)

		ticker := time.NewTicker(h.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-h.ctx.Done():
				return
			case <-ticker.C:
				h.PollAll(h.ctx)
			}
		}
	}()
	h.logger.Info("polling started", "interval", h.cfg.PollInterval)
}

// Stop cancels the poll loop and waits for it to exit.
func (h *Hub) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *Hub) attach(host, name string) *strip {
	s := h.newStrip(host, name)
	h.mu.Lock()
	h.strips[host] = s
	h.mu.Unlock()
	return s
}

func (h *Hub) newStrip(host, name string) *strip {
	dev := h.newDevice(host)
	limit := rate.Inf
	if h.cfg.RateLimit > 0 {
		limit = rate.Limit(h.cfg.RateLimit)
	}
	burst := h.cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &strip{
		ctrl:    light.NewController(dev, host, name, h.logger),
		dev:     dev,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// waitTurn blocks until the strip's limiter admits a request. The limiter
// reports a wait that would outlive the deadline without wrapping
// context.DeadlineExceeded, so the error is normalized here.
func waitTurn(ctx context.Context, s *strip, host string) error {
	err := s.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("rate limit %s: %w", host, ctxErr)
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("rate limit %s: %w", host, context.DeadlineExceeded)
	}
	return fmt.Errorf("rate limit %s: %w", host, err)
}

func (h *Hub) get(host string) (*strip, error) {
	h.mu.RLock()
	s, ok := h.strips[host]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strip %s: %w", host, ErrUnknownStrip)
	}
	return s, nil
}

func (h *Hub) command(ctx context.Context, host, op string, fn func(context.Context, *light.Controller) error) (light.State, error) {
	return h.call(ctx, host, op, true, fn)
}

// call runs fn under the strip lock and emits the resulting events.
func (h *Hub) call(ctx context.Context, host, op string, isCommand bool, fn func(context.Context, *light.Controller) error) (light.State, error) {
	s, err := h.get(host)
	if err != nil {
		return light.State{}, err
	}
	if err := waitTurn(ctx, s, host); err != nil {
		return light.State{}, err
	}

	s.mu.Lock()
	before := s.ctrl.Snapshot()
	err = fn(ctx, s.ctrl)
	if err == nil && isCommand && h.cfg.RefreshAfterCommand {
		if perr := s.ctrl.Poll(ctx); perr != nil {
			h.logger.Warn("refresh after command failed", "host", host, "op", op, "err", perr)
		}
	}
	after := s.ctrl.Snapshot()
	s.mu.Unlock()

	if before.Available != after.Available {
		h.events.Emit(Event{Type: EventAvailability, Data: StateData(after)})
	}
	if err != nil {
		h.events.Emit(Event{Type: EventCommandFailed, Data: map[string]interface{}{
			"host":  host,
			"op":    op,
			"error": err.Error(),
		}})
		return after, err
	}
	if isCommand || after != before {
		h.events.Emit(Event{Type: EventStateChanged, Data: StateData(after)})
	}
	return after, nil
}
