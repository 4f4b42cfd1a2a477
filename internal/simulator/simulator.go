// Package simulator emulates the LED strip firmware's HTTP command endpoint.
//
// It keeps the same observable behavior as the device: channels are clamped to
// [0,1], a missing transition time defaults to one second, power changes fade
// over at least one second, and get_status reports the target color (not the
// color currently being faded through).
package simulator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultMAC is reported by get_info unless overridden.
const DefaultMAC = "A4:CF:12:00:00:01"

// Command is a request received by the simulator.
type Command struct {
	Method string         `json:"method"`
	Param  map[string]any `json:"param,omitempty"`
}

// Color is the simulated target color.
type Color struct {
	R, G, B, W float64
}

// Device is an in-memory strip that serves the command endpoint.
type Device struct {
	mu         sync.Mutex
	mac        string
	on         bool
	target     Color
	transition time.Duration
	received   []Command
	failNext   int
	logger     *slog.Logger
}

// New creates a simulated strip that starts powered off and dark.
func New(logger *slog.Logger) *Device {
	return &Device{
		mac:    DefaultMAC,
		logger: logger.With("component", "simulator"),
	}
}

// SetMAC changes the address reported by get_info.
func (d *Device) SetMAC(mac string) {
	d.mu.Lock()
	d.mac = mac
	d.mu.Unlock()
}

// SetState overwrites power and target color, as if set from the device side.
func (d *Device) SetState(on bool, c Color) {
	d.mu.Lock()
	d.on = on
	d.target = c
	d.mu.Unlock()
}

// State returns the current power and target color.
func (d *Device) State() (bool, Color) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on, d.target
}

// Transition returns the fade duration pending on the device.
func (d *Device) Transition() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transition
}

// FailNext makes the next n requests answer 500.
func (d *Device) FailNext(n int) {
	d.mu.Lock()
	d.failNext = n
	d.mu.Unlock()
}

// Commands returns a copy of every well-formed command received so far.
func (d *Device) Commands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Command, len(d.received))
	copy(out, d.received)
	return out
}

// Methods returns the method names of the received commands, in order.
func (d *Device) Methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.received))
	for _, c := range d.received {
		out = append(out, c.Method)
	}
	return out
}

// Reset clears the received command log.
func (d *Device) Reset() {
	d.mu.Lock()
	d.received = nil
	d.mu.Unlock()
}

// ServeHTTP implements http.Handler.
func (d *Device) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")
	if r.Method != http.MethodPost || r.URL.Path != "/command" {
		http.NotFound(w, r)
		return
	}

	var cmd Command
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failNext > 0 {
		d.failNext--
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	d.received = append(d.received, cmd)
	d.logger.Debug("command", "method", cmd.Method)

	var res map[string]any
	switch cmd.Method {
	case "set_rgbw":
		d.transition = time.Second
		if ms, ok := number(cmd.Param["time"]); ok && ms > 0 {
			d.transition = time.Duration(ms) * time.Millisecond
		}
		d.target = Color{
			R: channel(cmd.Param["r"]),
			G: channel(cmd.Param["g"]),
			B: channel(cmd.Param["b"]),
			W: channel(cmd.Param["w"]),
		}
	case "set_power":
		d.on, _ = cmd.Param["value"].(bool)
		if !d.on || d.transition < time.Second {
			d.transition = time.Second
		}
	case "get_status":
		// Channels are single precision on the device.
		res = map[string]any{
			"power": d.on,
			"r":     float32(d.target.R),
			"g":     float32(d.target.G),
			"b":     float32(d.target.B),
			"w":     float32(d.target.W),
		}
	case "get_info":
		res = map[string]any{"mac": d.mac}
	default:
		http.NotFound(w, r)
		return
	}

	w.WriteHeader(http.StatusOK)
	if res != nil {
		json.NewEncoder(w).Encode(res)
	}
}

func number(v any) (float64, bool) {
	n, ok := v.(float64)
	return n, ok
}

func channel(v any) float64 {
	n, _ := number(v)
	return min(max(n, 0), 1)
}
