// Package light keeps the cached presentation state of one LED strip and
// translates light intents into device commands.
package light

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledstrip-bridge/internal/device"
)

// DefaultTransition is used when an intent carries no transition or a zero one.
const DefaultTransition = time.Second

// EffectPlaceholder is the only advertised effect. Selecting it has no
// behavior beyond re-sending the cached color.
const EffectPlaceholder = "test"

// Device is the subset of device.Client the controller drives.
type Device interface {
	Status(ctx context.Context) (device.Status, error)
	SetPower(ctx context.Context, on bool) error
	SetRGBW(ctx context.Context, color device.RGBW, transition time.Duration) error
}

// Intent is a turn-on request. Nil fields are absent; a set field counts as
// present even when zero.
type Intent struct {
	White      *int           `json:"white,omitempty"`
	Brightness *int           `json:"brightness,omitempty"`
	HS         *HueSat        `json:"hs_color,omitempty"`
	Effect     string         `json:"effect,omitempty"`
	Transition *time.Duration `json:"-"`
}

// bare reports whether the intent asks for nothing but power.
func (in Intent) bare() bool {
	return in.White == nil && in.Brightness == nil && in.HS == nil && in.Effect == ""
}

func (in Intent) transition() time.Duration {
	if in.Transition == nil || *in.Transition <= 0 {
		return DefaultTransition
	}
	return *in.Transition
}

// State is a copy of the cached presentation state.
type State struct {
	Host       string    `json:"host"`
	Name       string    `json:"name"`
	On         bool      `json:"on"`
	Brightness float64   `json:"brightness"`
	ColorMode  ColorMode `json:"color_mode"`
	HS         HueSat    `json:"hs_color"`
	Available  bool      `json:"available"`
}

// Controller bridges light intents to one strip. It performs no locking;
// callers serialize access to a given controller.
type Controller struct {
	dev    Device
	host   string
	name   string
	logger *slog.Logger

	on         bool
	brightness float64
	mode       ColorMode
	hs         HueSat
	available  bool
}

// NewController creates a controller for the strip at host.
func NewController(dev Device, host, name string, logger *slog.Logger) *Controller {
	return &Controller{
		dev:       dev,
		host:      host,
		name:      name,
		logger:    logger.With("component", "light", "host", host),
		mode:      ColorModeWhite,
		available: true,
	}
}

// TurnOn applies an intent: a bare intent only powers the strip on, anything
// else sends the resulting color followed by power on.
func (c *Controller) TurnOn(ctx context.Context, in Intent) error {
	if in.bare() {
		return c.track(c.dev.SetPower(ctx, true))
	}

	mode := ColorModeHS
	brightness := c.brightness
	hs := c.hs
	if in.White != nil {
		mode = ColorModeWhite
		brightness = clamp(float64(*in.White), 0, 255)
	}
	if in.Brightness != nil {
		brightness = clamp(float64(*in.Brightness), 0, 255)
	}
	if in.HS != nil {
		hs = in.HS.normalized()
	}

	var rgbw device.RGBW
	switch mode {
	case ColorModeWhite:
		rgbw = WhiteRGBW(brightness)
	default:
		rgbw = HSRGBW(hs, brightness)
	}

	c.logger.Debug("turn on", "mode", mode, "brightness", brightness, "hs", hs, "rgbw", rgbw)

	// Two independent requests; a failure of the second leaves the device
	// colored but not powered. The next poll reconciles.
	if err := c.track(c.dev.SetRGBW(ctx, rgbw, in.transition())); err != nil {
		return fmt.Errorf("turn on %s: %w", c.host, err)
	}
	if err := c.track(c.dev.SetPower(ctx, true)); err != nil {
		return fmt.Errorf("turn on %s: %w", c.host, err)
	}

	c.mode = mode
	c.brightness = brightness
	c.hs = hs
	return nil
}

// TurnOff powers the strip off. The cached color is kept so that a bare turn
// on restores it.
func (c *Controller) TurnOff(ctx context.Context) error {
	if err := c.track(c.dev.SetPower(ctx, false)); err != nil {
		return fmt.Errorf("turn off %s: %w", c.host, err)
	}
	return nil
}

// Poll refreshes the cached state from the device.
func (c *Controller) Poll(ctx context.Context) error {
	st, err := c.dev.Status(ctx)
	if err := c.track(err); err != nil {
		return fmt.Errorf("poll %s: %w", c.host, err)
	}

	r, g, b, w := normalizeStatus(st)
	c.on = st.Power
	if w != 0 {
		c.mode = ColorModeWhite
		c.brightness = w * 255
	} else {
		c.mode = ColorModeHS
		c.hs, c.brightness = FromRGB(r, g, b)
	}
	return nil
}

// track records availability from the outcome of a device call.
func (c *Controller) track(err error) error {
	ok := err == nil
	if ok != c.available {
		c.logger.Info("availability changed", "available", ok)
	}
	c.available = ok
	return err
}

// Snapshot returns a copy of the cached state.
func (c *Controller) Snapshot() State {
	return State{
		Host:       c.host,
		Name:       c.name,
		On:         c.on,
		Brightness: c.brightness,
		ColorMode:  c.mode,
		HS:         c.hs,
		Available:  c.available,
	}
}

// SetName changes the display name.
func (c *Controller) SetName(name string) {
	c.name = name
}
