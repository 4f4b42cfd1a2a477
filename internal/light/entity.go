package light

import "context"

// Entity is the capability set an integration layer consumes.
type Entity interface {
	UniqueID() string
	Name() string
	IsOn() bool
	Brightness() float64
	ColorMode() ColorMode
	HS() HueSat
	Effect() string
	EffectList() []string
	SupportedColorModes() []ColorMode
	SupportsTransition() bool
	ShouldPoll() bool
	Available() bool

	TurnOn(ctx context.Context, in Intent) error
	TurnOff(ctx context.Context) error
	Poll(ctx context.Context) error
}

var _ Entity = (*Controller)(nil)

// UniqueID is the configured host address.
func (c *Controller) UniqueID() string { return c.host }

func (c *Controller) Name() string         { return c.name }
func (c *Controller) IsOn() bool           { return c.on }
func (c *Controller) Brightness() float64  { return c.brightness }
func (c *Controller) ColorMode() ColorMode { return c.mode }
func (c *Controller) HS() HueSat           { return c.hs }
func (c *Controller) Available() bool      { return c.available }

// Effect is always empty: the advertised effect is a placeholder.
func (c *Controller) Effect() string { return "" }

func (c *Controller) EffectList() []string { return []string{EffectPlaceholder} }

func (c *Controller) SupportedColorModes() []ColorMode {
	return []ColorMode{ColorModeHS, ColorModeWhite}
}

func (c *Controller) SupportsTransition() bool { return true }

// ShouldPoll asks the integration layer to Poll before reading state.
func (c *Controller) ShouldPoll() bool { return true }
