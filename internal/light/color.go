package light

import (
	"log/slog"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"ledstrip-bridge/internal/device"
)

// ColorMode selects which cached color representation is authoritative.
type ColorMode string

const (
	ColorModeWhite ColorMode = "white"
	ColorModeHS    ColorMode = "hs"
)

// HueSat holds hue in [0,360) and saturation in [0,100].
type HueSat struct {
	Hue        float64 `json:"h"`
	Saturation float64 `json:"s"`
}

// LogValue implements slog.LogValuer.
func (h HueSat) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("hue", h.Hue),
		slog.Float64("sat", h.Saturation),
	)
}

// normalized clamps saturation and wraps hue into [0,360).
func (h HueSat) normalized() HueSat {
	hue := math.Mod(h.Hue, 360)
	if hue < 0 {
		hue += 360
	}
	return HueSat{Hue: hue, Saturation: clamp(h.Saturation, 0, 100)}
}

// WhiteRGBW is the command for white mode at brightness (0-255).
func WhiteRGBW(brightness float64) device.RGBW {
	return device.RGBW{W: clamp(brightness, 0, 255) / 255}
}

// HSRGBW is the command for hue/saturation mode at brightness (0-255).
func HSRGBW(hs HueSat, brightness float64) device.RGBW {
	hs = hs.normalized()
	c := colorful.Hsv(hs.Hue, hs.Saturation/100, clamp(brightness, 0, 255)/255)
	return device.RGBW{R: unit(c.R), G: unit(c.G), B: unit(c.B)}
}

// FromRGB converts reported channels in [0,1] back into hue/saturation and a
// 0-255 brightness.
func FromRGB(r, g, b float64) (HueSat, float64) {
	h, s, v := colorful.Color{R: unit(r), G: unit(g), B: unit(b)}.Hsv()
	if h >= 360 {
		h -= 360
	}
	return HueSat{Hue: h, Saturation: s * 100}, v * 255
}

// normalizeStatus returns the reported channels as fractions in [0,1]. The
// firmware reports fractions; a device reporting any channel above 1 is taken
// to use the 0-255 scale.
func normalizeStatus(st device.Status) (r, g, b, w float64) {
	r, g, b, w = st.R, st.G, st.B, st.W
	if r > 1 || g > 1 || b > 1 || w > 1 {
		r, g, b, w = r/255, g/255, b/255, w/255
	}
	return unit(r), unit(g), unit(b), unit(w)
}

func unit(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}
