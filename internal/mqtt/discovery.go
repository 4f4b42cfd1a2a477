//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"ledstrip-bridge/internal/light"
)

const (
	manufacturer = "Echow"
	model        = "Smart Led Strip"
	swVersion    = "1"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/ledstrip_192_168_1_20/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type haAvailability struct {
	Topic string `json:"topic"`
}

// haLight is a JSON-schema light discovery payload.
type haLight struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	Schema              string           `json:"schema"`
	StateTopic          string           `json:"state_topic"`
	CommandTopic        string           `json:"command_topic"`
	Availability        []haAvailability `json:"availability"`
	AvailabilityMode    string           `json:"availability_mode"`
	Brightness          bool             `json:"brightness"`
	BrightnessScale     int              `json:"brightness_scale"`
	SupportedColorModes []string         `json:"supported_color_modes"`
	Effect              bool             `json:"effect"`
	EffectList          []string         `json:"effect_list"`
	Device              haDevice         `json:"device"`
}

// statePayload is published retained on the strip state topic.
type statePayload struct {
	State      string        `json:"state"`
	Brightness int           `json:"brightness"`
	ColorMode  string        `json:"color_mode"`
	Color      *light.HueSat `json:"color,omitempty"`
	White      *int          `json:"white,omitempty"`
}

// commandPayload is what HA sends on the set topic.
type commandPayload struct {
	State      string        `json:"state"`
	Brightness *float64      `json:"brightness"`
	Color      *light.HueSat `json:"color"`
	White      *float64      `json:"white"`
	Effect     string        `json:"effect"`
	Transition *float64      `json:"transition"`
}

// stripCommand is a decoded set-topic message.
type stripCommand struct {
	Off    bool
	Intent light.Intent
}

// nodeID returns the HA node identifier for a strip.
func nodeID(host string) string {
	return "ledstrip_" + sanitize(host)
}

// stripTopicName returns the topic name for a strip (display name or host).
func stripTopicName(st light.State) string {
	if st.Name != "" && st.Name != st.Host {
		return sanitize(st.Name)
	}
	return sanitize(st.Host)
}

// sanitize lowercases and keeps only safe chars for MQTT topics.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, strings.ToLower(s))
}

func discoveryTopic(discoveryPrefix, host string) string {
	return fmt.Sprintf("%s/light/%s/light/config", discoveryPrefix, nodeID(host))
}

// buildDiscovery generates the HA light discovery message for a strip.
func buildDiscovery(st light.State, prefix, discoveryPrefix string) discoveryMsg {
	id := nodeID(st.Host)
	base := prefix + "/" + stripTopicName(st)
	name := st.Name
	if name == "" {
		name = st.Host
	}

	modes := make([]string, 0, 2)
	for _, m := range []light.ColorMode{light.ColorModeHS, light.ColorModeWhite} {
		modes = append(modes, string(m))
	}

	payload := haLight{
		Name:         name,
		UniqueID:     id + "_light",
		Schema:       "json",
		StateTopic:   base,
		CommandTopic: base + "/set",
		Availability: []haAvailability{
			{Topic: prefix + "/bridge/state"},
			{Topic: base + "/availability"},
		},
		AvailabilityMode:    "all",
		Brightness:          true,
		BrightnessScale:     255,
		SupportedColorModes: modes,
		Effect:              true,
		EffectList:          []string{light.EffectPlaceholder},
		Device: haDevice{
			Identifiers:  []string{id},
			Manufacturer: manufacturer,
			Model:        model,
			Name:         name,
			SWVersion:    swVersion,
		},
	}
	return discoveryMsg{Topic: discoveryTopic(discoveryPrefix, st.Host), Payload: mustJSON(payload)}
}

// buildRemoveDiscovery generates the empty retained message removing a strip from HA.
func buildRemoveDiscovery(host, discoveryPrefix string) discoveryMsg {
	return discoveryMsg{Topic: discoveryTopic(discoveryPrefix, host), Payload: nil}
}

// buildState renders the retained state payload.
func buildState(st light.State) []byte {
	p := statePayload{
		State:      "OFF",
		Brightness: int(math.Round(st.Brightness)),
		ColorMode:  string(st.ColorMode),
	}
	if st.On {
		p.State = "ON"
	}
	switch st.ColorMode {
	case light.ColorModeWhite:
		p.White = &p.Brightness
	default:
		hs := light.HueSat{
			Hue:        math.Round(st.HS.Hue*100) / 100,
			Saturation: math.Round(st.HS.Saturation*100) / 100,
		}
		p.Color = &hs
	}
	return mustJSON(p)
}

func availabilityPayload(available bool) []byte {
	if available {
		return []byte("online")
	}
	return []byte("offline")
}

// parseCommand decodes a set-topic payload. A missing state with any other
// field set counts as ON.
func parseCommand(payload []byte) (stripCommand, error) {
	var p commandPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return stripCommand{}, fmt.Errorf("decode command: %w", err)
	}

	switch strings.ToUpper(p.State) {
	case "OFF":
		return stripCommand{Off: true}, nil
	case "ON", "":
	default:
		return stripCommand{}, fmt.Errorf("unknown state %q", p.State)
	}

	var in light.Intent
	if p.Brightness != nil {
		v := int(math.Round(*p.Brightness))
		in.Brightness = &v
	}
	if p.White != nil {
		v := int(math.Round(*p.White))
		in.White = &v
	}
	if p.Color != nil {
		hs := *p.Color
		in.HS = &hs
	}
	in.Effect = p.Effect
	if p.Transition != nil {
		d := time.Duration(*p.Transition * float64(time.Second))
		in.Transition = &d
	}

	if p.State == "" && in == (light.Intent{}) {
		return stripCommand{}, fmt.Errorf("empty command")
	}
	return stripCommand{Intent: in}, nil
}
