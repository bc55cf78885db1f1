// Package audio owns the microphone: device discovery and selection, Pulse
// record streams, and the capture controller that turns a stream into one
// immutable payload per session.
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const clientName = "misty"

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// Usable reports whether capture from the device would produce sound.
func (d Device) Usable() bool {
	return d.Available && !d.Muted
}

// Selection is the resolved capture source. Warning is set when the preferred
// input could not be used.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

func newPulseClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(clientName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns the Pulse input sources known to the server.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	def, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			State:       sourceStateString(info.State),
			Available:   sourceAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == def.ID(),
		})
	}
	return devices, nil
}

// SelectDevice resolves the input and fallback preferences against the live
// device list.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return selectDeviceFromList(devices, input, fallback)
}

// selectDeviceFromList picks the preferred device, or the fallback (the
// default source when unset) when the preferred one is muted or unplugged.
func selectDeviceFromList(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}

	input = normalizePreference(input)
	fallback = normalizePreference(fallback)

	primary, err := findDevice(devices, input)
	if err != nil {
		return Selection{}, fmt.Errorf("audio.input: %w", err)
	}
	if primary.Usable() {
		return Selection{Device: primary}, nil
	}

	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}

	alt, err := findDevice(devices, fallback)
	if err != nil {
		return Selection{}, fmt.Errorf("input %q is %s and no usable fallback: %w", primary.ID, reason, err)
	}
	if !alt.Available {
		return Selection{}, fmt.Errorf("audio fallback device %q is not available", alt.ID)
	}
	if alt.Muted {
		return Selection{}, fmt.Errorf("audio fallback device %q is muted", alt.ID)
	}

	return Selection{
		Device:   alt,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, reason, alt.ID),
		Fallback: alt.ID != primary.ID,
	}, nil
}

func normalizePreference(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "default" {
		return ""
	}
	return value
}

// findDevice returns the first device matching term, or the default source
// when term is empty.
func findDevice(devices []Device, term string) (Device, error) {
	for _, dev := range devices {
		if term == "" && dev.Default {
			return dev, nil
		}
		if term != "" && deviceMatches(dev, term) {
			return dev, nil
		}
	}
	if term == "" {
		return Device{}, errors.New("default audio source is unavailable")
	}
	return Device{}, fmt.Errorf("%q did not match any device", term)
}

// deviceMatches reports whether term is a substring of the device id or description.
func deviceMatches(device Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(device.ID), term) ||
		strings.Contains(strings.ToLower(device.Description), term)
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable inspects the active port. Pulse reports unknown=0, no=1, yes=2.
func sourceAvailable(info *pulseproto.GetSourceInfoReply) bool {
	if info == nil {
		return false
	}
	for _, port := range info.Ports {
		if port.Name == info.ActivePortName {
			return port.Available != 1
		}
	}
	return true
}
