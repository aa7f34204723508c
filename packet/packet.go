// Package packet defines the messages routed by the clacks service and the
// table that decides what each recipient does with each kind of message.
//
// A Packet is a closed tagged variant: its Kind selects which fields are
// meaningful and its Direction records where it is travelling. Routing is
// not decided by Kind alone; [Route] is keyed by (Kind, Recipient), so the
// same Request packet is encoded by the transport, correlated by the
// service and ignored by observers.
package packet

import (
	"fmt"
	"time"
)

// Kind enumerates the packet variants.
type Kind uint8

const (
	// KindRequest is a correlated frame: a client query travelling to the
	// device, or the device's reply travelling back.
	KindRequest Kind = iota
	// KindStatus is a diagnostic line produced locally (write echo, errors).
	KindStatus
	// KindDeviceText is unsolicited device output without a pending request.
	KindDeviceText

	numKinds
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindStatus:
		return "status"
	case KindDeviceText:
		return "device-text"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// MarshalText encodes the kind by name, e.g. for the monitor JSON feed.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Direction is the travel direction of a packet.
type Direction uint8

const (
	ToDevice Direction = iota
	FromDevice
	Local
)

// String returns the name of the direction.
func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "to-device"
	case FromDevice:
		return "from-device"
	case Local:
		return "local"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Status levels.
const (
	LevelOutput = "output"
	LevelInput  = "input"
	LevelError  = "error"
	LevelInfo   = "info"
)

// Packet is one routed message.
//
// FullID and Body are set for KindRequest. Level and Body are set for
// KindStatus. Body holds the device line for KindDeviceText. Raw keeps the
// undecoded line for packets read from the device.
type Packet struct {
	Kind      Kind      `json:"kind"`
	Direction Direction `json:"direction"`
	FullID    string    `json:"id,omitempty"`
	Body      string    `json:"body"`
	Level     string    `json:"level,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Time      time.Time `json:"time"`
}

// NewRequest builds an outbound request packet.
func NewRequest(fullID, body string) Packet {
	return Packet{Kind: KindRequest, Direction: ToDevice, FullID: fullID, Body: body, Time: time.Now()}
}

// NewReply builds a correlated packet received from the device.
func NewReply(fullID, body, raw string) Packet {
	return Packet{Kind: KindRequest, Direction: FromDevice, FullID: fullID, Body: body, Raw: raw, Time: time.Now()}
}

// NewStatus builds a locally produced status packet.
func NewStatus(level, text string) Packet {
	return Packet{Kind: KindStatus, Direction: Local, Level: level, Body: text, Time: time.Now()}
}

// NewDeviceText builds an unsolicited device packet.
func NewDeviceText(line string) Packet {
	return Packet{Kind: KindDeviceText, Direction: FromDevice, Body: line, Raw: line, Time: time.Now()}
}

// IsReply reports whether p is a correlated packet coming back from the device.
func (p Packet) IsReply() bool {
	return p.Kind == KindRequest && p.Direction == FromDevice && p.FullID != ""
}

// Uncorrelated returns p re-tagged as device text, keeping the raw line.
// It is used for replies that match no pending request.
func (p Packet) Uncorrelated() Packet {
	line := p.Raw
	if line == "" {
		line = "[[" + p.FullID + " " + p.Body + "]]"
	}

	return Packet{Kind: KindDeviceText, Direction: p.Direction, Body: line, Raw: line, Time: p.Time}
}

// String renders p for display logs.
func (p Packet) String() string {
	switch p.Kind {
	case KindRequest:
		if p.Direction == ToDevice {
			return "-> [[" + p.FullID + " " + p.Body + "]]"
		}
		return "<- [[" + p.FullID + " " + p.Body + "]]"
	case KindStatus:
		return "[" + p.Level + "] " + p.Body
	default:
		return p.Body
	}
}
