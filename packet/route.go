package packet

import (
	"errors"
	"fmt"
)

// ErrNotRoutable is returned when a recipient has no defined behaviour for a kind.
var ErrNotRoutable = errors.New("packet: kind not routable to recipient")

// Recipient is the party a packet is handed to.
type Recipient uint8

const (
	// RecipientObserver is a local listener such as a monitor.
	RecipientObserver Recipient = iota
	// RecipientTransport is the outbound side of the serial link.
	RecipientTransport
	// RecipientService is the correlation hub receiving inbound packets.
	RecipientService

	numRecipients
)

// String returns the name of the recipient.
func (r Recipient) String() string {
	switch r {
	case RecipientObserver:
		return "observer"
	case RecipientTransport:
		return "transport"
	case RecipientService:
		return "service"
	default:
		return fmt.Sprintf("recipient(%d)", uint8(r))
	}
}

// Action is what a recipient does with a packet.
type Action uint8

const (
	// ActReject marks a combination with no meaning; routing it is an error.
	ActReject Action = iota
	// ActIgnore drops the packet silently.
	ActIgnore
	// ActEncode frames the packet and writes it to the device.
	ActEncode
	// ActCorrelate matches the packet id against pending requests.
	ActCorrelate
	// ActBroadcast forwards the packet to every registered observer.
	ActBroadcast
	// ActObserve appends the packet to the observer's display.
	ActObserve
)

// String returns the name of the action.
func (a Action) String() string {
	switch a {
	case ActReject:
		return "reject"
	case ActIgnore:
		return "ignore"
	case ActEncode:
		return "encode"
	case ActCorrelate:
		return "correlate"
	case ActBroadcast:
		return "broadcast"
	case ActObserve:
		return "observe"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// routes is indexed [kind][recipient].
var routes = [numKinds][numRecipients]Action{
	KindRequest: {
		RecipientObserver:  ActIgnore,
		RecipientTransport: ActEncode,
		RecipientService:   ActCorrelate,
	},
	KindStatus: {
		RecipientObserver:  ActObserve,
		RecipientTransport: ActReject,
		RecipientService:   ActBroadcast,
	},
	KindDeviceText: {
		RecipientObserver:  ActObserve,
		RecipientTransport: ActReject,
		RecipientService:   ActBroadcast,
	},
}

// Route returns the action recipient takes for a packet of kind k.
// Unknown kinds or recipients yield ActReject.
func Route(k Kind, r Recipient) Action {
	if k >= numKinds || r >= numRecipients {
		return ActReject
	}

	return routes[k][r]
}

// Resolve is Route for a concrete packet, turning ActReject into an error.
func Resolve(p Packet, r Recipient) (Action, error) {
	act := Route(p.Kind, r)
	if act == ActReject {
		return act, fmt.Errorf("%w: %s to %s", ErrNotRoutable, p.Kind, r)
	}

	return act, nil
}
