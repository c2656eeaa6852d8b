package wire

// ActionKind discriminates the variants of Action. Go has no sum types, so
// Action carries a kind tag plus the fields relevant to that kind, mirroring
// the teacher's single-method interface style (internal/proxy/handler.go's
// ConnectionHandler) rather than attempting an enum.
type ActionKind int

const (
	// ActionForward delivers the original packet, unchanged, to the
	// opposite side.
	ActionForward ActionKind = iota
	// ActionMutate delivers Packet instead of the original, same
	// direction as Forward.
	ActionMutate
	// ActionRespond does not deliver to the opposite side; it delivers
	// Packets, in order, back to the originating side.
	ActionRespond
	// ActionError is a convenience encoding of ActionRespond carrying a
	// single synthesized error packet; valid for request handlers only.
	ActionError
)

// Action is the handler's decision for a single packet. Exactly one field
// set is meaningful, selected by Kind:
//
//	ActionForward: no fields used.
//	ActionMutate:  Packet.
//	ActionRespond: Packets.
//	ActionError:   ErrorCode, ErrorState, ErrorMessage.
type Action struct {
	Kind ActionKind

	Packet  Packet
	Packets []Packet

	ErrorCode    uint16
	ErrorState   string
	ErrorMessage string
}

// Forward returns the Forward action.
func Forward() Action { return Action{Kind: ActionForward} }

// Mutate returns the Mutate action delivering p instead of the original.
func Mutate(p Packet) Action { return Action{Kind: ActionMutate, Packet: p} }

// Respond returns the Respond action, delivering ps back to the
// originating side instead of forwarding.
func Respond(ps ...Packet) Action { return Action{Kind: ActionRespond, Packets: ps} }

// Error returns the Error action: a convenience for Respond(single error
// packet), valid only from handle_request (spec.md §3).
func Error(code uint16, state, msg string) Action {
	return Action{Kind: ActionError, ErrorCode: code, ErrorState: state, ErrorMessage: msg}
}

// Resolve expands an ActionError into the ActionRespond it denotes,
// synthesizing the error packet at the given sequence id. Non-error
// actions are returned unchanged. This is the "Error is expanded to
// Respond at the handler call site" step of spec.md §4.4.
func (a Action) Resolve(seq byte) (Action, error) {
	if a.Kind != ActionError {
		return a, nil
	}
	pkt, err := BuildErrorPacket(a.ErrorCode, a.ErrorState, a.ErrorMessage)
	if err != nil {
		return Action{}, err
	}
	pkt.Bytes[3] = seq
	return Action{Kind: ActionRespond, Packets: []Packet{pkt}}, nil
}

// Handler is the stable extension point: one instance per Pipe, consulted
// once per fully-framed packet, in wire order, for each direction. Both
// methods must be synchronous and non-blocking (spec.md §4.5, §5) — a
// handler that suspends stalls the whole event loop thread hosting its
// pipe.
//
// The packet passed to either method is a borrowed view: implementations
// must not retain p.Bytes past the call without cloning it first (Packet
// has a Clone method for this).
type Handler interface {
	HandleRequest(p Packet) Action
	HandleResponse(p Packet) Action
}
