package proxy

import (
	"context"

	"github.com/wireproxy/mysqlwire/internal/wire"
)

// orchestrator is the single goroutine that owns all of a Pipe's mutable
// framing state (spec.md §3 "Pipe" ownership, §5 "no synchronization
// primitives required within a pipe"). It is driven entirely by channel
// events from the read/write pumps in pipe.go.
type orchestrator struct {
	pipe *Pipe

	clientReader *Reader
	serverReader *Reader
	clientWriter *Writer
	serverWriter *Writer

	clientChunks <-chan chunk
	serverChunks <-chan chunk

	clientWriteIn chan<- writeReq
	serverWriteIn chan<- writeReq

	clientWriteAck <-chan error
	serverWriteAck <-chan error

	clientWriterBusy bool
	serverWriterBusy bool

	// Gates implement the mandatory backpressure extension of spec.md
	// §5/§9: clientReadGate guards consumption of clientChunks and is
	// closed while serverWriter (the writer client packets normally
	// forward into) is over its high-water mark; serverReadGate is the
	// mirror for serverChunks/clientWriter.
	clientReadGate bool
	serverReadGate bool
}

func (o *orchestrator) run(ctx context.Context) error {
	clientChunks := o.clientChunks
	serverChunks := o.serverChunks
	o.clientReadGate = true
	o.serverReadGate = true

	for {
		o.flush()

		done := clientChunks == nil && serverChunks == nil &&
			!o.clientWriterBusy && !o.serverWriterBusy &&
			o.clientWriter.Pending() == 0 && o.serverWriter.Pending() == 0
		if done {
			return nil
		}

		var ccCh <-chan chunk
		if clientChunks != nil && o.clientReadGate {
			ccCh = clientChunks
		}
		var scCh <-chan chunk
		if serverChunks != nil && o.serverReadGate {
			scCh = serverChunks
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case c := <-ccCh:
			if c.err != nil {
				clientChunks = nil
				if isOrderlyClose(c.err) {
					o.pipe.metrics.HalfClose("server")
					halfCloseWrite(o.pipe.server)
				} else {
					o.pipe.metrics.PipeError("transport")
					return &TransportError{Side: "client", Op: "read", Err: c.err}
				}
				continue
			}
			if err := o.clientReader.Feed(c.data); err != nil {
				return &TransportError{Side: "client", Op: "read", Err: err}
			}
			o.pipe.metrics.BytesTransferred("request", len(c.data))
			if err := o.drainRequests(); err != nil {
				return err
			}

		case c := <-scCh:
			if c.err != nil {
				serverChunks = nil
				if isOrderlyClose(c.err) {
					o.pipe.metrics.HalfClose("client")
					halfCloseWrite(o.pipe.client)
				} else {
					o.pipe.metrics.PipeError("transport")
					return &TransportError{Side: "server", Op: "read", Err: c.err}
				}
				continue
			}
			if err := o.serverReader.Feed(c.data); err != nil {
				return &TransportError{Side: "server", Op: "read", Err: err}
			}
			o.pipe.metrics.BytesTransferred("response", len(c.data))
			if err := o.drainResponses(); err != nil {
				return err
			}

		case err := <-o.clientWriteAck:
			o.clientWriterBusy = false
			if err != nil {
				o.pipe.metrics.PipeError("transport")
				return &TransportError{Side: "client", Op: "write", Err: err}
			}
			if o.clientWriter.Pending() <= o.pipe.currentConfig().LowWaterMark {
				o.serverReadGate = true
			}

		case err := <-o.serverWriteAck:
			o.serverWriterBusy = false
			if err != nil {
				o.pipe.metrics.PipeError("transport")
				return &TransportError{Side: "server", Op: "write", Err: err}
			}
			if o.serverWriter.Pending() <= o.pipe.currentConfig().LowWaterMark {
				o.clientReadGate = true
			}
		}
	}
}

// drainRequests extracts every complete packet now buffered in
// clientReader, in wire order, and routes the handler's decision for each
// (spec.md §4.4 step 3).
func (o *orchestrator) drainRequests() error {
	for {
		pkt, ok := o.clientReader.Next()
		if !ok {
			return nil
		}
		if _, err := wire.ClassifyCommand(pkt); err != nil {
			// Not a framing error — the packet is well-formed, its command
			// byte just isn't one we recognize (spec.md §4.1, §7). Still
			// worth surfacing: an operator watching for a client sending
			// garbage or a future command this build doesn't know about.
			o.pipe.metrics.PipeError("invalid_packet_type")
		}
		action := o.pipe.handler.HandleRequest(pkt)
		resolved, err := action.Resolve(pkt.SequenceID() + 1)
		if err != nil {
			return err
		}
		switch resolved.Kind {
		case wire.ActionForward:
			o.serverWriter.Push(pkt)
			o.pipe.metrics.PacketForwarded("request", "forward")
		case wire.ActionMutate:
			o.serverWriter.Push(resolved.Packet)
			o.pipe.metrics.PacketForwarded("request", "mutate")
		case wire.ActionRespond:
			for _, p := range resolved.Packets {
				o.clientWriter.Push(p)
			}
			o.pipe.metrics.PacketForwarded("request", "respond")
		}
		if o.serverWriter.Pending() > o.pipe.currentConfig().HighWaterMark {
			o.clientReadGate = false
		}
		if o.clientWriter.Pending() > o.pipe.currentConfig().HighWaterMark {
			o.serverReadGate = false
		}
	}
}

// drainResponses is the symmetric operation for server-originated packets
// (spec.md §4.4 step 6): Forward/Mutate target clientWriter, Respond
// targets serverWriter (back to the originating side).
func (o *orchestrator) drainResponses() error {
	for {
		pkt, ok := o.serverReader.Next()
		if !ok {
			return nil
		}
		action := o.pipe.handler.HandleResponse(pkt)
		resolved, err := action.Resolve(pkt.SequenceID() + 1)
		if err != nil {
			return err
		}
		switch resolved.Kind {
		case wire.ActionForward:
			o.clientWriter.Push(pkt)
			o.pipe.metrics.PacketForwarded("response", "forward")
		case wire.ActionMutate:
			o.clientWriter.Push(resolved.Packet)
			o.pipe.metrics.PacketForwarded("response", "mutate")
		case wire.ActionRespond:
			for _, p := range resolved.Packets {
				o.serverWriter.Push(p)
			}
			o.pipe.metrics.PacketForwarded("response", "respond")
		}
		if o.clientWriter.Pending() > o.pipe.currentConfig().HighWaterMark {
			o.serverReadGate = false
		}
		if o.serverWriter.Pending() > o.pipe.currentConfig().HighWaterMark {
			o.clientReadGate = false
		}
	}
}

// flush hands any pending writer bytes off to its pump, one in-flight
// write request per direction at a time (spec.md §4.3 "write()").
func (o *orchestrator) flush() {
	if !o.clientWriterBusy {
		if data := o.clientWriter.Drain(); data != nil {
			o.clientWriterBusy = true
			o.clientWriteIn <- writeReq{data: data}
		}
	}
	if !o.serverWriterBusy {
		if data := o.serverWriter.Drain(); data != nil {
			o.serverWriterBusy = true
			o.serverWriteIn <- writeReq{data: data}
		}
	}
}
