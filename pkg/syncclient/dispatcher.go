package syncclient

import (
	"log/slog"
	"sync"

	"github.com/docsync/docsync/pkg/protocol"
)

// Listener receives one decoded frame. Listeners run on the connection's event
// loop and must not block.
type Listener func(protocol.Frame)

// ListenerID identifies a registration for Off.
type ListenerID uint64

type registration struct {
	id ListenerID
	fn Listener
}

// Dispatcher fans inbound frames out to listeners registered by frame type.
type Dispatcher struct {
	log *slog.Logger

	mu        sync.Mutex
	nextID    ListenerID
	listeners map[string][]registration
}

// NewDispatcher returns an empty Dispatcher logging to log (slog.Default when nil).
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:       log,
		listeners: make(map[string][]registration),
	}
}

// Subscribe registers l for frames of type typ.
func (d *Dispatcher) Subscribe(typ string, l Listener) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners[typ] = append(d.listeners[typ], registration{id: id, fn: l})
	return id
}

// On registers l for frames of type typ and returns a func that removes it.
func (d *Dispatcher) On(typ string, l Listener) func() {
	id := d.Subscribe(typ, l)
	return func() { d.Off(typ, id) }
}

// Off removes the registration id. Unknown ids are ignored.
func (d *Dispatcher) Off(typ string, id ListenerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.listeners[typ]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		// Copy so an in-progress Emit keeps its snapshot intact.
		next := make([]registration, 0, len(regs)-1)
		next = append(next, regs[:i]...)
		next = append(next, regs[i+1:]...)
		if len(next) == 0 {
			delete(d.listeners, typ)
		} else {
			d.listeners[typ] = next
		}
		return
	}
}

// Count returns the number of listeners registered for typ.
func (d *Dispatcher) Count(typ string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[typ])
}

// Dispatch decodes data and emits it. Malformed input is logged and dropped.
func (d *Dispatcher) Dispatch(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		d.log.Warn("syncclient: dropping malformed frame", "err", err, "bytes", len(data))
		return
	}
	d.Emit(f)
}

// Emit runs every listener registered for f.Type, in registration order.
// Listeners added or removed during Emit take effect on the next frame.
func (d *Dispatcher) Emit(f protocol.Frame) {
	d.mu.Lock()
	regs := d.listeners[f.Type]
	d.mu.Unlock()

	for _, r := range regs {
		r.fn(f)
	}
}
