package va

import "sync"

// HandlerID identifies one MessageHandler registration on a display.
type HandlerID uint64

type handlerEntry struct {
	id HandlerID
	h  MessageHandler
}

// handlerRegistry holds the message handlers of every display. Several
// contexts may share a display; each registration gets its own HandlerID and
// every handler on the display receives the display's messages. The driver
// only ever sees the display value as user data, never a Go pointer.
type handlerRegistry struct {
	mu        sync.RWMutex
	next      HandlerID
	byDisplay map[Display][]handlerEntry
}

var messageHandlers = newHandlerRegistry()

func newHandlerRegistry() *handlerRegistry {
	return &handlerRegistry{byDisplay: make(map[Display][]handlerEntry)}
}

// add registers h on d. first reports whether d had no handler before.
func (r *handlerRegistry) add(d Display, h MessageHandler) (id HandlerID, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	first = len(r.byDisplay[d]) == 0
	r.byDisplay[d] = append(r.byDisplay[d], handlerEntry{id: r.next, h: h})
	return r.next, first
}

// remove drops the registration id of d. last reports whether it was the last
// handler on d.
func (r *handlerRegistry) remove(d Display, id HandlerID) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byDisplay[d]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		if len(entries) == 0 {
			delete(r.byDisplay, d)
			return true, true
		}
		r.byDisplay[d] = entries
		return true, false
	}
	return false, false
}

// drop removes every handler of d and reports whether there were any.
func (r *handlerRegistry) drop(d Display) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byDisplay[d]
	delete(r.byDisplay, d)
	return ok
}

func (r *handlerRegistry) handlers(d Display) []MessageHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.byDisplay[d]
	out := make([]MessageHandler, len(entries))
	for i, e := range entries {
		out[i] = e.h
	}
	return out
}

// dispatch delivers a driver message to every handler registered on d, in
// registration order. Messages for displays without handlers are dropped.
func (r *handlerRegistry) dispatch(d Display, message string, isError bool) {
	for _, h := range r.handlers(d) {
		if isError {
			h.DriverError(message)
		} else {
			h.DriverInfo(message)
		}
	}
}

// MessageFunc adapts two functions to MessageHandler. Either may be nil.
type MessageFunc struct {
	OnError func(message string)
	OnInfo  func(message string)
}

// DriverError implements MessageHandler.
func (f MessageFunc) DriverError(message string) {
	if f.OnError != nil {
		f.OnError(message)
	}
}

// DriverInfo implements MessageHandler.
func (f MessageFunc) DriverInfo(message string) {
	if f.OnInfo != nil {
		f.OnInfo(message)
	}
}
