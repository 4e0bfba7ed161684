// internal/browser/memdom/events.go
package memdom

import (
	"golang.org/x/net/html"
)

// Event is a dispatched DOM event as seen by listeners.
type Event struct {
	Type    string
	Target  *Element
	Bubbles bool
}

// ListenerFunc handles an event. It runs on the dispatching goroutine with
// no document lock held, so it may read or mutate the document.
type ListenerFunc func(Event)

type listener struct {
	fn   ListenerFunc
	once bool
}

// AddEventListener registers fn for eventType on el. A once listener is
// removed before its first invocation. The returned func removes the
// listener and is safe to call more than once.
func (d *Document) AddEventListener(el *Element, eventType string, fn ListenerFunc, once bool) (remove func()) {
	l := &listener{fn: fn, once: once}

	d.mu.Lock()
	byType, ok := d.listeners[el.node]
	if !ok {
		byType = make(map[string][]*listener)
		d.listeners[el.node] = byType
	}
	byType[eventType] = append(byType[eventType], l)
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		d.removeListenerLocked(el.node, eventType, l)
		d.mu.Unlock()
	}
}

// ListenerCount reports how many listeners of eventType are attached to el.
func (d *Document) ListenerCount(el *Element, eventType string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[el.node][eventType])
}

func (d *Document) removeListenerLocked(n *html.Node, eventType string, l *listener) {
	byType := d.listeners[n]
	list := byType[eventType]
	for i, candidate := range list {
		if candidate == l {
			byType[eventType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(byType[eventType]) == 0 {
		delete(byType, eventType)
	}
	if len(byType) == 0 {
		delete(d.listeners, n)
	}
}

// DispatchEvent delivers ev to target and, when ev.Bubbles is set, to each
// ancestor in turn. Listeners are snapshotted before any of them runs.
func (d *Document) DispatchEvent(target *Element, ev Event) {
	ev.Target = target

	d.mu.Lock()
	var calls []ListenerFunc
	for n := target.node; n != nil; n = n.Parent {
		list := append([]*listener(nil), d.listeners[n][ev.Type]...)
		for _, l := range list {
			if l.once {
				d.removeListenerLocked(n, ev.Type, l)
			}
			calls = append(calls, l.fn)
		}
		if !ev.Bubbles {
			break
		}
	}
	d.mu.Unlock()

	for _, fn := range calls {
		fn(ev)
	}
}
