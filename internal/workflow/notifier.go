package workflow

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"tinypng/internal/logging"
)

// StatusHandler observes item transitions.
type StatusHandler func(WorkItem)

// notifier delivers snapshots to a single handler from one goroutine, in the
// order they were published. Publishing never blocks on the handler.
type notifier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []WorkItem
	handler StatusHandler
	closed  bool
	done    chan struct{}
	logger  *slog.Logger
}

func newNotifier(logger *slog.Logger) *notifier {
	n := &notifier{done: make(chan struct{}), logger: logger}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

// setHandler replaces the subscription; nil unsubscribes.
func (n *notifier) setHandler(fn StatusHandler) {
	n.mu.Lock()
	n.handler = fn
	n.mu.Unlock()
}

func (n *notifier) publish(item WorkItem) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.queue = append(n.queue, item)
	n.cond.Signal()
}

// close delivers what is already queued, then stops the dispatcher.
func (n *notifier) close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		n.cond.Signal()
	}
	n.mu.Unlock()
	<-n.done
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.queue) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		item := n.queue[0]
		n.queue[0] = WorkItem{}
		n.queue = n.queue[1:]
		handler := n.handler
		n.mu.Unlock()

		if handler != nil {
			n.deliver(handler, item)
		}
	}
}

func (n *notifier) deliver(handler StatusHandler, item WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("status handler panicked",
				logging.Int(logging.FieldItemID, item.ID),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()
	handler(item)
}
