package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"tinypng/internal/failure"
	"tinypng/internal/logging"
	"tinypng/internal/tinify"
)

// DefaultMaxConcurrent applies when the configured limit is unset or invalid.
const DefaultMaxConcurrent = 3

const (
	msgNotImage      = "Not a recognized image format"
	msgMissingAPIKey = "Missing or invalid API key"
)

// ErrIndexOutOfRange is returned by Get for positions outside the list.
var ErrIndexOutOfRange = errors.New("workflow: index out of range")

// Credentials supplies the API key and concurrency limit.
type Credentials interface {
	APIKey() (string, bool)
	MaxConcurrent() int
}

// Classifier decides from file content whether a path is a supported image.
type Classifier interface {
	IsRecognizedImage(path string) bool
}

// Transport performs the network half of the workflow.
type Transport interface {
	Upload(ctx context.Context, path, apiKey string, progress tinify.ProgressFunc) (tinify.Result, error)
	Download(ctx context.Context, rawURL, apiKey, dir string) (string, error)
}

// Options wires an Engine to its collaborators.
type Options struct {
	Transport   Transport
	Credentials Credentials
	Classifier  Classifier
	Logger      *slog.Logger
}

type taskID uint64

type taskKind string

const (
	taskUpload   taskKind = "upload"
	taskDownload taskKind = "download"
)

// record is the engine-owned mutable side of a WorkItem.
type record struct {
	item WorkItem
	// percent is the last whole upload percentage published.
	percent int
}

// Engine queues images and drives each through upload, download and
// replacement with at most MaxConcurrent network tasks in flight.
//
// A single mutex guards the item list and the active task registry. Network
// I/O and file replacement run outside it.
type Engine struct {
	transport     Transport
	credentials   Credentials
	classifier    Classifier
	logger        *slog.Logger
	notifier      *notifier
	maxConcurrent int

	mu       sync.Mutex
	items    []*record
	active   map[taskID]*record
	nextID   int
	nextTask taskID
	// changed is closed and replaced on every transition so Wait can block
	// without polling.
	changed chan struct{}
}

// New creates an Engine. MaxConcurrent is read once here.
func New(opts Options) *Engine {
	limit := DefaultMaxConcurrent
	if opts.Credentials != nil {
		if n := opts.Credentials.MaxConcurrent(); n > 0 {
			limit = n
		}
	}
	logger := logging.NewComponentLogger(opts.Logger, "workflow").
		With(logging.String(logging.FieldRunID, uuid.NewString()))
	logger.Debug("engine created", logging.Int("max_concurrent", limit))

	return &Engine{
		transport:     opts.Transport,
		credentials:   opts.Credentials,
		classifier:    opts.Classifier,
		logger:        logger,
		notifier:      newNotifier(logger),
		maxConcurrent: limit,
		active:        make(map[taskID]*record),
		changed:       make(chan struct{}),
	}
}

// MaxConcurrent returns the capacity this engine was created with.
func (e *Engine) MaxConcurrent() int {
	return e.maxConcurrent
}

// OnStatusChanged registers the single status observer, replacing any
// previous one. Calls happen on one goroutine, one at a time.
func (e *Engine) OnStatusChanged(fn StatusHandler) {
	e.notifier.setHandler(fn)
}

// Submit queues the file at path and returns the new item's ID. Items that
// cannot be processed are recorded in the Error state; Submit itself never
// fails and never waits on the network.
func (e *Engine) Submit(path string) int {
	cleaned := filepath.Clean(path)
	if abs, err := filepath.Abs(cleaned); err == nil {
		cleaned = abs
	}

	var initial State = Waiting{}
	if e.classifier == nil || !e.classifier.IsRecognizedImage(cleaned) {
		initial = Failed{Err: failure.Validation(msgNotImage)}
	} else if _, ok := e.apiKey(); !ok {
		initial = Failed{Err: failure.Configuration(msgMissingAPIKey)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	rec := &record{item: WorkItem{
		ID:          e.nextID,
		SourcePath:  cleaned,
		DisplayName: filepath.Base(cleaned),
		State:       initial,
	}}
	e.items = append(e.items, rec)
	e.publishLocked(rec)

	if failed, ok := initial.(Failed); ok {
		e.logger.Warn("item rejected",
			logging.Int(logging.FieldItemID, rec.item.ID),
			logging.String(logging.FieldFile, cleaned),
			logging.Error(failed.Err),
		)
		return rec.item.ID
	}

	e.logger.Debug("item queued",
		logging.Int(logging.FieldItemID, rec.item.ID),
		logging.String(logging.FieldFile, cleaned),
	)
	e.admitLocked()
	return rec.item.ID
}

// Count returns the number of known items in every state.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.items)
}

// Get returns the item at index in submission order.
func (e *Engine) Get(index int) (WorkItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.items) {
		return WorkItem{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, len(e.items))
	}
	return e.items[index].item, nil
}

// Items returns snapshots of every item in submission order.
func (e *Engine) Items() []WorkItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]WorkItem, len(e.items))
	for i, rec := range e.items {
		out[i] = rec.item
	}
	return out
}

// ActiveCount returns the number of network tasks in flight.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until no item is waiting or in flight, or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	for {
		e.mu.Lock()
		settled := e.settledLocked()
		changed := e.changed
		e.mu.Unlock()
		if settled {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close delivers pending notifications and stops the notifier. In-flight
// tasks keep running; their later transitions are not delivered.
func (e *Engine) Close() {
	e.notifier.close()
}

func (e *Engine) settledLocked() bool {
	if len(e.active) > 0 {
		return false
	}
	for _, rec := range e.items {
		if rec.item.Status() == StatusWaiting {
			return false
		}
	}
	return true
}

func (e *Engine) apiKey() (string, bool) {
	if e.credentials == nil {
		return "", false
	}
	return e.credentials.APIKey()
}

// admitLocked sweeps waiting items in submission order and dispatches
// uploads until capacity is exhausted.
func (e *Engine) admitLocked() {
	for _, rec := range e.items {
		if len(e.active) >= e.maxConcurrent {
			return
		}
		if rec.item.Status() != StatusWaiting {
			continue
		}
		if !e.transitionLocked(rec, Started{}) {
			continue
		}
		apiKey, ok := e.apiKey()
		if !ok {
			e.failLocked(rec, failure.Configuration(msgMissingAPIKey))
			continue
		}
		e.startUploadLocked(rec, apiKey)
	}
}

// transitionLocked moves rec to next and publishes a snapshot. Edges outside
// the lifecycle are logged and ignored.
func (e *Engine) transitionLocked(rec *record, next State) bool {
	from := rec.item.Status()
	if err := ValidateTransition(from, next.Status()); err != nil {
		e.logger.Warn("transition rejected",
			logging.Int(logging.FieldItemID, rec.item.ID),
			logging.Error(err),
		)
		return false
	}
	rec.item.State = next
	if from != next.Status() {
		e.logger.Debug("item transition",
			logging.Int(logging.FieldItemID, rec.item.ID),
			logging.String("from", string(from)),
			logging.String(logging.FieldStatus, string(next.Status())),
		)
	}
	e.publishLocked(rec)
	return true
}

func (e *Engine) failLocked(rec *record, err error) {
	fe := failure.From(err)
	if !e.transitionLocked(rec, Failed{Err: fe}) {
		return
	}
	e.logger.Warn("item failed",
		logging.Int(logging.FieldItemID, rec.item.ID),
		logging.String(logging.FieldFile, rec.item.SourcePath),
		logging.String("kind", string(fe.Kind)),
		logging.Error(fe),
	)
}

func (e *Engine) publishLocked(rec *record) {
	e.notifier.publish(rec.item)
	close(e.changed)
	e.changed = make(chan struct{})
}

func (e *Engine) registerLocked(rec *record) taskID {
	e.nextTask++
	id := e.nextTask
	e.active[id] = rec
	return id
}

// releaseLocked removes a finished task and returns the item it served.
func (e *Engine) releaseLocked(id taskID) (*record, bool) {
	rec, ok := e.active[id]
	if ok {
		delete(e.active, id)
	}
	return rec, ok
}
