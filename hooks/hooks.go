package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/phoneprefix/core"
)

// EventType defines the type of a hook event.
type EventType string

// --- Event Type Constants ---
const (
	// Run Lifecycle Events
	EventPreCompileRun  EventType = "PreCompileRun"
	EventPostCompileRun EventType = "PostCompileRun"

	// Input File Events
	EventPreCompileFile  EventType = "PreCompileFile"
	EventPostCompileFile EventType = "PostCompileFile"

	// Artifact Events
	EventPostShardWrite    EventType = "PostShardWrite"
	EventPostManifestWrite EventType = "PostManifestWrite"
)

// --- HookManager Interface and Implementation ---

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// It handles synchronous vs. asynchronous execution based on the event type and listener preference.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	// Type returns the type of the event.
	Type() EventType
	// Payload returns the data associated with the event.
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// HookListener is implemented by anything that wants to observe the compiler.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook aborts the run.
	// Errors from "Post" hooks are logged without affecting the run.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously for Post-events.
	IsAsync() bool
}

// CompileRunPayload describes a compilation run.
type CompileRunPayload struct {
	InputDir  string
	OutputDir string
	Inputs    []core.InputFile
	Expand    bool
}

// NewPreCompileRunEvent creates an event for before any input is read.
func NewPreCompileRunEvent(payload CompileRunPayload) HookEvent {
	return &BaseEvent{eventType: EventPreCompileRun, payload: payload}
}

// PostCompileRunPayload contains the outcome of a run.
type PostCompileRunPayload struct {
	InputDir  string
	OutputDir string
	Files     int
	Shards    int
	Entries   int
	Duration  time.Duration
	Error     error
}

// NewPostCompileRunEvent creates an event for after a run finished, successfully or not.
func NewPostCompileRunEvent(payload PostCompileRunPayload) HookEvent {
	return &BaseEvent{eventType: EventPostCompileRun, payload: payload}
}

// PreCompileFilePayload identifies the input about to be compiled.
type PreCompileFilePayload struct {
	Input core.InputFile
	Index int
	Total int
}

// NewPreCompileFileEvent creates an event for before an input file is read.
func NewPreCompileFileEvent(payload PreCompileFilePayload) HookEvent {
	return &BaseEvent{eventType: EventPreCompileFile, payload: payload}
}

// PostCompileFilePayload contains the statistics of one compiled input file.
type PostCompileFilePayload struct {
	Input       core.InputFile
	Index       int
	Total       int
	SourceBytes int64
	Entries     int
	Removed     int
	Blanked     int
	Buckets     []core.BucketPrefix
	Duration    time.Duration
	Error       error
}

// NewPostCompileFileEvent creates an event for after an input file was compiled.
func NewPostCompileFileEvent(payload PostCompileFilePayload) HookEvent {
	return &BaseEvent{eventType: EventPostCompileFile, payload: payload}
}

// PostShardWritePayload describes a shard that was written to disk.
type PostShardWritePayload struct {
	Shard   core.ShardID
	Path    string
	Entries int
	Bytes   int64
}

// NewPostShardWriteEvent creates an event for after a shard file was finished.
func NewPostShardWriteEvent(payload PostShardWritePayload) HookEvent {
	return &BaseEvent{eventType: EventPostShardWrite, payload: payload}
}

// PostManifestWritePayload describes the written manifest.
type PostManifestWritePayload struct {
	Path   string
	Shards int
}

// NewPostManifestWriteEvent creates an event for after the manifest was written.
func NewPostManifestWriteEvent(payload PostManifestWritePayload) HookEvent {
	return &BaseEvent{eventType: EventPostManifestWrite, payload: payload}
}

// listenerWithPriority wraps a listener with its priority.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger.With("component", "HookManager"),
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
// Listeners of equal priority run in registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]

	// First index whose priority is greater than the new item's.
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})

	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks are always synchronous so they can abort the run.
		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			m.wg.Add(1)
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}

// ListenerFunc adapts a function to HookListener. It runs synchronously with
// priority 0.
type ListenerFunc func(ctx context.Context, event HookEvent) error

func (f ListenerFunc) OnEvent(ctx context.Context, event HookEvent) error { return f(ctx, event) }
func (f ListenerFunc) Priority() int                                      { return 0 }
func (f ListenerFunc) IsAsync() bool                                      { return false }
