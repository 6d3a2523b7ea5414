package bridge

// EventType labels an outbound notification.
type EventType string

const (
	// EventReady is emitted once when the bridge is constructed.
	EventReady EventType = "ready"

	// EventStatus carries free-form progress text.
	EventStatus EventType = "status"

	// EventRecordingState announces a state machine transition.
	EventRecordingState EventType = "recordingState"

	// EventResponse carries the generated reply text.
	EventResponse EventType = "response"

	// EventTranscript carries the recognised speech for an audio turn.
	EventTranscript EventType = "transcript"

	EventSessionCreated EventType = "sessionCreated"
	EventSessionEnded   EventType = "sessionEnded"
	EventSessionReset   EventType = "sessionReset"

	// EventError carries a failure with a context tag naming the stage it
	// came from ("recorder", "send", "session").
	EventError EventType = "error"
)

// Event is one notification mirrored to the hosting page. Transitions and
// errors flow through this side-channel independently of HTTP responses, so
// the host updates its UI without polling.
type Event struct {
	Type      EventType `json:"type"`
	State     State     `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`

	// Context tags error events with the originating stage.
	Context string `json:"context,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Notifier receives bridge events. Implementations must not block; slow
// consumers should buffer or drop.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }

// NopNotifier discards all events.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(Event) {}
