// Package notify carries the per-call outcome listeners a caller hands
// to the orchestrator. The listeners live only for the duration of one
// call: there is no global registration, so handlers can never leak
// across unrelated requests.
package notify

// Event is the payload delivered to a listener.
type Event struct {
	ProcessingKey string
	MediaID       string
	Permalink     string
	ErrorMessage  string
}

// Listeners holds the callbacks for one orchestrator call. Any field
// may be nil. The orchestrator invokes OnProcessing when the session
// outlives the synchronous call, and exactly one of OnSuccess or
// OnError when a terminal outcome is reached within it.
type Listeners struct {
	OnProcessing func(Event)
	OnSuccess    func(Event)
	OnError      func(Event)
}

// Processing dispatches an OnProcessing event if a listener is set.
func (l Listeners) Processing(e Event) {
	if l.OnProcessing != nil {
		l.OnProcessing(e)
	}
}

// Success dispatches an OnSuccess event if a listener is set.
func (l Listeners) Success(e Event) {
	if l.OnSuccess != nil {
		l.OnSuccess(e)
	}
}

// Error dispatches an OnError event if a listener is set.
func (l Listeners) Error(e Event) {
	if l.OnError != nil {
		l.OnError(e)
	}
}

// Collector is a Listeners implementation that records the events
// delivered during one orchestrator call, so the caller can assemble
// its response from what was actually announced.
type Collector struct {
	Processing *Event
	Success    *Event
	Failure    *Event
}

// Listeners returns callbacks that record into the collector.
func (c *Collector) Listeners() Listeners {
	return Listeners{
		OnProcessing: func(e Event) { c.Processing = &e },
		OnSuccess:    func(e Event) { c.Success = &e },
		OnError:      func(e Event) { c.Failure = &e },
	}
}
