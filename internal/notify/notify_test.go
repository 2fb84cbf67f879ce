package notify

import "testing"

func TestListenersNilSafe(t *testing.T) {
	var l Listeners
	// Must not panic with no callbacks registered.
	l.Processing(Event{ProcessingKey: "k"})
	l.Success(Event{MediaID: "m"})
	l.Error(Event{ErrorMessage: "boom"})
}

func TestCollectorRecordsDeliveredEvents(t *testing.T) {
	c := &Collector{}
	l := c.Listeners()

	l.Processing(Event{ProcessingKey: "igpub-1"})
	if c.Processing == nil || c.Processing.ProcessingKey != "igpub-1" {
		t.Errorf("processing event not recorded: %+v", c.Processing)
	}
	if c.Success != nil || c.Failure != nil {
		t.Error("no terminal event was delivered")
	}

	l.Success(Event{ProcessingKey: "igpub-1", MediaID: "media-1", Permalink: "https://www.instagram.com/p/X/"})
	if c.Success == nil || c.Success.MediaID != "media-1" {
		t.Errorf("success event not recorded: %+v", c.Success)
	}

	l.Error(Event{ProcessingKey: "igpub-1", ErrorMessage: "container failed"})
	if c.Failure == nil || c.Failure.ErrorMessage != "container failed" {
		t.Errorf("failure event not recorded: %+v", c.Failure)
	}
}
