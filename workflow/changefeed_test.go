package workflow

import (
	"testing"
	"time"
)

func TestChangefeedDeliversMatchingEvents(t *testing.T) {
	feed := NewChangefeed()

	all, cancelAll := feed.Subscribe(EventFilter{})
	defer cancelAll()
	barcodeOnly, cancelBarcode := feed.Subscribe(EventFilter{ReferenceType: "Barcode"})
	defer cancelBarcode()
	otherBiz, cancelOther := feed.Subscribe(EventFilter{BusinessId: "biz-2"})
	defer cancelOther()

	feed.Publish(Event{BusinessId: "biz-1", ReferenceType: "Barcode", ReferenceId: 1, Action: "transitioned"})
	feed.Publish(Event{BusinessId: "biz-1", ReferenceType: "Refund", ReferenceId: 2, Action: "created"})

	if got := drain(all); got != 2 {
		t.Errorf("unfiltered subscriber got %d events, want 2", got)
	}
	if got := drain(barcodeOnly); got != 1 {
		t.Errorf("Barcode subscriber got %d events, want 1", got)
	}
	if got := drain(otherBiz); got != 0 {
		t.Errorf("biz-2 subscriber got %d events, want 0", got)
	}
}

func TestChangefeedCancelStopsDelivery(t *testing.T) {
	feed := NewChangefeed()
	ch, cancel := feed.Subscribe(EventFilter{})
	cancel()

	// publishing after cancel must not panic, and the channel is closed
	feed.Publish(Event{BusinessId: "biz-1", ReferenceType: "Barcode"})
	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
}

func TestChangefeedDropsWhenSubscriberStalls(t *testing.T) {
	feed := NewChangefeed()
	ch, cancel := feed.Subscribe(EventFilter{})
	defer cancel()

	// overflow the buffer; Publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			feed.Publish(Event{ReferenceId: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}

	if got := drain(ch); got != subscriberBuffer {
		t.Errorf("stalled subscriber drained %d events, want %d (buffer size)", got, subscriberBuffer)
	}
}

func drain(ch <-chan Event) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}
