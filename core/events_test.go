package core

import "testing"

func TestEventSinkFuncForwardsToUnderlyingFunction(t *testing.T) {
	var got SyncEvent
	sink := EventSinkFunc(func(e SyncEvent) { got = e })
	sink.HandleSyncEvent(SyncEvent{Tag: EventOfferUpdated, OfferID: Bytes32{5}})

	if got.Tag != EventOfferUpdated || got.OfferID != (Bytes32{5}) {
		t.Fatalf("expected the wrapped function to receive the event, got %+v", got)
	}
}
