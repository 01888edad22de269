package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewEventBus()

	var got []*Event
	bus.Subscribe(EventInvoiceCreated, func(ev *Event) error {
		got = append(got, ev)
		return nil
	})
	bus.Subscribe(EventInvoiceCreated, func(ev *Event) error {
		got = append(got, ev)
		return nil
	})
	bus.Subscribe(EventPurchaseOrderCreated, func(ev *Event) error {
		t.Error("wrong event type delivered")
		return nil
	})

	bus.Publish(&Event{Type: EventInvoiceCreated, Payload: []byte(`{}`)})

	require.Len(t, got, 2)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestPublishJSON(t *testing.T) {
	bus := NewEventBus()

	var received EntityEventPayload
	bus.Subscribe(EventPurchaseOrderCreated, func(ev *Event) error {
		return json.Unmarshal(ev.Payload, &received)
	})

	err := bus.PublishJSON(EventPurchaseOrderCreated, EntityEventPayload{
		EntityType: "purchase_order",
		EntityID:   12,
		Number:     "PO-12",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), received.EntityID)
	assert.Equal(t, "PO-12", received.Number)
}

func TestPublishJSONUnserializablePayload(t *testing.T) {
	bus := NewEventBus()
	err := bus.PublishJSON(EventInvoiceCreated, func() {})
	require.Error(t, err)
}

func TestHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewEventBus()

	delivered := false
	bus.Subscribe(EventTenantConnected, func(ev *Event) error {
		return errors.New("handler failed")
	})
	bus.Subscribe(EventTenantConnected, func(ev *Event) error {
		delivered = true
		return nil
	})

	bus.Publish(&Event{Type: EventTenantConnected})
	assert.True(t, delivered)
}

func TestNilBusPublishJSON(t *testing.T) {
	var bus *EventBus
	assert.NoError(t, bus.PublishJSON(EventInvoiceCreated, nil))
}

func TestPublishNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	// Publishing with no subscribers is a no-op.
	bus.Publish(&Event{Type: EventInvoiceUpdated})
}
