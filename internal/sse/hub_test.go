package sse

import (
	"testing"

	"github.com/google/uuid"

	"github.com/soleahealth/insights-backend/internal/logger"
)

func TestHubBroadcastReachesOnlyTargetUser(t *testing.T) {
	hub := NewHub(logger.NewNop())
	alice := uuid.New()
	bob := uuid.New()

	aliceClient := hub.Subscribe(alice)
	bobClient := hub.Subscribe(bob)
	defer hub.Unsubscribe(aliceClient)
	defer hub.Unsubscribe(bobClient)

	hub.Broadcast(Message{UserID: alice, Event: EventRegenStarted})

	select {
	case msg := <-aliceClient.Outbound:
		if msg.Event != EventRegenStarted {
			t.Fatalf("event = %q, want %q", msg.Event, EventRegenStarted)
		}
	default:
		t.Fatal("alice should have received the message")
	}
	select {
	case msg := <-bobClient.Outbound:
		t.Fatalf("bob received a message not addressed to them: %+v", msg)
	default:
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(logger.NewNop())
	userID := uuid.New()

	client := hub.Subscribe(userID)
	hub.Unsubscribe(client)
	hub.Broadcast(Message{UserID: userID, Event: EventSectionFresh})

	// Unsubscribe closes Outbound, so a successful receive here would mean a
	// message slipped in before the channel was closed.
	if msg, ok := <-client.Outbound; ok {
		t.Fatalf("unsubscribed client received %+v", msg)
	}
}

func TestHubDropsWhenClientBufferFull(t *testing.T) {
	hub := NewHub(logger.NewNop())
	userID := uuid.New()
	client := hub.Subscribe(userID)
	defer hub.Unsubscribe(client)

	// Never drained: the buffer fills and later broadcasts must not block.
	for i := 0; i < cap(client.Outbound)+8; i++ {
		hub.Broadcast(Message{UserID: userID, Event: EventSectionGenerating})
	}
	if got := len(client.Outbound); got != cap(client.Outbound) {
		t.Fatalf("buffered = %d, want full buffer %d", got, cap(client.Outbound))
	}
}
