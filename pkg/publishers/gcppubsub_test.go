package publishers

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"

	"github.com/boardwatch-hq/ptt-board-courier/internal/domain"
)

func TestPubSubPublisherPublishes(t *testing.T) {
	// Use the in-memory Pub/Sub emulator.
	server := pstest.NewServer()
	defer server.Close()
	defer os.Unsetenv("PUBSUB_EMULATOR_HOST")
	os.Setenv("PUBSUB_EMULATOR_HOST", server.Addr)

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := client.CreateTopic(ctx, "matched-entries"); err != nil {
		t.Fatalf("create topic: %v", err)
	}

	pub, err := newPubSubPublisher(ctx, SinkConfig{
		ID:   "stream",
		Type: TypePubSub,
		PubSub: &GCPQueueConfig{
			ProjectID: "test-project",
			Topic:     "matched-entries",
		},
	}, nil)
	if err != nil {
		t.Fatalf("newPubSubPublisher: %v", err)
	}

	err = pub.Publish(ctx, Event{
		WatchID: "watch-1",
		Entry:   domain.Entry{Title: "hello", Board: "Tech_Job"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if closer, ok := pub.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
}
