package publishers

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
)

func TestGCPPubSubSenderPublishes(t *testing.T) {
	server := pstest.NewServer()
	defer server.Close()
	t.Setenv("PUBSUB_EMULATOR_HOST", server.Addr)

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	defer client.Close()
	if _, err := client.CreateTopic(ctx, "topic-1"); err != nil {
		t.Fatalf("create topic: %v", err)
	}

	sender, err := newGCPPubSubSender(ctx, &PubSubPublisherConfig{
		ProjectID: "test-project",
		Topic:     "topic-1",
	}, nil)
	if err != nil {
		t.Fatalf("newGCPPubSubSender: %v", err)
	}
	defer sender.Close()

	err = sender.Send(ctx, Event{
		Source:     "blog",
		FeedURL:    "https://example.com/feed.xml",
		EntryCount: 2,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	msgs := server.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message on the emulator, got %d", len(msgs))
	}
	if got := msgs[0].Attributes["source"]; got != "blog" {
		t.Fatalf("source attribute = %q", got)
	}
	var evt Event
	if err := json.Unmarshal(msgs[0].Data, &evt); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if evt.EntryCount != 2 || evt.FeedURL != "https://example.com/feed.xml" {
		t.Fatalf("unexpected payload %+v", evt)
	}
}

func TestGCPPubSubSenderMissingTopic(t *testing.T) {
	server := pstest.NewServer()
	defer server.Close()
	t.Setenv("PUBSUB_EMULATOR_HOST", server.Addr)

	ctx := context.Background()
	sender, err := newGCPPubSubSender(ctx, &PubSubPublisherConfig{
		ProjectID: "test-project",
		Topic:     "absent",
	}, nil)
	if err != nil {
		t.Fatalf("newGCPPubSubSender: %v", err)
	}
	defer sender.Close()

	if err := sender.Send(ctx, Event{Source: "blog"}); err == nil {
		t.Fatalf("expected error publishing to a missing topic")
	}
}
