package publishers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
)

type fakeSNSClient struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNSClient) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-123")}, nil
}

func TestAWSSNSSenderSendSuccess(t *testing.T) {
	client := &fakeSNSClient{}
	sender := &awsSNSSender{
		topicARN: "arn:aws:sns:::topic",
		client:   client,
		log:      &logger.NopLogger{},
	}

	err := sender.Send(context.Background(), Event{
		Source:     "blog",
		EntryCount: 1,
		Entries:    []EventEntry{{ID: "id1", Title: "Post One"}},
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if client.input == nil {
		t.Fatalf("client was not called")
	}
	if got := aws.ToString(client.input.TopicArn); got != "arn:aws:sns:::topic" {
		t.Fatalf("TopicArn = %s", got)
	}
	attr, ok := client.input.MessageAttributes["source"]
	if !ok || aws.ToString(attr.StringValue) != "blog" {
		t.Fatalf("source attribute missing or wrong: %#v", attr)
	}
	if aws.ToString(attr.DataType) != "String" {
		t.Fatalf("DataType should be String, got %#v", attr.DataType)
	}
	msg := aws.ToString(client.input.Message)
	if !strings.Contains(msg, `"source":"blog"`) || !strings.Contains(msg, `"title":"Post One"`) {
		t.Fatalf("Message missing event fields: %s", msg)
	}
}

func TestAWSSNSSenderSendError(t *testing.T) {
	client := &fakeSNSClient{err: errors.New("boom")}
	sender := &awsSNSSender{
		topicARN: "arn:aws:sns:::topic",
		client:   client,
		log:      &logger.NopLogger{},
	}

	if err := sender.Send(context.Background(), Event{Source: "blog"}); err == nil {
		t.Fatalf("expected error from Send")
	}
}

func TestQueuePublisherDelegatesToSender(t *testing.T) {
	client := &fakeSNSClient{}
	pub := &queuePublisher{id: "events", typ: TypeSNS, sender: &awsSNSSender{
		topicARN: "arn:aws:sns:::topic",
		client:   client,
		log:      &logger.NopLogger{},
	}}

	if pub.ID() != "events" || pub.Type() != TypeSNS {
		t.Fatalf("unexpected identity %s/%s", pub.ID(), pub.Type())
	}
	if err := pub.Publish(context.Background(), Event{Source: "blog"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if client.input == nil {
		t.Fatalf("sender was not invoked")
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
