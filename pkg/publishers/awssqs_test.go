package publishers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
)

type fakeSQSClient struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQSClient) SendMessage(_ context.Context, params *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-123")}, nil
}

func TestAWSSQSSenderSendSuccess(t *testing.T) {
	client := &fakeSQSClient{}
	sender := &awsSQSSender{
		queueURL: "https://sqs.example.com/queue",
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
	if got := aws.ToString(client.input.QueueUrl); got != "https://sqs.example.com/queue" {
		t.Fatalf("QueueUrl = %s", got)
	}
	attr, ok := client.input.MessageAttributes["source"]
	if !ok || aws.ToString(attr.StringValue) != "blog" || aws.ToString(attr.DataType) != "String" {
		t.Fatalf("source attribute missing or wrong: %#v", attr)
	}
	if client.input.MessageGroupId != nil {
		t.Fatalf("standard queue should not get a group id")
	}
	if body := aws.ToString(client.input.MessageBody); !strings.Contains(body, `"title":"Post One"`) {
		t.Fatalf("MessageBody missing event fields: %s", body)
	}
}

func TestAWSSQSSenderSetsFIFOGroup(t *testing.T) {
	client := &fakeSQSClient{}
	sender := &awsSQSSender{
		queueURL: "https://sqs.example.com/queue.fifo",
		groupID:  "feeds",
		client:   client,
		log:      &logger.NopLogger{},
	}
	if err := sender.Send(context.Background(), Event{Source: "blog"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := aws.ToString(client.input.MessageGroupId); got != "feeds" {
		t.Fatalf("MessageGroupId = %q", got)
	}
}

func TestAWSSQSSenderSendError(t *testing.T) {
	client := &fakeSQSClient{err: errors.New("boom")}
	sender := &awsSQSSender{
		queueURL: "https://sqs.example.com/queue",
		client:   client,
		log:      &logger.NopLogger{},
	}

	if err := sender.Send(context.Background(), Event{Source: "blog"}); err == nil {
		t.Fatalf("expected error from Send")
	}
}
