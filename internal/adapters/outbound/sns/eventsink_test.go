package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/dca/internal/ports/outbound"
	"github.com/archon-research/dca/internal/testutil"
)

type mockPublisher struct {
	inputs    []*sns.PublishInput
	PublishFn func(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error)
}

func (m *mockPublisher) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.PublishFn != nil {
		return m.PublishFn(ctx, params)
	}
	return &sns.PublishOutput{MessageId: aws.String("m-1")}, nil
}

func newSink(t *testing.T, client SNSPublisher, topics TopicARNs) *EventSink {
	t.Helper()
	sink, err := NewEventSink(client, Config{
		Topics:         topics,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Logger:         testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return sink
}

var standardTopics = TopicARNs{
	Executions:    "arn:aws:sns:us-east-1:000000000000:dca-executions",
	Cancellations: "arn:aws:sns:us-east-1:000000000000:dca-cancellations",
}

func TestPublish_RoutesByEventType(t *testing.T) {
	client := &mockPublisher{}
	sink := newSink(t, client, standardTopics)
	ctx := context.Background()

	if err := sink.Publish(ctx, outbound.ExecutionRecordedEvent{OrderID: "o-1", ExecutionStatus: "confirmed"}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Publish(ctx, outbound.OrderCancelledEvent{OrderID: "o-1"}); err != nil {
		t.Fatal(err)
	}

	if len(client.inputs) != 2 {
		t.Fatalf("published %d, want 2", len(client.inputs))
	}
	if *client.inputs[0].TopicArn != standardTopics.Executions || *client.inputs[1].TopicArn != standardTopics.Cancellations {
		t.Error("events routed to the wrong topics")
	}

	in := client.inputs[0]
	if got := *in.MessageAttributes["eventType"].StringValue; got != "execution_recorded" {
		t.Errorf("eventType attribute = %s", got)
	}
	if in.MessageGroupId != nil {
		t.Error("standard topics must not carry a message group")
	}
	var decoded outbound.ExecutionRecordedEvent
	if err := json.Unmarshal([]byte(*in.Message), &decoded); err != nil || decoded.OrderID != "o-1" {
		t.Errorf("message = %s, err = %v", *in.Message, err)
	}
}

func TestPublish_FIFOTopicGroupsByOrder(t *testing.T) {
	client := &mockPublisher{}
	sink := newSink(t, client, TopicARNs{
		Executions:    "arn:aws:sns:us-east-1:000000000000:dca-executions.fifo",
		Cancellations: "arn:aws:sns:us-east-1:000000000000:dca-cancellations.fifo",
	})

	if err := sink.Publish(context.Background(), outbound.ExecutionRecordedEvent{OrderID: "o-9"}); err != nil {
		t.Fatal(err)
	}
	in := client.inputs[0]
	if in.MessageGroupId == nil || *in.MessageGroupId != "o-9" {
		t.Errorf("MessageGroupId = %v", in.MessageGroupId)
	}
	if in.MessageDeduplicationId == nil || len(*in.MessageDeduplicationId) != 64 {
		t.Errorf("MessageDeduplicationId = %v", in.MessageDeduplicationId)
	}
}

func TestPublish_Retries(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"throttled is retried", &types.ThrottledException{Message: aws.String("slow down")}, 4},
		{"invalid parameter is not retried", &types.InvalidParameterException{Message: aws.String("bad")}, 1},
		{"cancelled is not retried", context.Canceled, 1},
		{"other client fault is not retried", &smithy.GenericAPIError{Code: "KMSDisabled", Fault: smithy.FaultClient}, 1},
		{"server fault is retried", &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockPublisher{PublishFn: func(context.Context, *sns.PublishInput) (*sns.PublishOutput, error) {
				return nil, tt.err
			}}
			sink := newSink(t, client, standardTopics)
			err := sink.Publish(context.Background(), outbound.OrderCancelledEvent{OrderID: "o-1"})
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want wrapping %v", err, tt.err)
			}
			if len(client.inputs) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", len(client.inputs), tt.wantCalls)
			}
		})
	}
}

func TestPublish_AfterClose(t *testing.T) {
	sink := newSink(t, &mockPublisher{}, standardTopics)
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sink.Publish(context.Background(), outbound.OrderCancelledEvent{OrderID: "o"}); err == nil {
		t.Error("expected error after close")
	}
}

func TestNewEventSink_Validation(t *testing.T) {
	if _, err := NewEventSink(nil, Config{Topics: standardTopics}); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := NewEventSink(&mockPublisher{}, Config{Topics: TopicARNs{Executions: "x"}}); err == nil {
		t.Error("expected error for missing cancellations topic")
	}
}
