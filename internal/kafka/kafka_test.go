package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
)

func TestSendHeartbeat(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var hb models.Heartbeat
		if err := json.Unmarshal(val, &hb); err != nil {
			return err
		}
		if hb.StreamID != "cam-1" || hb.Action != models.CommandStart || hb.Frame != 42 {
			return errors.New("unexpected heartbeat payload")
		}
		return nil
	})

	producer := NewProducerFromSync(mock, "heartbeats", "detections")
	defer producer.Close()

	err := producer.SendHeartbeat(models.Heartbeat{
		StreamID:  "cam-1",
		Action:    models.CommandStart,
		Frame:     42,
		TimeStamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SendHeartbeat failed: %v", err)
	}
}

func TestObserverPublishesDetection(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "detections" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "cam-7" {
			return errors.New("wrong key " + string(key))
		}
		val, _ := msg.Value.Encode()
		var ev models.DetectionEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Message != "Circle detected in frame" || ev.StreamID != "cam-7" {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	producer := NewProducerFromSync(mock, "heartbeats", "detections")
	defer producer.Close()

	if err := producer.Observer("cam-7").Update("Circle detected in frame"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestSendFailureIsReturned(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducerFromSync(mock, "heartbeats", "detections")
	defer producer.Close()

	err := producer.SendDetection(models.DetectionEvent{StreamID: "x"})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("Expected ErrOutOfBrokers, got %v", err)
	}
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimForwardsAndAcks(t *testing.T) {
	out := make(chan Message, 1)
	handler := &consumerGroupHandler{messages: out, closed: make(chan struct{})}

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 1)}
	sess := &fakeSession{ctx: context.Background()}
	raw := &sarama.ConsumerMessage{Value: []byte(`{"stream_id":"a","action":"start"}`)}
	claim.messages <- raw
	close(claim.messages)

	if err := handler.ConsumeClaim(sess, claim); err != nil {
		t.Fatalf("ConsumeClaim failed: %v", err)
	}

	msg := <-out
	if string(msg.Value) != string(raw.Value) {
		t.Fatalf("unexpected message value %q", msg.Value)
	}
	if len(sess.marked) != 0 {
		t.Fatal("message must not be acked before processing")
	}

	msg.Ack()
	if len(sess.marked) != 1 || sess.marked[0] != raw {
		t.Fatalf("Expected message to be acked, got %v", sess.marked)
	}
}

func TestConsumeClaimStopsOnClose(t *testing.T) {
	closed := make(chan struct{})
	handler := &consumerGroupHandler{messages: make(chan Message), closed: closed}
	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan error)
	go func() {
		done <- handler.ConsumeClaim(&fakeSession{ctx: context.Background()}, claim)
	}()
	close(closed)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return after close")
	}
}
