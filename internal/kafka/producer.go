package kafka

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
	"github.com/Capitan-Parrot/motion-detector/internal/observer"
)

type Producer struct {
	producer       sarama.SyncProducer
	heartbeatTopic string
	detectionTopic string
}

// NewProducer создаёт продюсер с настройками
func NewProducer(brokers []string, heartbeatTopic, detectionTopic string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return NewProducerFromSync(producer, heartbeatTopic, detectionTopic), nil
}

// NewProducerFromSync wraps an existing sarama producer.
func NewProducerFromSync(producer sarama.SyncProducer, heartbeatTopic, detectionTopic string) *Producer {
	return &Producer{
		producer:       producer,
		heartbeatTopic: heartbeatTopic,
		detectionTopic: detectionTopic,
	}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

// SendHeartbeat отправляет пульс раннера
func (p *Producer) SendHeartbeat(msg models.Heartbeat) error {
	return p.send(p.heartbeatTopic, msg.StreamID, msg)
}

// SendDetection публикует событие детекции
func (p *Producer) SendDetection(event models.DetectionEvent) error {
	return p.send(p.detectionTopic, event.StreamID, event)
}

func (p *Producer) send(topic, key string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	if _, _, err = p.producer.SendMessage(kafkaMsg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", topic, err)
	}
	return nil
}

// Observer returns an observer publishing every detection of streamID.
func (p *Producer) Observer(streamID string) *observer.Func {
	return observer.NewFunc(func(message string) error {
		return p.SendDetection(models.DetectionEvent{
			StreamID:  streamID,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
	})
}
