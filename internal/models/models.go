package models

import (
	"image"
	"time"
)

type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// Candidate is one circle proposal from the shape transform.
type Candidate struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Radius int `json:"radius"`
}

// Movement is the record of one qualifying detection. Image holds the
// sharpened crop when the detection was stable long enough to be saved.
type Movement struct {
	Timestamp   time.Time   `json:"timestamp"`
	Description string      `json:"description"`
	Image       image.Image `json:"-"`
}

// Equal compares timestamp instant and description, ignoring the image.
func (m Movement) Equal(other Movement) bool {
	return m.Timestamp.Equal(other.Timestamp) && m.Description == other.Description
}

// DetectionEvent is published to brokers and websocket clients on every
// notification.
type DetectionEvent struct {
	StreamID  string    `json:"stream_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamCommand asks the runner to start or stop a headless stream.
type StreamCommand struct {
	StreamID   string        `json:"stream_id"`
	Action     CommandAction `json:"action"`
	StreamType string        `json:"stream_type"`
	URL        string        `json:"url,omitempty"`
}

type Heartbeat struct {
	StreamID  string        `json:"StreamID"`
	Action    CommandAction `json:"Action"`
	Frame     int64         `json:"Frame"`
	TimeStamp time.Time     `json:"TimeStamp"`
}

// Stream Структура для потоков, запущенных раннером
type Stream struct {
	ID         string        `json:"id"`
	Action     CommandAction `json:"action"`
	StreamType string        `json:"stream_type"`
	URL        string        `json:"url"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
