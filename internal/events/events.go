package events

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/nats-io/nuid"
)

// ShardCount is the fixed number of partitions for the change feed.
const ShardCount = 1024

const (
	TypeTodoCreated = "todo.created"
	TypeTodoUpdated = "todo.updated"
	TypeTodoDeleted = "todo.deleted"
)

// TodoEvent is the change-feed record published after each successful write.
type TodoEvent struct {
	EventID    string    `json:"event_id"`
	TodoID     string    `json:"todo_id"`
	EventType  string    `json:"event_type"`
	Title      string    `json:"title"`
	Completed  bool      `json:"completed"`
	OccurredAt time.Time `json:"occurred_at"`
	ShardID    int       `json:"shard_id"`
}

// ShardID calculates the deterministic shard for a given todo ID.
func ShardID(todoID string) int {
	checksum := crc32.ChecksumIEEE([]byte(todoID))
	return int(checksum % ShardCount)
}

// Subject returns the NATS subject for an event.
// Format: todo.event.{shard_id}.{todo_id}
func Subject(event TodoEvent) string {
	return fmt.Sprintf("todo.event.%d.%s", event.ShardID, event.TodoID)
}

type PublishFunc func(subject string, payload []byte) error

// Publisher emits todo change events. A nil Publisher is a no-op so callers
// never have to branch on whether the feed is configured.
type Publisher struct {
	Publish PublishFunc
	Now     func() time.Time
	NewID   func() string
}

func NewPublisher(publish PublishFunc) *Publisher {
	return &Publisher{
		Publish: publish,
		Now:     func() time.Time { return time.Now().UTC() },
		NewID:   nuid.Next,
	}
}

func (p *Publisher) TodoCreated(todoID, title string, completed bool) error {
	return p.emit(TypeTodoCreated, todoID, title, completed)
}

func (p *Publisher) TodoUpdated(todoID, title string, completed bool) error {
	return p.emit(TypeTodoUpdated, todoID, title, completed)
}

func (p *Publisher) TodoDeleted(todoID string) error {
	return p.emit(TypeTodoDeleted, todoID, "", false)
}

func (p *Publisher) emit(eventType, todoID, title string, completed bool) error {
	if p == nil {
		return nil
	}
	event := TodoEvent{
		EventID:    p.NewID(),
		TodoID:     todoID,
		EventType:  eventType,
		Title:      title,
		Completed:  completed,
		OccurredAt: p.Now(),
		ShardID:    ShardID(todoID),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.Publish(Subject(event), payload)
}
