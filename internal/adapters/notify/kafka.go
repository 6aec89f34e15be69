package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/garvit124/AutoPO/internal/app"
)

type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaNotifier publishes messages for a mail relay to pick up, keyed by
// recipient so one customer's messages stay ordered.
type KafkaNotifier struct {
	producer Producer
}

func NewKafkaNotifier(producer Producer) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

type outgoing struct {
	Recipient        string `json:"recipient"`
	Subject          string `json:"subject"`
	Body             string `json:"body"`
	DocumentID       string `json:"document_id,omitempty"`
	DocumentLocation string `json:"document_location,omitempty"`
}

func (n *KafkaNotifier) Send(ctx context.Context, msg app.Message) error {
	out := outgoing{
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
	}
	if msg.Document != nil {
		out.DocumentID = msg.Document.ID
		out.DocumentLocation = msg.Document.Location
	}

	value, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := n.producer.WriteMessage(ctx, kafka.Message{Key: []byte(msg.Recipient), Value: value}); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
