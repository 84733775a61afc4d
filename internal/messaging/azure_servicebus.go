package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"example.com/eventscout/config"
	"example.com/eventscout/internal/models"
)

// Notifier publishes accepted-event notifications for downstream consumers
type Notifier interface {
	PublishEventAccepted(ctx context.Context, event *models.Event) error
	Close() error
}

// serviceBusNotifier implements Notifier on an Azure Service Bus queue
type serviceBusNotifier struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// NewServiceBusNotifier creates a new Azure Service Bus notifier. Returns
// nil when the integration is disabled.
func NewServiceBusNotifier(cfg config.ServiceBusConfig) (Notifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusNotifier{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
	}, nil
}

// eventAcceptedMessage is the wire shape of an accepted-event notification
type eventAcceptedMessage struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Date            string `json:"date"`
	Link            string `json:"link"`
	OriginalSubject string `json:"original_subject"`
	Status          string `json:"status"`
}

// PublishEventAccepted sends one notification per accepted event
func (n *serviceBusNotifier) PublishEventAccepted(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(eventAcceptedMessage{
		ID:              event.ID.String(),
		Title:           event.Title,
		Date:            event.Date,
		Link:            event.Link,
		OriginalSubject: event.OriginalSubject,
		Status:          event.Status,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification body: %w", err)
	}

	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source": "eventscout",
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	return n.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus client
func (n *serviceBusNotifier) Close() error {
	if n.sender != nil {
		if err := n.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if n.client != nil {
		return n.client.Close(context.Background())
	}
	return nil
}
