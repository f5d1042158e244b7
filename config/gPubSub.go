package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// FeedMessage is the wire form of one outbox record published to the
// warehouse changefeed topic.
type FeedMessage struct {
	ID            int       `json:"id"`
	BusinessId    string    `json:"business_id"`
	OccurredAt    time.Time `json:"occurred_at"`
	ReferenceId   int       `json:"reference_id"`
	ReferenceType string    `json:"reference_type"`
	Action        string    `json:"action"`
	Payload       []byte    `json:"payload"`
	Actor         string    `json:"actor"`
	CorrelationId string    `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

func getFeedTopicID() string {
	if v := os.Getenv("PUBSUB_FEED_TOPIC"); v != "" {
		return v
	}
	return "warehouse-feed"
}

// PubSubConfigured reports whether a project id is available. Without one
// the dispatcher fans events out in-process only.
func PubSubConfigured() bool {
	return getPubSubProjectID() != ""
}

// GetClient returns a Pub/Sub client, initializing it lazily.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func GetClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("pubsub project id is not configured")
	}

	var opts []option.ClientOption
	if creds := os.Getenv("PUBSUB_CREDENTIALS_JSON"); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init: %w", err)
	}
	pubsubClient = client
	return pubsubClient, nil
}

// PublishFeedMessageWithResult publishes one changefeed message and waits for
// the server-assigned message id. Ordering key is the business id so that
// consumers observe one tenant's events in commit order.
func PublishFeedMessageWithResult(ctx context.Context, businessId string, msg FeedMessage) (string, error) {
	client, err := GetClient(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}

	topic := client.Topic(getFeedTopicID())
	topic.EnableMessageOrdering = true
	defer topic.Stop()

	result := topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: businessId,
		Attributes: map[string]string{
			"business_id":    businessId,
			"reference_type": msg.ReferenceType,
			"action":         msg.Action,
		},
	})
	return result.Get(ctx)
}
