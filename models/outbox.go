package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for FeedMessageRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// FeedMessageRecord is a transactional-outbox row. Mutations write it inside
// their own DB transaction; the dispatcher publishes after commit.
type FeedMessageRecord struct {
	ID               int               `gorm:"primary_key" json:"id"`
	BusinessId       string            `gorm:"index;not null" json:"business_id"`
	OccurredAt       time.Time         `gorm:"not null" json:"occurred_at"`
	ReferenceId      int               `gorm:"index;not null" json:"reference_id"`
	ReferenceType    FeedReferenceType `gorm:"size:50;index;not null" json:"reference_type"`
	Action           FeedAction        `gorm:"size:30;not null" json:"action"`
	Payload          []byte            `gorm:"type:mediumblob" json:"payload"`
	Actor            string            `gorm:"size:100" json:"actor"`
	CorrelationId    string            `gorm:"size:64" json:"correlation_id"`
	PublishStatus    string            `gorm:"size:20;index;not null;default:PENDING" json:"publish_status"`
	PublishAttempts  int               `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string           `gorm:"type:text" json:"last_publish_error"`
	NextAttemptAt    *time.Time        `json:"next_attempt_at"`
	LockedAt         *time.Time        `json:"locked_at"`
	LockedBy         *string           `gorm:"size:64" json:"locked_by"`
	PubSubMessageId  *string           `gorm:"size:64" json:"pub_sub_message_id"`
	PublishedAt      *time.Time        `json:"published_at"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishToWarehouseFeed stages one changefeed event inside the caller's
// transaction. Nothing leaves the process here; the outbox dispatcher picks
// the row up after the surrounding transaction commits.
func PublishToWarehouseFeed(ctx context.Context, tx *gorm.DB, businessId string, refId int, refType FeedReferenceType, action FeedAction, obj interface{}) error {
	var payload []byte
	var err error
	if obj != nil {
		payload, err = json.Marshal(obj)
		if err != nil {
			return err
		}
	}

	record := FeedMessageRecord{
		BusinessId:    businessId,
		OccurredAt:    time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		Payload:       payload,
		Actor:         actorFromContext(ctx),
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}

func actorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := utils.GetUsernameFromContext(ctx)
	return v
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ConvertToFeedMessage maps an outbox row to its published wire form.
func ConvertToFeedMessage(rec FeedMessageRecord) config.FeedMessage {
	return config.FeedMessage{
		ID:            rec.ID,
		BusinessId:    rec.BusinessId,
		OccurredAt:    rec.OccurredAt,
		ReferenceId:   rec.ReferenceId,
		ReferenceType: string(rec.ReferenceType),
		Action:        string(rec.Action),
		Payload:       rec.Payload,
		Actor:         rec.Actor,
		CorrelationId: rec.CorrelationId,
	}
}
