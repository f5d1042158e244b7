package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"github.com/shopspring/decimal"
)

// Refund is the derived monetary record of one completed receiving session:
// the value of goods not received or damaged. Written exactly once, by
// CompleteReceiving, and never regenerated.
type Refund struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	ReceiveId       int             `gorm:"uniqueIndex;not null" json:"receive_id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	SupplierId      int             `gorm:"index;not null" json:"supplier_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Notes           string          `gorm:"type:text" json:"notes"`
	RefundDate      time.Time       `gorm:"not null" json:"refund_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BuildRefund aggregates the discrepancy amounts of a session's lines into
// one refund record with a per-line breakdown. Returns nil when there is
// nothing to refund. Pure: persisting is the caller's job.
func BuildRefund(session *POReceive, items []POReceiveItem) *Refund {
	total := decimal.Zero
	var lines []string
	for _, item := range items {
		lineAmount := item.AmountNotReceived.Add(item.AmountDamaged)
		if lineAmount.IsZero() {
			continue
		}
		total = total.Add(lineAmount)

		var parts []string
		if !item.AmountNotReceived.IsZero() {
			parts = append(parts, fmt.Sprintf("not received %s pcs (%s)", item.QtyNotReceived, item.AmountNotReceived.StringFixed(2)))
		}
		if !item.AmountDamaged.IsZero() {
			parts = append(parts, fmt.Sprintf("damaged %s pcs (%s)", item.QtyDamaged, item.AmountDamaged.StringFixed(2)))
		}
		lines = append(lines, fmt.Sprintf("%s: %s", item.Name, strings.Join(parts, ", ")))
	}

	if !total.IsPositive() {
		return nil
	}
	return &Refund{
		BusinessId:      session.BusinessId,
		ReceiveId:       session.ID,
		PurchaseOrderId: session.PurchaseOrderId,
		SupplierId:      session.SupplierId,
		Amount:          total,
		Notes:           strings.Join(lines, "\n"),
		RefundDate:      time.Now().UTC(),
	}
}

func GetRefund(ctx context.Context, id int) (*Refund, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Refund](ctx, businessId, id)
}

func ListRefunds(ctx context.Context, supplierId *int) ([]*Refund, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Refund
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if supplierId != nil && *supplierId > 0 {
		dbCtx = dbCtx.Where("supplier_id = ?", *supplierId)
	}
	if err := dbCtx.Order("refund_date DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
