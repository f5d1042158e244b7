package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// POReceive is one receiving session per purchase order. IN_PROGRESS ->
// COMPLETED is one-way; completion and refund emission happen in a single
// transaction so a crash can never leave a completed session without its
// refund.
type POReceive struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"uniqueIndex:idx_receive_po;index;not null" json:"business_id"`
	PurchaseOrderId    int             `gorm:"uniqueIndex:idx_receive_po;not null" json:"purchase_order_id"`
	SupplierId         int             `gorm:"index;not null" json:"supplier_id"`
	Status             ReceiveStatus   `gorm:"type:enum('IN_PROGRESS','COMPLETED');default:'IN_PROGRESS'" json:"status"`
	TotalItemsCount    int             `gorm:"not null;default:0" json:"total_items_count"`
	TotalReceivedItems int             `gorm:"not null;default:0" json:"total_received_items"`
	CompletedAt        *time.Time      `json:"completed_at"`
	Items              []POReceiveItem `gorm:"foreignKey:ReceiveId" json:"items"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// POReceiveItem is the line-level receiving ledger. The invariant
// QtyReceived + QtyNotReceived + QtyDamaged == Quantity holds after every
// mutation; the derived amounts always use the Amount/Quantity ratio of the
// ordered line.
type POReceiveItem struct {
	ID                  int             `gorm:"primary_key" json:"id"`
	ReceiveId           int             `gorm:"index;not null" json:"receive_id"`
	PurchaseOrderItemId int             `gorm:"index;not null" json:"purchase_order_item_id"`
	SkuId               int             `gorm:"index;not null" json:"sku_id"`
	Name                string          `gorm:"size:255;not null" json:"name"`
	Quantity            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Amount              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	QtyReceived         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_received"`
	QtyDamaged          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_damaged"`
	QtyNotReceived      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty_not_received"`
	TotalPcsFinal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_pcs_final"`
	AmountNotReceived   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_not_received"`
	AmountDamaged       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_damaged"`
	HasReceivedInput    *bool           `gorm:"not null;default:false" json:"has_received_input"`
	CreatedAt           time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// recalc re-derives the dependent fields from the quantity invariant.
func (item *POReceiveItem) recalc() {
	item.QtyNotReceived = item.Quantity.Sub(item.QtyReceived).Sub(item.QtyDamaged)
	if item.QtyNotReceived.IsNegative() {
		item.QtyNotReceived = decimal.Zero
	}
	item.TotalPcsFinal = item.QtyReceived.Add(item.QtyNotReceived).Add(item.QtyDamaged)

	if item.Quantity.IsPositive() {
		unitAmount := item.Amount.Div(item.Quantity)
		item.AmountNotReceived = item.QtyNotReceived.Mul(unitAmount)
		item.AmountDamaged = item.QtyDamaged.Mul(unitAmount)
	}
}

// InitializeReceiving opens (or returns the already-open) receiving session
// for a purchase order. Every order line with a mapped sku is copied into a
// ledger line with the full ordered quantity assumed pending.
func InitializeReceiving(ctx context.Context, poId int) (*POReceive, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()

	// idempotent: re-initializing an existing session returns it
	existing, err := findReceiveByOrder(ctx, businessId, poId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	po, err := GetPurchaseOrder(ctx, poId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, errors.New("purchase order not found")
		}
		return nil, err
	}

	var eligible []PurchaseOrderItem
	for _, item := range po.Items {
		if item.SkuId > 0 {
			eligible = append(eligible, item)
		}
	}
	if len(eligible) == 0 {
		return nil, errors.New("purchase order has no lines with a mapped sku")
	}

	session := POReceive{
		BusinessId:      businessId,
		PurchaseOrderId: poId,
		SupplierId:      po.SupplierId,
		Status:          ReceiveStatusInProgress,
		TotalItemsCount: len(eligible),
	}
	for _, item := range eligible {
		line := POReceiveItem{
			PurchaseOrderItemId: item.ID,
			SkuId:               item.SkuId,
			Name:                item.Name,
			Quantity:            item.Quantity,
			Amount:              item.Amount,
			QtyReceived:         decimal.Zero,
			QtyDamaged:          decimal.Zero,
			HasReceivedInput:    utils.NewFalse(),
		}
		line.recalc()
		session.Items = append(session.Items, line)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		return PublishToWarehouseFeed(ctx, tx, businessId, session.ID, FeedReferenceTypeReceive, FeedActionCreated, &session)
	})
	if err != nil {
		// a concurrent initializer may have won on the unique (business, po) key
		if existing, findErr := findReceiveByOrder(ctx, businessId, poId); findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return &session, nil
}

func findReceiveByOrder(ctx context.Context, businessId string, poId int) (*POReceive, error) {
	var session POReceive
	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Items").
		Where("business_id = ? AND purchase_order_id = ?", businessId, poId).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// lockReceiveLine reads the ledger line and its session with row locks,
// rejecting mutations on completed sessions. All reads happen here, before
// the caller writes anything. Locks are taken session before item, the same
// order CompleteReceiving uses, so receipt and completion never deadlock
// against each other.
func lockReceiveLine(ctx context.Context, tx *gorm.DB, businessId string, lineId int) (*POReceiveItem, *POReceive, error) {
	// resolve the parent session id without a lock; ReceiveId is immutable
	var ref POReceiveItem
	if err := tx.WithContext(ctx).
		Select("id", "receive_id").
		First(&ref, lineId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, utils.ErrorRecordNotFound
		}
		return nil, nil, err
	}

	var session POReceive
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&session, ref.ReceiveId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, utils.ErrorRecordNotFound
		}
		return nil, nil, err
	}
	if session.Status == ReceiveStatusCompleted {
		return nil, nil, errors.New("receiving session is already completed")
	}

	var item POReceiveItem
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, lineId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, utils.ErrorRecordNotFound
		}
		return nil, nil, err
	}
	return &item, &session, nil
}

// RecordReceipt adds additionalQty to a line's received figure. Receipt is
// additive because several receiving events can feed one line over time.
func RecordReceipt(ctx context.Context, lineId int, additionalQty decimal.Decimal) (*POReceiveItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !additionalQty.IsPositive() {
		return nil, errors.New("received quantity must be positive")
	}

	var result *POReceiveItem
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, session, err := lockReceiveLine(ctx, tx, businessId, lineId)
		if err != nil {
			return err
		}

		// session-level progress, counted before any write
		var receivedOthers int64
		if err := tx.Model(&POReceiveItem{}).
			Where("receive_id = ? AND has_received_input = ? AND id != ?", session.ID, true, item.ID).
			Count(&receivedOthers).Error; err != nil {
			return err
		}

		item.QtyReceived = item.QtyReceived.Add(additionalQty)
		item.HasReceivedInput = utils.NewTrue()
		item.recalc()

		if err := tx.Model(&POReceiveItem{}).Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"qty_received":        item.QtyReceived,
				"qty_not_received":    item.QtyNotReceived,
				"total_pcs_final":     item.TotalPcsFinal,
				"amount_not_received": item.AmountNotReceived,
				"amount_damaged":      item.AmountDamaged,
				"has_received_input":  true,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&POReceive{}).Where("id = ?", session.ID).
			Update("total_received_items", receivedOthers+1).Error; err != nil {
			return err
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordDamaged overwrites a line's damaged figure (it does not accumulate,
// so a corrected count can simply be re-entered). Damaged plus received can
// never exceed the ordered quantity.
func RecordDamaged(ctx context.Context, lineId int, damagedQty decimal.Decimal) (*POReceiveItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if damagedQty.IsNegative() {
		return nil, errors.New("damaged quantity cannot be negative")
	}

	var result *POReceiveItem
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, _, err := lockReceiveLine(ctx, tx, businessId, lineId)
		if err != nil {
			return err
		}

		if item.QtyReceived.Add(damagedQty).GreaterThan(item.Quantity) {
			return fmt.Errorf("line %q: received %s plus damaged %s exceeds ordered quantity %s",
				item.Name, item.QtyReceived, damagedQty, item.Quantity)
		}

		item.QtyDamaged = damagedQty
		item.recalc()

		if err := tx.Model(&POReceiveItem{}).Where("id = ?", item.ID).
			Updates(map[string]interface{}{
				"qty_damaged":         item.QtyDamaged,
				"qty_not_received":    item.QtyNotReceived,
				"total_pcs_final":     item.TotalPcsFinal,
				"amount_not_received": item.AmountNotReceived,
				"amount_damaged":      item.AmountDamaged,
			}).Error; err != nil {
			return err
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteReceiving closes the session. Every line must have received input;
// when the aggregated discrepancy amount is positive, exactly one refund is
// written in the same transaction as the status flip.
func CompleteReceiving(ctx context.Context, sessionId int) (*POReceive, *Refund, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}

	var session POReceive
	var refund *Refund
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ?", businessId).
			First(&session, sessionId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if session.Status == ReceiveStatusCompleted {
			return errors.New("receiving session is already completed")
		}

		var items []POReceiveItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("receive_id = ?", session.ID).
			Find(&items).Error; err != nil {
			return err
		}

		incomplete := 0
		for _, item := range items {
			if !utils.DereferencePtr(item.HasReceivedInput) {
				incomplete++
			}
		}
		if incomplete > 0 {
			return fmt.Errorf("%d line(s) have no received input", incomplete)
		}

		refund = BuildRefund(&session, items)
		if refund != nil {
			if err := tx.Create(refund).Error; err != nil {
				return err
			}
			if err := PublishToWarehouseFeed(ctx, tx, businessId, refund.ID, FeedReferenceTypeRefund, FeedActionCreated, refund); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		session.Status = ReceiveStatusCompleted
		session.CompletedAt = &now
		session.TotalReceivedItems = len(items)
		if err := tx.Model(&POReceive{}).Where("id = ?", session.ID).
			Updates(map[string]interface{}{
				"status":               ReceiveStatusCompleted,
				"completed_at":         &now,
				"total_received_items": len(items),
			}).Error; err != nil {
			return err
		}
		return PublishToWarehouseFeed(ctx, tx, businessId, session.ID, FeedReferenceTypeReceive, FeedActionCompleted, &session)
	})
	if err != nil {
		return nil, nil, err
	}
	return &session, refund, nil
}

func GetReceiveSession(ctx context.Context, id int) (*POReceive, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var session POReceive
	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Items").
		Where("business_id = ?", businessId).
		First(&session, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &session, nil
}
