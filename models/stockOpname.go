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

// StockOpnameLog is an immutable snapshot of one reconciliation run. Only its
// DiscrepancyStatus changes after creation, and only via per-barcode
// confirmation.
type StockOpnameLog struct {
	ID                int                      `gorm:"primary_key" json:"id"`
	BusinessId        string                   `gorm:"index;not null" json:"business_id"`
	SkuId             int                      `gorm:"index;not null" json:"sku_id"`
	TotalPacks        int                      `gorm:"not null" json:"total_packs"`
	TotalPcs          decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"total_pcs"`
	TotalOKPacks      int                      `gorm:"not null" json:"total_ok_packs"`
	TotalOKPcs        decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"total_ok_pcs"`
	TotalNotOKPacks   int                      `gorm:"not null" json:"total_not_ok_packs"`
	TotalNotOKPcs     decimal.Decimal          `gorm:"type:decimal(20,4);default:0" json:"total_not_ok_pcs"`
	Status            OpnameStatus             `gorm:"type:enum('OK','NOT OK');not null" json:"status"`
	DiscrepancyStatus DiscrepancyStatus        `gorm:"type:enum('pending','confirmed');not null" json:"discrepancy_status"`
	Discrepancies     []StockOpnameDiscrepancy `gorm:"foreignKey:LogId" json:"discrepancies"`
	CreatedAt         time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

// StockOpnameDiscrepancy is the worklist: one row per barcode that was
// expected in-stock but not scanned. Each row is confirmed independently;
// a log with some confirmed and some pending rows is a valid persisted state.
type StockOpnameDiscrepancy struct {
	ID          int               `gorm:"primary_key" json:"id"`
	LogId       int               `gorm:"index;not null" json:"log_id"`
	BarcodeId   int               `gorm:"index;not null" json:"barcode_id"`
	BarcodeCode string            `gorm:"size:14;not null" json:"barcode_code"`
	Quantity    decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Status      DiscrepancyStatus `gorm:"type:enum('pending','confirmed');not null;default:'pending'" json:"status"`
	ConfirmedAt *time.Time        `json:"confirmed_at"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// OpnameComparison is the pure partition of the expected in-stock set against
// a physical scan. Nothing is written until the log is committed.
type OpnameComparison struct {
	Matched      []*Barcode
	Missing      []*Barcode
	MatchedPacks int
	MatchedPcs   decimal.Decimal
	MissingPacks int
	MissingPcs   decimal.Decimal
	Status       OpnameStatus
}

// CompareOpname partitions expected into matched (scanned) and missing
// (not scanned). Scanned codes are treated as a set: duplicates collapse and
// codes outside the expected set are ignored.
func CompareOpname(expected []*Barcode, scanned []string) OpnameComparison {
	scannedSet := make(map[string]struct{}, len(scanned))
	for _, code := range scanned {
		scannedSet[code] = struct{}{}
	}

	cmp := OpnameComparison{
		MatchedPcs: decimal.Zero,
		MissingPcs: decimal.Zero,
	}
	for _, barcode := range expected {
		if _, ok := scannedSet[barcode.Code]; ok {
			cmp.Matched = append(cmp.Matched, barcode)
			cmp.MatchedPacks++
			cmp.MatchedPcs = cmp.MatchedPcs.Add(barcode.Quantity)
		} else {
			cmp.Missing = append(cmp.Missing, barcode)
			cmp.MissingPacks++
			cmp.MissingPcs = cmp.MissingPcs.Add(barcode.Quantity)
		}
	}

	if cmp.MissingPacks == 0 {
		cmp.Status = OpnameStatusOK
	} else {
		cmp.Status = OpnameStatusNotOK
	}
	return cmp
}

// SubmitOpname snapshots the expected in-stock set for the sku, compares it
// against the scanned codes and commits one immutable log plus one
// discrepancy row per missing barcode. The sku's last audit date is stamped
// in the same transaction.
func SubmitOpname(ctx context.Context, skuId int, scanned []string) (*StockOpnameLog, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	expected, err := ListInStockBarcodes(ctx, skuId)
	if err != nil {
		return nil, err
	}
	if len(expected) == 0 {
		return nil, errors.New("sku has no in-stock barcodes to reconcile")
	}

	cmp := CompareOpname(expected, scanned)

	discrepancyStatus := DiscrepancyStatusConfirmed
	if cmp.Status == OpnameStatusNotOK {
		discrepancyStatus = DiscrepancyStatusPending
	}

	log := StockOpnameLog{
		BusinessId:        businessId,
		SkuId:             skuId,
		TotalPacks:        cmp.MatchedPacks + cmp.MissingPacks,
		TotalPcs:          cmp.MatchedPcs.Add(cmp.MissingPcs),
		TotalOKPacks:      cmp.MatchedPacks,
		TotalOKPcs:        cmp.MatchedPcs,
		TotalNotOKPacks:   cmp.MissingPacks,
		TotalNotOKPcs:     cmp.MissingPcs,
		Status:            cmp.Status,
		DiscrepancyStatus: discrepancyStatus,
	}
	for _, missing := range cmp.Missing {
		log.Discrepancies = append(log.Discrepancies, StockOpnameDiscrepancy{
			BarcodeId:   missing.ID,
			BarcodeCode: missing.Code,
			Quantity:    missing.Quantity,
			Status:      DiscrepancyStatusPending,
		})
	}

	now := time.Now().UTC()
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&log).Error; err != nil {
			return err
		}
		if err := tx.Model(&Sku{}).Where("id = ?", skuId).
			Update("last_audit_date", &now).Error; err != nil {
			return err
		}
		return PublishToWarehouseFeed(ctx, tx, businessId, log.ID, FeedReferenceTypeOpnameLog, FeedActionSubmitted, &log)
	})
	if err != nil {
		return nil, err
	}

	removeSkuCache(skuId)
	return &log, nil
}

// ConfirmOpnameLost confirms one missing barcode as permanently lost: the
// barcode moves in-stock -> lost, the worklist row flips to confirmed, and
// the log's discrepancy status becomes confirmed when no pending rows remain.
// Each confirmation is its own atomic unit.
func ConfirmOpnameLost(ctx context.Context, logId int, barcodeId int) (*StockOpnameLog, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var log StockOpnameLog
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ?", businessId).
			First(&log, logId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}

		var row StockOpnameDiscrepancy
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("log_id = ? AND barcode_id = ?", logId, barcodeId).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("barcode %d is not in the missing list of log %d", barcodeId, logId)
			}
			return err
		}
		if row.Status == DiscrepancyStatusConfirmed {
			return fmt.Errorf("barcode %s is already confirmed lost: %w", row.BarcodeCode, utils.ErrorConflict)
		}

		// all reads happen before any write: count the remaining worklist now
		var pending int64
		if err := tx.Model(&StockOpnameDiscrepancy{}).
			Where("log_id = ? AND status = ?", logId, DiscrepancyStatusPending).
			Count(&pending).Error; err != nil {
			return err
		}

		if _, err := transitionBarcodeTx(ctx, tx, businessId, barcodeId, BarcodeStatusLost); err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&StockOpnameDiscrepancy{}).Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"status":       DiscrepancyStatusConfirmed,
				"confirmed_at": &now,
			}).Error; err != nil {
			return err
		}

		if pending-1 <= 0 {
			log.DiscrepancyStatus = DiscrepancyStatusConfirmed
			if err := tx.Model(&StockOpnameLog{}).Where("id = ?", log.ID).
				Update("discrepancy_status", DiscrepancyStatusConfirmed).Error; err != nil {
				return err
			}
		}
		return PublishToWarehouseFeed(ctx, tx, businessId, log.ID, FeedReferenceTypeOpnameLog, FeedActionConfirmed, &row)
	})
	if err != nil {
		return nil, err
	}

	removeSkuCache(log.SkuId)
	return &log, nil
}

func GetOpnameLog(ctx context.Context, id int) (*StockOpnameLog, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var log StockOpnameLog
	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Discrepancies").
		Where("business_id = ?", businessId).
		First(&log, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &log, nil
}

func ListOpnameLogs(ctx context.Context, skuId *int) ([]*StockOpnameLog, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*StockOpnameLog
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if skuId != nil && *skuId > 0 {
		dbCtx = dbCtx.Where("sku_id = ?", *skuId)
	}
	if err := dbCtx.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
