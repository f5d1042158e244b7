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

// Barcode is the authoritative lifecycle record of one pack. The Status
// column here is the source of truth; Pack.Status is a projection mirrored
// inside the same transaction that writes this row.
type Barcode struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	SkuId      int             `gorm:"index;not null" json:"sku_id"`
	PackId     int             `gorm:"uniqueIndex;not null" json:"pack_id"`
	ShipmentId int             `gorm:"index;not null" json:"shipment_id"`
	Code       string          `gorm:"size:14;uniqueIndex;not null" json:"code"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	Unit       string          `gorm:"size:20" json:"unit"`
	Status     BarcodeStatus   `gorm:"type:enum('in-stock','out-of-stock','lost');default:'in-stock'" json:"status"`
	IsPrinted  *bool           `gorm:"not null;default:false" json:"is_printed"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// barcodeQueryChunkSize bounds IN-clause batch reads (the store caps
// "in"-query fan-out, so larger id lists are chunked client-side).
const barcodeQueryChunkSize = 30

const barcodeDigits = 13

// GenerateBarcode builds a 14-digit identifier from a monotonically
// distinguishing seed: the low-order 13 decimal digits, zero-padded, plus an
// ITF check digit. Batch callers offset the seed by the pack index so one
// shipment never collides with itself.
func GenerateBarcode(seed int64) string {
	base := seed % 10_000_000_000_000
	if base < 0 {
		base = -base
	}
	body := fmt.Sprintf("%0*d", barcodeDigits, base)
	return body + fmt.Sprint(barcodeCheckDigit(body))
}

// barcodeCheckDigit computes the ITF checksum: digits at even zero-based
// positions weigh 3, odd positions weigh 1; check = (10 - sum mod 10) mod 10.
func barcodeCheckDigit(body string) int {
	sum := 0
	for i, r := range body {
		d := int(r - '0')
		if i%2 == 0 {
			sum += d * 3
		} else {
			sum += d
		}
	}
	return (10 - sum%10) % 10
}

// ValidateBarcode reports whether code is 14 numeric digits with a correct
// check digit.
func ValidateBarcode(code string) bool {
	if len(code) != barcodeDigits+1 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return barcodeCheckDigit(code[:barcodeDigits]) == int(code[barcodeDigits]-'0')
}

func canTransitionBarcode(from, to BarcodeStatus) bool {
	switch from {
	case BarcodeStatusInStock:
		return to == BarcodeStatusOutOfStock || to == BarcodeStatusLost
	case BarcodeStatusOutOfStock:
		return to == BarcodeStatusInStock
	case BarcodeStatusLost:
		// restore; the caller layer gates this behind an elevated permission
		return to == BarcodeStatusInStock
	}
	return false
}

// skuPackDelta returns the aggregate pack-count delta of a transition:
// +1 moving into in-stock, -1 moving out, 0 between the non-in-stock states.
func skuPackDelta(from, to BarcodeStatus) int {
	switch {
	case from != BarcodeStatusInStock && to == BarcodeStatusInStock:
		return 1
	case from == BarcodeStatusInStock && to != BarcodeStatusInStock:
		return -1
	}
	return 0
}

func applySkuAggregateDelta(tx *gorm.DB, skuId int, packDelta int, qtyDelta decimal.Decimal) error {
	if packDelta == 0 && qtyDelta.IsZero() {
		return nil
	}
	return tx.Model(&Sku{}).Where("id = ?", skuId).
		Updates(map[string]interface{}{
			"remaining_packs":    gorm.Expr("remaining_packs + ?", packDelta),
			"remaining_quantity": gorm.Expr("remaining_quantity + ?", qtyDelta),
		}).Error
}

// transitionBarcodeTx performs one lifecycle transition inside the caller's
// transaction. All reads are issued (and row-locked) before any write:
// barcode status, the mirrored pack status and the sku aggregates then change
// as one unit or not at all.
func transitionBarcodeTx(ctx context.Context, tx *gorm.DB, businessId string, barcodeId int, newStatus BarcodeStatus) (*Barcode, error) {
	if !newStatus.Valid() {
		return nil, errors.New("invalid barcode status")
	}

	var barcode Barcode
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&barcode, barcodeId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	if barcode.Status == newStatus {
		// a concurrent operator won the race; surface it instead of merging
		return nil, fmt.Errorf("barcode %s is already %s: %w", barcode.Code, newStatus, utils.ErrorConflict)
	}
	if !canTransitionBarcode(barcode.Status, newStatus) {
		return nil, fmt.Errorf("barcode %s cannot move from %s to %s", barcode.Code, barcode.Status, newStatus)
	}

	oldStatus := barcode.Status
	if err := tx.Model(&Barcode{}).Where("id = ?", barcode.ID).
		Update("status", newStatus).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&Pack{}).Where("id = ?", barcode.PackId).
		Update("status", newStatus).Error; err != nil {
		return nil, err
	}

	packDelta := skuPackDelta(oldStatus, newStatus)
	qtyDelta := barcode.Quantity.Mul(decimal.NewFromInt(int64(packDelta)))
	if err := applySkuAggregateDelta(tx, barcode.SkuId, packDelta, qtyDelta); err != nil {
		return nil, err
	}

	barcode.Status = newStatus
	if err := PublishToWarehouseFeed(ctx, tx, businessId, barcode.ID, FeedReferenceTypeBarcode, FeedActionTransitioned, &barcode); err != nil {
		return nil, err
	}
	return &barcode, nil
}

// TransitionBarcode is the single write path into the pack lifecycle.
func TransitionBarcode(ctx context.Context, barcodeId int, newStatus BarcodeStatus) (*Barcode, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var result *Barcode
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = transitionBarcodeTx(ctx, tx, businessId, barcodeId, newStatus)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	removeSkuCache(result.SkuId)
	return result, nil
}

func ListInStockBarcodes(ctx context.Context, skuId int) ([]*Barcode, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := utils.ValidateResourceId[Sku](ctx, businessId, skuId); err != nil {
		return nil, errors.New("sku not found")
	}

	db := config.GetDB()
	var results []*Barcode
	if err := db.WithContext(ctx).
		Where("business_id = ? AND sku_id = ? AND status = ?", businessId, skuId, BarcodeStatusInStock).
		Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetBarcodesByIds loads barcodes in chunks of barcodeQueryChunkSize.
func GetBarcodesByIds(ctx context.Context, ids []int) ([]*Barcode, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	results := make([]*Barcode, 0, len(ids))
	for _, chunk := range utils.ChunkSlice(utils.UniqueSlice(ids), barcodeQueryChunkSize) {
		var batch []*Barcode
		if err := db.WithContext(ctx).
			Where("business_id = ? AND id IN ?", businessId, chunk).
			Find(&batch).Error; err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

// MarkBarcodesPrinted flips the print flag on barcodes and their mirrored
// packs. Printing has no aggregate effect.
func MarkBarcodesPrinted(ctx context.Context, ids []int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	if len(ids) == 0 {
		return nil
	}

	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var barcodes []*Barcode
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND id IN ?", businessId, utils.UniqueSlice(ids)).
			Find(&barcodes).Error; err != nil {
			return err
		}
		if len(barcodes) != len(utils.UniqueSlice(ids)) {
			return utils.ErrorRecordNotFound
		}

		packIds := make([]int, 0, len(barcodes))
		barcodeIds := make([]int, 0, len(barcodes))
		for _, b := range barcodes {
			packIds = append(packIds, b.PackId)
			barcodeIds = append(barcodeIds, b.ID)
		}
		if err := tx.Model(&Barcode{}).Where("id IN ?", barcodeIds).
			Update("is_printed", true).Error; err != nil {
			return err
		}
		return tx.Model(&Pack{}).Where("id IN ?", packIds).
			Update("is_printed", true).Error
	})
}
