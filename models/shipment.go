package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InboundShipment groups the packs created from one receiving event.
type InboundShipment struct {
	ID              int       `gorm:"primary_key" json:"id"`
	BusinessId      string    `gorm:"index;not null" json:"business_id"`
	SupplierId      int       `gorm:"index;not null" json:"supplier_id"`
	PurchaseOrderId int       `gorm:"index" json:"purchase_order_id"`
	SkuId           int       `gorm:"index;not null" json:"sku_id"`
	ReferenceNumber string    `gorm:"size:100" json:"reference_number"`
	ShipmentDate    time.Time `gorm:"not null" json:"shipment_date"`
	Notes           string    `gorm:"type:text" json:"notes"`
	Packs           []Pack    `gorm:"foreignKey:ShipmentId" json:"packs"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Pack is one shipped physical unit. Status and IsPrinted are projections of
// the pack's Barcode, written only inside lifecycle transactions; everything
// else is immutable after creation.
type Pack struct {
	ID         int             `gorm:"primary_key" json:"id"`
	ShipmentId int             `gorm:"index;not null" json:"shipment_id"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Unit       string          `gorm:"size:20" json:"unit"`
	Notes      string          `gorm:"size:255" json:"notes"`
	Status     BarcodeStatus   `gorm:"type:enum('in-stock','out-of-stock','lost');default:'in-stock'" json:"status"`
	IsPrinted  *bool           `gorm:"not null;default:false" json:"is_printed"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewShipment struct {
	SupplierId      int        `json:"supplier_id" binding:"required"`
	PurchaseOrderId int        `json:"purchase_order_id"`
	SkuId           int        `json:"sku_id" binding:"required"`
	ReferenceNumber string     `json:"reference_number"`
	ShipmentDate    *time.Time `json:"shipment_date"`
	Notes           string     `json:"notes"`
	Packs           []NewPack  `json:"packs" binding:"required,dive"`
}

type NewPack struct {
	Quantity decimal.Decimal `json:"quantity" binding:"required"`
	Unit     string          `json:"unit"`
	Notes    string          `json:"notes"`
}

func (input *NewShipment) validate(ctx context.Context, businessId string) error {
	if len(input.Packs) == 0 {
		return errors.New("shipment needs at least one pack")
	}
	for _, pack := range input.Packs {
		if !pack.Quantity.IsPositive() {
			return errors.New("pack quantity must be positive")
		}
	}
	if err := utils.ValidateResourceId[Supplier](ctx, businessId, input.SupplierId); err != nil {
		return errors.New("supplier not found")
	}
	if err := utils.ValidateResourceId[Sku](ctx, businessId, input.SkuId); err != nil {
		return errors.New("sku not found")
	}
	if input.PurchaseOrderId > 0 {
		if err := utils.ValidateResourceId[PurchaseOrder](ctx, businessId, input.PurchaseOrderId); err != nil {
			return errors.New("purchase order not found")
		}
	}
	return nil
}

// CreateShipment persists the shipment, its packs and one barcode per pack.
// New packs enter the lifecycle as in-stock, so the sku aggregates grow by
// the pack count and quantity sum in the same transaction.
func CreateShipment(ctx context.Context, input *NewShipment) (*InboundShipment, []*Barcode, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, nil, err
	}

	sku, err := GetSku(ctx, input.SkuId)
	if err != nil {
		return nil, nil, err
	}

	shipmentDate := time.Now().UTC()
	if input.ShipmentDate != nil {
		shipmentDate = *input.ShipmentDate
	}

	shipment := InboundShipment{
		BusinessId:      businessId,
		SupplierId:      input.SupplierId,
		PurchaseOrderId: input.PurchaseOrderId,
		SkuId:           input.SkuId,
		ReferenceNumber: input.ReferenceNumber,
		ShipmentDate:    shipmentDate,
		Notes:           input.Notes,
	}

	var barcodes []*Barcode
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&shipment).Error; err != nil {
			return err
		}

		seed := time.Now().UnixMilli()
		totalQty := decimal.Zero
		for i, newPack := range input.Packs {
			unit := newPack.Unit
			if unit == "" {
				unit = sku.Unit
			}
			pack := Pack{
				ShipmentId: shipment.ID,
				Quantity:   newPack.Quantity,
				Unit:       unit,
				Notes:      newPack.Notes,
				Status:     BarcodeStatusInStock,
				IsPrinted:  utils.NewFalse(),
			}
			if err := tx.Create(&pack).Error; err != nil {
				return err
			}

			barcode := Barcode{
				BusinessId: businessId,
				SkuId:      input.SkuId,
				PackId:     pack.ID,
				ShipmentId: shipment.ID,
				Code:       GenerateBarcode(seed + int64(i)),
				Quantity:   newPack.Quantity,
				Unit:       unit,
				Status:     BarcodeStatusInStock,
				IsPrinted:  utils.NewFalse(),
			}
			if err := tx.Create(&barcode).Error; err != nil {
				return err
			}
			barcodes = append(barcodes, &barcode)
			shipment.Packs = append(shipment.Packs, pack)
			totalQty = totalQty.Add(newPack.Quantity)
		}

		if err := applySkuAggregateDelta(tx, input.SkuId, len(input.Packs), totalQty); err != nil {
			return err
		}
		return PublishToWarehouseFeed(ctx, tx, businessId, shipment.ID, FeedReferenceTypeShipment, FeedActionCreated, &shipment)
	})
	if err != nil {
		return nil, nil, err
	}

	removeSkuCache(input.SkuId)
	return &shipment, barcodes, nil
}

func GetShipment(ctx context.Context, id int) (*InboundShipment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var shipment InboundShipment
	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Packs").
		Where("business_id = ?", businessId).
		First(&shipment, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &shipment, nil
}

func ListShipments(ctx context.Context, skuId *int) ([]*InboundShipment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*InboundShipment
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if skuId != nil && *skuId > 0 {
		dbCtx = dbCtx.Where("sku_id = ?", *skuId)
	}
	if err := dbCtx.Order("shipment_date DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
