package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"github.com/shopspring/decimal"
)

// Sku is one catalog entry. RemainingPacks and RemainingQuantity are derived
// aggregates: they must always equal the count/quantity sum of this SKU's
// barcodes whose status is in-stock. Only barcode lifecycle transitions (and
// the offline rebuild tool) may write them.
type Sku struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BusinessId        string          `gorm:"index;not null" json:"business_id"`
	Code              string          `gorm:"size:100;not null" json:"code" binding:"required"`
	Name              string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Unit              string          `gorm:"size:20" json:"unit"`
	RemainingPacks    int             `gorm:"not null;default:0" json:"remaining_packs"`
	RemainingQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_quantity"`
	LastAuditDate     *time.Time      `json:"last_audit_date"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSku struct {
	Code string `json:"code" binding:"required"`
	Name string `json:"name" binding:"required"`
	Unit string `json:"unit"`
}

func CreateSku(ctx context.Context, input *NewSku) (*Sku, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[Sku](ctx, businessId, "code", input.Code, 0); err != nil {
		return nil, err
	}

	sku := Sku{
		BusinessId: businessId,
		Code:       input.Code,
		Name:       input.Name,
		Unit:       input.Unit,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&sku).Error; err != nil {
		return nil, err
	}
	return &sku, nil
}

// GetSku reads through the redis cache. Aggregate counters come from the
// cached copy, which is invalidated on every lifecycle transition.
func GetSku(ctx context.Context, id int) (*Sku, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	result, err := utils.RetrieveRedis[Sku](id)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result, err = utils.FetchModel[Sku](ctx, businessId, id)
		if err != nil {
			return nil, err
		}
		if err := utils.StoreRedis[Sku](result, id); err != nil {
			return nil, err
		}
	} else if result.BusinessId != businessId {
		return nil, errors.New("cannot access resource owned by other business")
	}

	return result, nil
}

func ListSkus(ctx context.Context, name *string) ([]*Sku, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Sku
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if n := utils.TrimmedOrEmpty(name); n != "" {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+n+"%")
	}
	if err := dbCtx.Order("code").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func removeSkuCache(id int) {
	_ = utils.RemoveInstanceRedis[Sku](id)
}
