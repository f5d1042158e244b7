package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

type PurchaseOrder struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	BusinessId  string              `gorm:"index;not null" json:"business_id"`
	SupplierId  int                 `gorm:"index;not null" json:"supplier_id"`
	OrderNumber string              `gorm:"size:100;not null" json:"order_number"`
	OrderDate   time.Time           `gorm:"not null" json:"order_date"`
	Status      PurchaseOrderStatus `gorm:"type:enum('Draft','Confirmed','Closed','Cancelled');default:'Draft'" json:"status"`
	Notes       string              `gorm:"type:text" json:"notes"`
	Items       []PurchaseOrderItem `gorm:"foreignKey:PurchaseOrderId" json:"items"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// PurchaseOrderItem is one ordered line. Amount is the line-level monetary
// total with the discount already applied; receiving refund math divides
// Amount by Quantity and never rederives the ratio from UnitPrice (the two
// are not guaranteed equal). Quantity is immutable once receiving starts.
type PurchaseOrderItem struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	SkuId           int             `gorm:"index" json:"sku_id"`
	Name            string          `gorm:"size:255;not null" json:"name"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	Discount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	LandedUnitCost  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"landed_unit_cost"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchaseOrder struct {
	SupplierId  int                    `json:"supplier_id" binding:"required"`
	OrderNumber string                 `json:"order_number" binding:"required"`
	OrderDate   time.Time              `json:"order_date" binding:"required"`
	Notes       string                 `json:"notes"`
	Items       []NewPurchaseOrderItem `json:"items" binding:"dive"`
}

type NewPurchaseOrderItem struct {
	SkuId     int             `json:"sku_id"`
	Name      string          `json:"name" binding:"required" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity" binding:"required" validate:"required"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
	Amount    decimal.Decimal `json:"amount"`
}

func (input *NewPurchaseOrderItem) toItem(poId int) (*PurchaseOrderItem, error) {
	if !input.Quantity.IsPositive() {
		return nil, fmt.Errorf("line %q: quantity must be positive", input.Name)
	}
	amount := input.Amount
	if amount.IsZero() {
		amount = input.Quantity.Mul(input.UnitPrice).Sub(input.Discount)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("line %q: amount cannot be negative", input.Name)
	}
	return &PurchaseOrderItem{
		PurchaseOrderId: poId,
		SkuId:           input.SkuId,
		Name:            input.Name,
		Quantity:        input.Quantity,
		UnitPrice:       input.UnitPrice,
		Discount:        input.Discount,
		Amount:          amount,
		LandedUnitCost:  amount.DivRound(input.Quantity, 4),
	}, nil
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Supplier](ctx, businessId, input.SupplierId); err != nil {
		return nil, errors.New("supplier not found")
	}
	if err := utils.ValidateUnique[PurchaseOrder](ctx, businessId, "order_number", input.OrderNumber, 0); err != nil {
		return nil, err
	}

	po := PurchaseOrder{
		BusinessId:  businessId,
		SupplierId:  input.SupplierId,
		OrderNumber: input.OrderNumber,
		OrderDate:   input.OrderDate,
		Status:      PurchaseOrderStatusDraft,
		Notes:       input.Notes,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&po).Error; err != nil {
			return err
		}
		for i := range input.Items {
			item, err := input.Items[i].toItem(po.ID)
			if err != nil {
				return err
			}
			if err := tx.Create(item).Error; err != nil {
				return err
			}
			po.Items = append(po.Items, *item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	var po PurchaseOrder
	db := config.GetDB()
	err := db.WithContext(ctx).Preload("Items").
		Where("business_id = ?", businessId).
		First(&po, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &po, nil
}

// receivingStarted reports whether a receiving session exists for the order;
// ordered quantities become immutable at that point.
func receivingStarted(ctx context.Context, businessId string, poId int) (bool, error) {
	count, err := utils.ResourceCountWhere[POReceive](ctx, businessId, "purchase_order_id = ?", poId)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ImportPurchaseOrderItems bulk-loads order lines from an xlsx sheet with the
// columns: name, sku code, quantity, unit price, discount, amount. The first
// row is a header. Lines whose sku code matches a catalog entry get mapped;
// the rest import unmapped and must be resolved before receiving.
func ImportPurchaseOrderItems(ctx context.Context, poId int, r io.Reader) ([]*PurchaseOrderItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[PurchaseOrder](ctx, businessId, poId); err != nil {
		return nil, errors.New("purchase order not found")
	}
	started, err := receivingStarted(ctx, businessId, poId)
	if err != nil {
		return nil, err
	}
	if started {
		return nil, errors.New("cannot import lines after receiving has started")
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, errors.New("workbook has no data rows")
	}

	var inputs []NewPurchaseOrderItem
	for i, row := range rows[1:] {
		if len(row) == 0 || strings.TrimSpace(cell(row, 0)) == "" {
			continue
		}
		input := NewPurchaseOrderItem{Name: strings.TrimSpace(cell(row, 0))}

		skuCode := strings.TrimSpace(cell(row, 1))
		if skuCode != "" {
			var sku Sku
			db := config.GetDB()
			err := db.WithContext(ctx).
				Where("business_id = ? AND code = ?", businessId, skuCode).
				First(&sku).Error
			if err == nil {
				input.SkuId = sku.ID
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, err
			}
		}

		if input.Quantity, err = parseCellDecimal(cell(row, 2)); err != nil {
			return nil, fmt.Errorf("row %d: invalid quantity: %w", i+2, err)
		}
		if input.UnitPrice, err = parseCellDecimal(cell(row, 3)); err != nil {
			return nil, fmt.Errorf("row %d: invalid unit price: %w", i+2, err)
		}
		if input.Discount, err = parseCellDecimal(cell(row, 4)); err != nil {
			return nil, fmt.Errorf("row %d: invalid discount: %w", i+2, err)
		}
		if input.Amount, err = parseCellDecimal(cell(row, 5)); err != nil {
			return nil, fmt.Errorf("row %d: invalid amount: %w", i+2, err)
		}

		if err := utils.ValidateStruct(&input); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		inputs = append(inputs, input)
	}
	if len(inputs) == 0 {
		return nil, errors.New("workbook has no data rows")
	}

	var items []*PurchaseOrderItem
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range inputs {
			item, err := inputs[i].toItem(poId)
			if err != nil {
				return err
			}
			if err := tx.Create(item).Error; err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return row[i]
}

func parseCellDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
