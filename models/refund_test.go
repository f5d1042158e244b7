package models_test

import (
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/warehouse_backend/models"
	"github.com/shopspring/decimal"
)

func TestBuildRefundAggregatesDiscrepancyAmounts(t *testing.T) {
	session := &models.POReceive{
		ID:              7,
		BusinessId:      "biz-1",
		PurchaseOrderId: 3,
		SupplierId:      12,
	}
	items := []models.POReceiveItem{
		{
			Name:              "Blue Shirt M",
			QtyNotReceived:    decimal.NewFromInt(10),
			AmountNotReceived: decimal.NewFromInt(50),
			QtyDamaged:        decimal.NewFromInt(10),
			AmountDamaged:     decimal.NewFromInt(50),
		},
		{
			Name:              "Blue Shirt L",
			QtyNotReceived:    decimal.Zero,
			AmountNotReceived: decimal.Zero,
			QtyDamaged:        decimal.NewFromInt(2),
			AmountDamaged:     decimal.NewFromInt(18),
		},
		{
			// fully received line contributes nothing
			Name:              "Blue Shirt XL",
			QtyNotReceived:    decimal.Zero,
			AmountNotReceived: decimal.Zero,
			QtyDamaged:        decimal.Zero,
			AmountDamaged:     decimal.Zero,
		},
	}

	refund := models.BuildRefund(session, items)
	if refund == nil {
		t.Fatal("BuildRefund returned nil, want a refund")
	}
	if !refund.Amount.Equal(decimal.NewFromInt(118)) {
		t.Errorf("Amount = %s, want 118", refund.Amount)
	}
	if refund.ReceiveId != 7 || refund.PurchaseOrderId != 3 || refund.SupplierId != 12 {
		t.Errorf("refund keys = receive %d / po %d / supplier %d, want 7 / 3 / 12",
			refund.ReceiveId, refund.PurchaseOrderId, refund.SupplierId)
	}
	if refund.BusinessId != "biz-1" {
		t.Errorf("BusinessId = %q, want biz-1", refund.BusinessId)
	}

	lines := strings.Split(refund.Notes, "\n")
	if len(lines) != 2 {
		t.Fatalf("Notes has %d lines, want 2 (clean lines are omitted):\n%s", len(lines), refund.Notes)
	}
	if !strings.Contains(lines[0], "Blue Shirt M") || !strings.Contains(lines[0], "not received 10") {
		t.Errorf("first note line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Blue Shirt L") || !strings.Contains(lines[1], "damaged 2") {
		t.Errorf("second note line = %q", lines[1])
	}
}

func TestBuildRefundNilWhenNothingToRefund(t *testing.T) {
	session := &models.POReceive{ID: 1, BusinessId: "biz-1"}
	items := []models.POReceiveItem{
		{Name: "Line A"},
		{Name: "Line B"},
	}
	if refund := models.BuildRefund(session, items); refund != nil {
		t.Errorf("BuildRefund = %+v, want nil for a clean session", refund)
	}
}
