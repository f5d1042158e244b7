package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestReceiveLineRecalc(t *testing.T) {
	// ordered 100 pcs for 500, received 80, damaged 10
	item := POReceiveItem{
		Quantity:    decimal.NewFromInt(100),
		Amount:      decimal.NewFromInt(500),
		QtyReceived: decimal.NewFromInt(80),
		QtyDamaged:  decimal.NewFromInt(10),
	}
	item.recalc()

	if !item.QtyNotReceived.Equal(decimal.NewFromInt(10)) {
		t.Errorf("QtyNotReceived = %s, want 10", item.QtyNotReceived)
	}
	if !item.TotalPcsFinal.Equal(decimal.NewFromInt(100)) {
		t.Errorf("TotalPcsFinal = %s, want 100", item.TotalPcsFinal)
	}
	if !item.AmountNotReceived.Equal(decimal.NewFromInt(50)) {
		t.Errorf("AmountNotReceived = %s, want 50", item.AmountNotReceived)
	}
	if !item.AmountDamaged.Equal(decimal.NewFromInt(50)) {
		t.Errorf("AmountDamaged = %s, want 50", item.AmountDamaged)
	}

	sum := item.QtyReceived.Add(item.QtyNotReceived).Add(item.QtyDamaged)
	if !sum.Equal(item.Quantity) {
		t.Errorf("received+notReceived+damaged = %s, want %s", sum, item.Quantity)
	}
}

func TestReceiveLineRecalcUsesLineAmountNotUnitPrice(t *testing.T) {
	// discounted line: 10 pcs at unit price 10 with 10 off, amount 90.
	// Discrepancy value must follow the paid amount (9/pc), not the list
	// price (10/pc).
	item := POReceiveItem{
		Quantity:    decimal.NewFromInt(10),
		Amount:      decimal.NewFromInt(90),
		QtyReceived: decimal.NewFromInt(8),
		QtyDamaged:  decimal.NewFromInt(2),
	}
	item.recalc()

	if !item.AmountDamaged.Equal(decimal.NewFromInt(18)) {
		t.Errorf("AmountDamaged = %s, want 18", item.AmountDamaged)
	}
	if !item.AmountNotReceived.IsZero() {
		t.Errorf("AmountNotReceived = %s, want 0", item.AmountNotReceived)
	}
}

func TestReceiveLineRecalcFloorsOverReceipt(t *testing.T) {
	// received more than ordered: not-received floors at zero instead of
	// going negative, and the final total reflects the surplus
	item := POReceiveItem{
		Quantity:    decimal.NewFromInt(50),
		Amount:      decimal.NewFromInt(250),
		QtyReceived: decimal.NewFromInt(55),
		QtyDamaged:  decimal.Zero,
	}
	item.recalc()

	if !item.QtyNotReceived.IsZero() {
		t.Errorf("QtyNotReceived = %s, want 0", item.QtyNotReceived)
	}
	if !item.TotalPcsFinal.Equal(decimal.NewFromInt(55)) {
		t.Errorf("TotalPcsFinal = %s, want 55", item.TotalPcsFinal)
	}
	if !item.AmountNotReceived.IsZero() {
		t.Errorf("AmountNotReceived = %s, want 0", item.AmountNotReceived)
	}
}

func TestReceiveLineRecalcFractionalRatio(t *testing.T) {
	// 3 pcs for 100: the per-unit ratio is non-terminating, the derived
	// amounts must still add back up to the full line amount
	item := POReceiveItem{
		Quantity:    decimal.NewFromInt(3),
		Amount:      decimal.NewFromInt(100),
		QtyReceived: decimal.Zero,
		QtyDamaged:  decimal.Zero,
	}
	item.recalc()

	if !item.QtyNotReceived.Equal(decimal.NewFromInt(3)) {
		t.Errorf("QtyNotReceived = %s, want 3", item.QtyNotReceived)
	}
	diff := item.AmountNotReceived.Sub(decimal.NewFromInt(100)).Abs()
	if diff.GreaterThan(decimal.New(1, -4)) {
		t.Errorf("AmountNotReceived = %s, want ~100", item.AmountNotReceived)
	}
}
