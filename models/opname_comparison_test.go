package models_test

import (
	"testing"

	"bitbucket.org/mmdatafocus/warehouse_backend/models"
	"github.com/shopspring/decimal"
)

func makeBarcodes(n int, pcsPerPack int64) []*models.Barcode {
	barcodes := make([]*models.Barcode, 0, n)
	for i := 0; i < n; i++ {
		barcodes = append(barcodes, &models.Barcode{
			ID:       i + 1,
			Code:     models.GenerateBarcode(int64(1700000000000 + i)),
			Quantity: decimal.NewFromInt(pcsPerPack),
			Status:   models.BarcodeStatusInStock,
		})
	}
	return barcodes
}

func TestCompareOpnamePartialScan(t *testing.T) {
	expected := makeBarcodes(10, 5)

	scanned := make([]string, 0, 8)
	for _, b := range expected[:8] {
		scanned = append(scanned, b.Code)
	}

	cmp := models.CompareOpname(expected, scanned)

	if cmp.MatchedPacks != 8 {
		t.Errorf("MatchedPacks = %d, want 8", cmp.MatchedPacks)
	}
	if !cmp.MatchedPcs.Equal(decimal.NewFromInt(40)) {
		t.Errorf("MatchedPcs = %s, want 40", cmp.MatchedPcs)
	}
	if cmp.MissingPacks != 2 {
		t.Errorf("MissingPacks = %d, want 2", cmp.MissingPacks)
	}
	if !cmp.MissingPcs.Equal(decimal.NewFromInt(10)) {
		t.Errorf("MissingPcs = %s, want 10", cmp.MissingPcs)
	}
	if cmp.Status != models.OpnameStatusNotOK {
		t.Errorf("Status = %s, want %s", cmp.Status, models.OpnameStatusNotOK)
	}

	// the two unscanned barcodes are the missing set
	if len(cmp.Missing) != 2 {
		t.Fatalf("len(Missing) = %d, want 2", len(cmp.Missing))
	}
	if cmp.Missing[0].ID != expected[8].ID || cmp.Missing[1].ID != expected[9].ID {
		t.Errorf("Missing ids = %d,%d, want %d,%d",
			cmp.Missing[0].ID, cmp.Missing[1].ID, expected[8].ID, expected[9].ID)
	}
}

func TestCompareOpnameFullScanIsOK(t *testing.T) {
	expected := makeBarcodes(4, 12)
	scanned := make([]string, 0, len(expected))
	for _, b := range expected {
		scanned = append(scanned, b.Code)
	}

	cmp := models.CompareOpname(expected, scanned)

	if cmp.Status != models.OpnameStatusOK {
		t.Errorf("Status = %s, want %s", cmp.Status, models.OpnameStatusOK)
	}
	if cmp.MissingPacks != 0 || !cmp.MissingPcs.IsZero() {
		t.Errorf("missing = %d packs / %s pcs, want none", cmp.MissingPacks, cmp.MissingPcs)
	}
	if cmp.MatchedPacks != 4 || !cmp.MatchedPcs.Equal(decimal.NewFromInt(48)) {
		t.Errorf("matched = %d packs / %s pcs, want 4 / 48", cmp.MatchedPacks, cmp.MatchedPcs)
	}
}

func TestCompareOpnameScanIsASet(t *testing.T) {
	expected := makeBarcodes(3, 5)

	// duplicates collapse; codes outside the expected set are ignored
	scanned := []string{
		expected[0].Code,
		expected[0].Code,
		expected[1].Code,
		"99999999999999",
	}

	cmp := models.CompareOpname(expected, scanned)

	if cmp.MatchedPacks != 2 {
		t.Errorf("MatchedPacks = %d, want 2", cmp.MatchedPacks)
	}
	if cmp.MissingPacks != 1 {
		t.Errorf("MissingPacks = %d, want 1", cmp.MissingPacks)
	}
	if !cmp.MatchedPcs.Equal(decimal.NewFromInt(10)) {
		t.Errorf("MatchedPcs = %s, want 10", cmp.MatchedPcs)
	}
}

func TestCompareOpnameEmptyScanMissesEverything(t *testing.T) {
	expected := makeBarcodes(5, 2)
	cmp := models.CompareOpname(expected, nil)

	if cmp.Status != models.OpnameStatusNotOK {
		t.Errorf("Status = %s, want %s", cmp.Status, models.OpnameStatusNotOK)
	}
	if cmp.MissingPacks != 5 || !cmp.MissingPcs.Equal(decimal.NewFromInt(10)) {
		t.Errorf("missing = %d packs / %s pcs, want 5 / 10", cmp.MissingPacks, cmp.MissingPcs)
	}
}
