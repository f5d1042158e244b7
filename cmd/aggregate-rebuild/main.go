// aggregate-rebuild recomputes sku remaining_packs / remaining_quantity from
// the in-stock barcode rows. The aggregates are written incrementally by
// lifecycle transitions; this tool repairs them after manual data surgery or
// a suspected drift.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
	"bitbucket.org/mmdatafocus/warehouse_backend/models"
	"bitbucket.org/mmdatafocus/warehouse_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	skuID := flag.Int("sku-id", 0, "Optional: rebuild a single sku")
	dryRun := flag.Bool("dry-run", false, "Report drift without writing")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing skus and continue")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	var skuIds []int
	if *skuID > 0 {
		skuIds = append(skuIds, *skuID)
	} else {
		if err := db.WithContext(ctx).Model(&models.Sku{}).
			Where("business_id = ?", strings.TrimSpace(*businessID)).
			Order("id").
			Pluck("id", &skuIds).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to list skus: %v\n", err)
			os.Exit(1)
		}
	}
	if len(skuIds) == 0 {
		fmt.Fprintln(os.Stderr, "no skus found to rebuild")
		return
	}

	fixed := 0
	for _, id := range skuIds {
		if err := rebuildSku(ctx, db, strings.TrimSpace(*businessID), id, *dryRun, &fixed); err != nil {
			config.LogError(logger, "cmd", "AggregateRebuild", fmt.Sprintf("sku_id=%d", id), nil, err)
			if !*continueOnError {
				os.Exit(1)
			}
		}
	}
	fmt.Printf("Done. %d of %d sku(s) had drift.\n", fixed, len(skuIds))
}

func rebuildSku(ctx context.Context, db *gorm.DB, businessID string, skuID int, dryRun bool, fixed *int) error {
	// Serialize against concurrent lifecycle transitions for the same sku.
	session := db.WithContext(ctx).Session(&gorm.Session{})
	if err := workflow.AcquireSkuPostingLock(session, skuID); err != nil {
		return err
	}
	defer workflow.ReleaseSkuPostingLock(session, skuID)

	return session.Transaction(func(tx *gorm.DB) error {
		var sku models.Sku
		if err := tx.Where("business_id = ? AND id = ?", businessID, skuID).First(&sku).Error; err != nil {
			return fmt.Errorf("sku %d: %w", skuID, err)
		}

		var truth struct {
			Packs    int
			Quantity decimal.Decimal
		}
		if err := tx.Model(&models.Barcode{}).
			Select("COUNT(*) AS packs, COALESCE(SUM(quantity), 0) AS quantity").
			Where("business_id = ? AND sku_id = ? AND status = ?", businessID, skuID, models.BarcodeStatusInStock).
			Scan(&truth).Error; err != nil {
			return fmt.Errorf("sku %d: %w", skuID, err)
		}

		if sku.RemainingPacks == truth.Packs && sku.RemainingQuantity.Equal(truth.Quantity) {
			return nil
		}

		*fixed++
		fmt.Printf("sku %d (%s): packs %d -> %d, quantity %s -> %s\n",
			skuID, sku.Code, sku.RemainingPacks, truth.Packs,
			sku.RemainingQuantity.String(), truth.Quantity.String())
		if dryRun {
			return nil
		}

		return tx.Model(&models.Sku{}).Where("id = ?", skuID).Updates(map[string]any{
			"remaining_packs":    truth.Packs,
			"remaining_quantity": truth.Quantity,
		}).Error
	})
}
