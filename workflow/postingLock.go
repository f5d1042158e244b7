package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireSkuPostingLock serializes aggregate-rewriting work per sku across
// instances using MySQL advisory locks. GET_LOCK is connection-scoped, so
// this must be called on the same *gorm.DB that performs the rewrite.
func AcquireSkuPostingLock(tx *gorm.DB, skuId int) error {
	lockName := fmt.Sprintf("sku-posting:%d", skuId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for sku_id=%d", skuId)
	}
	return nil
}

func ReleaseSkuPostingLock(tx *gorm.DB, skuId int) {
	lockName := fmt.Sprintf("sku-posting:%d", skuId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
