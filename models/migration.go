package models

import (
	"log"

	"bitbucket.org/mmdatafocus/warehouse_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Sku{}, &Supplier{},
		&InboundShipment{}, &Pack{}, &Barcode{},
		&StockOpnameLog{}, &StockOpnameDiscrepancy{},
		&PurchaseOrder{}, &PurchaseOrderItem{},
		&POReceive{}, &POReceiveItem{},
		&Refund{},
		&User{},
		&FeedMessageRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
