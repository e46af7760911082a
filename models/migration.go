package models

import (
	"log"

	"github.com/thitsarsoft/commerce_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Product{}, &Customer{}, &Location{},
		&Order{}, &OrderLine{}, &PurchaseOrder{},
		&StockItem{}, &StockMovement{}, &StockReservation{},
		&ProductStockSummary{},
		&ProductPromotion{}, &VolumePriceTier{}, &PriceListEntry{},
		&OutboxEvent{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
