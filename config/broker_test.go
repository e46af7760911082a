package config

import "testing"

func TestRoutingKeyForEvent(t *testing.T) {
	cases := map[string]string{
		"StockReserved":      "stock.reserved",
		"ReservationReleased": "reservation.released",
		"ShipmentCommitted":  "shipment.committed",
		"StockReceived":      "stock.received",
		"StockTransferred":   "stock.transferred",
		"StockAdjusted":      "stock.adjusted",
		"stock":              "stock",
	}
	for in, want := range cases {
		if got := RoutingKeyForEvent(in); got != want {
			t.Errorf("RoutingKeyForEvent(%q) = %q, want %q", in, got, want)
		}
	}
}
