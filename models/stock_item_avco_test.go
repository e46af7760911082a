package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestWeightedAverageCost_TwoReceipts(t *testing.T) {
	// receive 50 @ 10.00 into an empty item, then 50 @ 20.00
	afterFirst := WeightedAverageCost(decimal.Zero, decimal.Zero, dec("50"), dec("10"))
	if !afterFirst.Equal(dec("10")) {
		t.Fatalf("after first receipt avg = %s, want 10", afterFirst)
	}
	afterSecond := WeightedAverageCost(dec("50"), afterFirst, dec("50"), dec("20"))
	if !afterSecond.Equal(dec("15")) {
		t.Fatalf("after second receipt avg = %s, want 15", afterSecond)
	}
}

func TestWeightedAverageCost_UnevenQuantities(t *testing.T) {
	// 30 @ 12.00 on hand, receive 10 @ 20.00 -> (360+200)/40 = 14.00
	got := WeightedAverageCost(dec("30"), dec("12"), dec("10"), dec("20"))
	if !got.Equal(dec("14")) {
		t.Fatalf("avg = %s, want 14", got)
	}
}

func TestWeightedAverageCost_RoundsToFourPlaces(t *testing.T) {
	got := WeightedAverageCost(dec("3"), dec("1"), dec("4"), dec("2"))
	// (3 + 8) / 7 = 1.571428... -> 1.5714
	if !got.Equal(dec("1.5714")) {
		t.Fatalf("avg = %s, want 1.5714", got)
	}
}

func TestWeightedAverageCost_ZeroDenominatorRetainsPriorCost(t *testing.T) {
	got := WeightedAverageCost(decimal.Zero, dec("9.5"), decimal.Zero, dec("100"))
	if !got.Equal(dec("9.5")) {
		t.Fatalf("avg = %s, want prior cost 9.5", got)
	}
}

func TestAvailableQty(t *testing.T) {
	item := StockItem{PhysicalQty: dec("100"), ReservedQty: dec("40")}
	if !item.AvailableQty().Equal(dec("60")) {
		t.Fatalf("available = %s, want 60", item.AvailableQty())
	}
}
