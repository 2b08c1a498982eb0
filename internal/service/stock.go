package service

import (
	"sync"

	"stock-sync/internal/models"
)

// StockCalculator answers available-stock questions from one snapshot
type StockCalculator struct {
	central  map[string]int
	reserved map[string]int

	mu      sync.Mutex
	clamped map[string]bool
}

// NewStockCalculator folds the snapshot onto canonical barcodes so stock or
// reservations recorded under an alias count for the main barcode
func NewStockCalculator(snap *models.StockSnapshot, n *Normalizer) *StockCalculator {
	c := &StockCalculator{
		central:  make(map[string]int, len(snap.Central)),
		reserved: make(map[string]int, len(snap.Reserved)),
		clamped:  make(map[string]bool),
	}
	for barcode, qty := range snap.Central {
		c.central[n.Normalize(barcode)] += qty
	}
	for barcode, qty := range snap.Reserved {
		c.reserved[n.Normalize(barcode)] += qty
	}
	return c
}

// Available returns max(0, central - reserved) for a canonical barcode
func (c *StockCalculator) Available(barcode string) int {
	qty := c.central[barcode] - c.reserved[barcode]
	if qty < 0 {
		c.mu.Lock()
		c.clamped[barcode] = true
		c.mu.Unlock()
		return 0
	}
	return qty
}

// AdjustedNegative counts distinct barcodes whose result was clamped
func (c *StockCalculator) AdjustedNegative() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clamped)
}
