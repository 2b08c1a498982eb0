package service

import (
	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/platform"
	"stock-sync/internal/util"
)

// ProductIndex answers which products are listed on which platform
type ProductIndex struct {
	byBarcode  map[string]*models.Product
	byPlatform map[models.Platform][]*models.Product
}

// NewProductIndex indexes products under their normalized barcode. Rows that
// collapse onto the same canonical barcode are kept once: a row stored under
// the canonical barcode wins over rows stored under one of its aliases.
func NewProductIndex(products []models.Product, n *Normalizer) *ProductIndex {
	ix := &ProductIndex{
		byBarcode:  make(map[string]*models.Product, len(products)),
		byPlatform: make(map[models.Platform][]*models.Product),
	}
	logger := util.GetLogger()

	var redirected []*models.Product
	for i := range products {
		p := &products[i]
		raw := n.clean(p.Barcode)
		p.Barcode = n.Normalize(p.Barcode)
		if p.Barcode == "" {
			continue
		}
		if raw != p.Barcode {
			redirected = append(redirected, p)
			continue
		}
		ix.add(p, logger)
	}
	for _, p := range redirected {
		ix.add(p, logger)
	}
	return ix
}

func (ix *ProductIndex) add(p *models.Product, logger *zap.Logger) {
	if _, dup := ix.byBarcode[p.Barcode]; dup {
		logger.Warn("Duplicate product for canonical barcode, keeping the first",
			zap.String("barcode", p.Barcode),
			zap.String("name", p.Name),
		)
		return
	}
	ix.byBarcode[p.Barcode] = p
	for _, listed := range p.Platforms {
		ix.byPlatform[listed] = append(ix.byPlatform[listed], p)
	}
}

// Lookup finds a product by canonical barcode
func (ix *ProductIndex) Lookup(barcode string) (*models.Product, bool) {
	p, ok := ix.byBarcode[barcode]
	return p, ok
}

// ProductsOn lists products published on p in catalog order
func (ix *ProductIndex) ProductsOn(p models.Platform) []*models.Product {
	return ix.byPlatform[p]
}

// WorkItem builds the item sent to target for product, reporting false when
// the platform needs an external id the product does not carry
func WorkItem(target models.Platform, product *models.Product, quantity int) (platform.WorkItem, bool) {
	item := platform.WorkItem{Barcode: product.Barcode, Quantity: quantity}
	switch target {
	case models.PlatformAmazon:
		item.ASIN = product.ASIN
		item.MerchantSKU = product.MerchantSKU
		return item, item.ASIN != "" || item.MerchantSKU != ""
	case models.PlatformWooCommerce:
		item.WooProductID = product.WooProductID
		return item, item.WooProductID > 0
	case models.PlatformHepsiburada:
		// a missing pair is resolved from the listing map by the adapter
		item.MerchantSKU = product.MerchantSKU
		item.HepsiburadaSKU = product.HepsiburadaSKU
	}
	return item, true
}
