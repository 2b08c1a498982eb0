package platform

import (
	"stock-sync/config"
	"stock-sync/internal/models"
)

// NewAdapters builds one adapter per supported marketplace. Adapters without
// credentials are still returned; they report Configured() == false.
func NewAdapters(creds config.PlatformCredentials, hbCacheFile string) []Adapter {
	return []Adapter{
		NewTrendyolAdapter(creds.Trendyol),
		NewIdefixAdapter(creds.Idefix),
		NewAmazonAdapter(creds.Amazon),
		NewWooCommerceAdapter(creds.WooCommerce),
		NewHepsiburadaAdapter(creds.Hepsiburada, hbCacheFile),
	}
}

// Index keys adapters by platform
func Index(adapters []Adapter) map[models.Platform]Adapter {
	out := make(map[models.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		out[a.Platform()] = a
	}
	return out
}
