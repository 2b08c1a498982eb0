package service

import (
	"strings"

	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

// Normalizer maps any barcode spelling onto its canonical barcode
type Normalizer struct {
	aliases  map[string]string
	padEAN13 bool
	logger   *zap.Logger
}

// NewNormalizer creates a new Normalizer from the alias table
func NewNormalizer(aliases []models.BarcodeAlias, padEAN13 bool) *Normalizer {
	n := &Normalizer{
		aliases:  make(map[string]string, len(aliases)),
		padEAN13: padEAN13,
		logger:   util.GetLogger(),
	}
	for _, a := range aliases {
		alias := n.clean(a.AliasBarcode)
		main := n.clean(a.MainBarcode)
		if alias == "" || main == "" {
			continue
		}
		n.aliases[alias] = main
	}
	return n
}

// Normalize trims the input and follows at most one alias hop. Chained
// aliases are not followed further; they are logged and counted.
func (n *Normalizer) Normalize(barcode string) string {
	b := n.clean(barcode)
	if b == "" {
		return ""
	}
	main, ok := n.aliases[b]
	if !ok {
		return b
	}
	if next, chained := n.aliases[main]; chained && next != main {
		util.AliasChainWarningsTotal.Inc()
		n.logger.Warn("Barcode alias chain detected, using first hop",
			zap.String("barcode", b),
			zap.String("main", main),
			zap.String("next", next),
		)
	}
	return main
}

func (n *Normalizer) clean(barcode string) string {
	b := strings.TrimSpace(barcode)
	if n.padEAN13 {
		b = padEAN13(b)
	}
	return b
}

// padEAN13 left-pads short all-digit codes to 13 digits; codes of 12 digits
// or more are left as they are
func padEAN13(b string) string {
	if b == "" || len(b) >= 12 {
		return b
	}
	for _, r := range b {
		if r < '0' || r > '9' {
			return b
		}
	}
	return strings.Repeat("0", 13-len(b)) + b
}
