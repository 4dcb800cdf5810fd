package models

import (
	"studiobook/internal/apperr"
)

const (
	DefaultCDJCount = 2
	MinCDJCount     = 2
	MaxCDJCount     = 4
)

// CatalogItem is an equipment item offered by the studio.
type CatalogItem struct {
	Equipment    `yaml:",inline"`
	PricePerHour int64 `yaml:"price_per_hour"`
}

// PriceList computes booking totals. Amounts are in minor units.
type PriceList struct {
	HourlyRate      int64
	CDJItemID       int64
	CDJExtraPerHour int64
	Catalog         map[int64]CatalogItem
}

// NewPriceList indexes the catalog by item id.
func NewPriceList(hourlyRate, cdjItemID, cdjExtraPerHour int64, items []CatalogItem) PriceList {
	catalog := make(map[int64]CatalogItem, len(items))
	for _, item := range items {
		catalog[item.ID] = item
	}
	return PriceList{
		HourlyRate:      hourlyRate,
		CDJItemID:       cdjItemID,
		CDJExtraPerHour: cdjExtraPerHour,
		Catalog:         catalog,
	}
}

// NormalizeEquipment rejects unknown or duplicate items and copies name, type
// and category from the catalog. Without a catalog the references pass through.
func (p PriceList) NormalizeEquipment(selected []Equipment) ([]Equipment, error) {
	out := make([]Equipment, 0, len(selected))
	seen := make(map[int64]bool, len(selected))
	for _, eq := range selected {
		if seen[eq.ID] {
			return nil, apperr.Validation("equipment %d selected twice", eq.ID)
		}
		seen[eq.ID] = true

		if len(p.Catalog) == 0 {
			out = append(out, eq)
			continue
		}
		item, ok := p.Catalog[eq.ID]
		if !ok {
			return nil, apperr.Validation("unknown equipment id %d", eq.ID)
		}
		out = append(out, item.Equipment)
	}
	return out, nil
}

// NormalizeCDJCount applies the default and range check. The count only
// matters when the CDJ item is selected; otherwise it is cleared.
func (p PriceList) NormalizeCDJCount(equipment []Equipment, count int) (int, error) {
	if !p.cdjSelected(equipment) {
		return 0, nil
	}
	if count == 0 {
		return DefaultCDJCount, nil
	}
	if count < MinCDJCount || count > MaxCDJCount {
		return 0, apperr.Validation("cdjCount must be between %d and %d", MinCDJCount, MaxCDJCount)
	}
	return count, nil
}

// Total is durationHours × hourly rate plus equipment extras.
func (p PriceList) Total(durationHours int, equipment []Equipment, cdjCount int) int64 {
	hours := int64(durationHours)
	total := hours * p.HourlyRate
	for _, eq := range equipment {
		if item, ok := p.Catalog[eq.ID]; ok {
			total += item.PricePerHour * hours
		}
	}
	if p.cdjSelected(equipment) && cdjCount > DefaultCDJCount {
		total += int64(cdjCount-DefaultCDJCount) * p.CDJExtraPerHour * hours
	}
	return total
}

func (p PriceList) cdjSelected(equipment []Equipment) bool {
	if p.CDJItemID == 0 {
		return false
	}
	for _, eq := range equipment {
		if eq.ID == p.CDJItemID {
			return true
		}
	}
	return false
}

// Reprice normalizes the resource selection of b and recomputes its total.
func (p PriceList) Reprice(b *Booking) error {
	equipment, err := p.NormalizeEquipment(b.Equipment)
	if err != nil {
		return err
	}
	cdj, err := p.NormalizeCDJCount(equipment, b.CDJCount)
	if err != nil {
		return err
	}
	b.Equipment = equipment
	b.CDJCount = cdj
	b.Total = p.Total(b.DurationHours, equipment, cdj)
	return nil
}
