package normalize

import (
	"strings"
	"time"

	"github.com/Veraticus/tollkeeper/internal/model"
)

// Raw field keys produced by the portal extractor.
const (
	FieldRoad        = "road"
	FieldTransponder = "transponder"
	FieldDate        = "date"
	FieldAmount      = "amount"
	FieldDiscount    = "discount"
	FieldPaid        = "paid"
)

// fieldAliases lists, per canonical field, the column headers used by portal
// exports. The canonical key itself is always tried first.
var fieldAliases = map[string][]string{
	FieldDate:        {"Дата", "Дата и время"},
	FieldRoad:        {`ПВП\РВП выезда`, "ПВП", "ПВП/РВП выезда"},
	FieldTransponder: {"Электронное средство", "ТС"},
	FieldAmount:      {"Сумма тарифа, ₽", "Цена"},
	FieldDiscount:    {"Скидка, %"},
	FieldPaid:        {"Оплачено, ₽", "Итого"},
}

// Lookup returns the first non-empty value for a canonical field, trying its aliases.
func Lookup(raw model.RawTrip, field string) string {
	if v := strings.TrimSpace(raw[field]); v != "" {
		return v
	}
	for _, alias := range fieldAliases[field] {
		if v := strings.TrimSpace(raw[alias]); v != "" {
			return v
		}
	}
	return ""
}

// Row normalizes a row scraped from the portal. ok is false when the natural key
// cannot be built (no parseable date or no usable transponder); such rows are not
// persisted. Other malformed fields degrade to nil.
func Row(raw model.RawTrip, now time.Time) (model.Trip, bool) {
	road := Lookup(raw, FieldRoad)
	code, class := ExtractLocation(road)
	return build(raw, now, road, code, class, model.SourceScrape)
}

// FileRow normalizes a row read from an exported report file.
func FileRow(raw model.RawTrip, now time.Time) (model.Trip, bool) {
	road := Lookup(raw, FieldRoad)
	code := FileLocationCode(road)
	_, class := ExtractLocation(road)
	return build(raw, now, road, code, class, model.SourceImport)
}

func build(raw model.RawTrip, now time.Time, road, code string, class *int, source model.TripSource) (model.Trip, bool) {
	trip := model.Trip{
		LocationCode: code,
		VehicleClass: class,
		Transponder:  Transponder(Lookup(raw, FieldTransponder)),
		BaseTariff:   Amount(Lookup(raw, FieldAmount)),
		Discount:     Percent(Lookup(raw, FieldDiscount)),
		Paid:         Amount(Lookup(raw, FieldPaid)),
		Road:         strings.TrimSpace(road),
		RawPayload:   raw,
		Source:       source,
	}

	occurred := ParseDate(Lookup(raw, FieldDate), now)
	if occurred != nil {
		trip.OccurredAt = *occurred
	}

	ok := occurred != nil && trip.Transponder != "" && trip.LocationCode != ""
	return trip, ok
}

// Rows normalizes a batch of scraped rows, returning the usable trips and the
// number of rows dropped for an unusable natural key.
func Rows(raws []model.RawTrip, now time.Time, fn func(model.RawTrip, time.Time) (model.Trip, bool)) ([]model.Trip, int) {
	trips := make([]model.Trip, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		trip, ok := fn(raw, now)
		if !ok {
			skipped++
			continue
		}
		trips = append(trips, trip)
	}
	return trips, skipped
}
