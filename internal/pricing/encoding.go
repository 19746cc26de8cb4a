package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"blueprint-service/internal/models"
	"blueprint-service/internal/util"
)

const defaultUnit = "units"

// Rules reach us in two authoring encodings: an explicit tiers array inside
// conditions, or a formula string that holds a JSON object mapping an exact
// quantity to a price. Both conditions and formula may arrive pre-parsed or
// as JSON-encoded strings. Everything is decoded once, here, into a tagged
// encoding; the interpreter only pattern-matches on the kind.
type encodingKind int

const (
	encodingUnsupported encodingKind = iota
	encodingExplicitTiers
	encodingFormulaMap
)

type ruleEncoding struct {
	kind           encodingKind
	conditions     ruleConditions
	quantityPrices map[int]float64
}

// ruleConditions is the authored conditions payload. The authoring tool
// writes camelCase keys, unlike the REST envelope.
type ruleConditions struct {
	BlueprintID int64           `json:"blueprintId"`
	ProductType string          `json:"productType"`
	UnitType    string          `json:"unitType"`
	Tiers       []conditionTier `json:"tiers"`
}

type conditionTier struct {
	Name        string          `json:"name"`
	MinQuantity *int            `json:"minQuantity"`
	MaxQuantity *int            `json:"maxQuantity"`
	Price       json.RawMessage `json:"price"`
}

// decodeRule classifies one raw rule. The returned error only ever means
// the conditions payload itself was unreadable; an intact rule that fits
// neither encoding comes back as encodingUnsupported.
func decodeRule(rule *models.PricingRule) (ruleEncoding, error) {
	conditions, err := decodeConditions(rule.Conditions)
	if err != nil {
		return ruleEncoding{}, err
	}

	enc := ruleEncoding{conditions: conditions}

	if conditions.Tiers != nil {
		enc.kind = encodingExplicitTiers
		return enc, nil
	}

	if prices, ok := decodeFormulaMap(rule.Formula); ok {
		enc.kind = encodingFormulaMap
		enc.quantityPrices = prices
		return enc, nil
	}

	return enc, nil
}

// decodeConditions accepts either a JSON object or a JSON string containing
// an object. A nil payload decodes to the zero conditions (which scope to
// no blueprint and therefore never match).
func decodeConditions(raw json.RawMessage) (ruleConditions, error) {
	var conditions ruleConditions

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return conditions, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return conditions, fmt.Errorf("conditions string unreadable: %w", err)
		}
		raw = []byte(inner)
	}

	if err := json.Unmarshal(raw, &conditions); err != nil {
		return conditions, fmt.Errorf("conditions payload unreadable: %w", err)
	}
	return conditions, nil
}

// decodeFormulaMap recognizes the quantity→price object encoding. A formula
// that is a price expression (or anything else) reports ok=false; entries
// with non-integer quantity keys are skipped.
func decodeFormulaMap(raw json.RawMessage) (map[int]float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, false
		}
		raw = bytes.TrimSpace([]byte(inner))
	}

	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}

	prices := make(map[int]float64, len(entries))
	for key, value := range entries {
		quantity, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		prices[quantity] = parsePrice(value)
	}
	return prices, true
}

// parsePrice parses a price that may be a JSON number or a numeric string.
// Malformed prices yield 0 and are counted so operators can see products
// silently priced as free.
func parsePrice(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		util.PricingMalformedPricesTotal.Inc()
		return 0
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			util.PricingMalformedPricesTotal.Inc()
			return 0
		}
	}

	price, err := strconv.ParseFloat(text, 64)
	if err != nil {
		util.PricingMalformedPricesTotal.Inc()
		return 0
	}
	return price
}

// tiersFor materializes the tiers for one decoded rule, sorted ascending by
// minimum quantity. Unsupported encodings contribute nothing.
func tiersFor(rule *models.PricingRule, enc ruleEncoding) []models.PricingTier {
	unit := enc.conditions.UnitType
	if unit == "" {
		unit = defaultUnit
	}

	var tiers []models.PricingTier
	switch enc.kind {
	case encodingExplicitTiers:
		tiers = make([]models.PricingTier, 0, len(enc.conditions.Tiers))
		for _, t := range enc.conditions.Tiers {
			min := 1
			if t.MinQuantity != nil {
				min = *t.MinQuantity
			}
			label := t.Name
			if label == "" {
				if t.MaxQuantity != nil {
					label = fmt.Sprintf("%d-%d %s", min, *t.MaxQuantity, unit)
				} else {
					label = fmt.Sprintf("%d+ %s", min, unit)
				}
			}
			tiers = append(tiers, models.PricingTier{
				Min:      min,
				Max:      t.MaxQuantity,
				Price:    parsePrice(t.Price),
				Unit:     unit,
				Label:    label,
				RuleName: rule.RuleName,
			})
		}

	case encodingFormulaMap:
		tiers = make([]models.PricingTier, 0, len(enc.quantityPrices))
		for quantity, price := range enc.quantityPrices {
			quantity := quantity
			tiers = append(tiers, models.PricingTier{
				Min:      quantity,
				Max:      &quantity,
				Price:    price,
				Unit:     unit,
				Label:    fmt.Sprintf("%d %s", quantity, unit),
				RuleName: rule.RuleName,
			})
		}

	default:
		return nil
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Min < tiers[j].Min })
	return tiers
}
