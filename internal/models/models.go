package models

import (
	"encoding/json"
	"time"
)

// Assignment entity types
const (
	EntityTypeProduct  = "product"
	EntityTypeCategory = "category"
)

// BlueprintAssignment binds a blueprint to a single product or to a whole
// category. Created and updated by the remote dashboard; read-only here.
type BlueprintAssignment struct {
	ID            int64  `json:"id"`
	EntityType    string `json:"entity_type"`
	EntityID      int64  `json:"entity_id,omitempty"`
	CategoryID    int64  `json:"category_id,omitempty"`
	BlueprintID   int64  `json:"blueprint_id"`
	BlueprintName string `json:"blueprint_name"`
	IsActive      bool   `json:"is_active"`
}

// BlueprintField is an immutable field definition within a blueprint.
type BlueprintField struct {
	FieldName  string   `json:"field_name"`
	FieldLabel string   `json:"field_label"`
	FieldType  string   `json:"field_type"`
	IsRequired bool     `json:"is_required,omitempty"`
	Choices    []string `json:"choices,omitempty"`
}

// BlueprintSchema is the unit of cache reuse: one schema is shared by every
// product in the same category.
type BlueprintSchema struct {
	BlueprintID   int64            `json:"blueprint_id"`
	BlueprintName string           `json:"blueprint_name"`
	CategoryID    int64            `json:"category_id"`
	Fields        []BlueprintField `json:"fields"`
	LastFetched   time.Time        `json:"last_fetched"`
}

// FieldValue is one field-name/value pair as returned by the remote source.
type FieldValue struct {
	FieldName  string `json:"field_name"`
	FieldValue string `json:"field_value"`
}

// ProductFieldValues is the per-product materialization of field values
// against the category schema. Values may be mutated locally by UI edits;
// persisting such edits is a separate write path owned by the caller.
type ProductFieldValues struct {
	ProductID   int64             `json:"product_id"`
	Values      map[string]string `json:"values"`
	LastFetched time.Time         `json:"last_fetched"`
}

// PricingRule is the raw rule payload. Conditions and Formula arrive either
// as JSON objects or as JSON-encoded strings depending on the authoring
// path, so both stay raw until the interpreter decodes them.
type PricingRule struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id,omitempty"`
	RuleName   string          `json:"rule_name"`
	RuleType   string          `json:"rule_type,omitempty"`
	Priority   int             `json:"priority,omitempty"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Formula    json.RawMessage `json:"formula,omitempty"`
	StartDate  *time.Time      `json:"start_date,omitempty"`
	EndDate    *time.Time      `json:"end_date,omitempty"`
	IsActive   bool            `json:"is_active"`
}

// PricingTier is a price applicable over a quantity range (Max nil means
// open-ended) or an exact quantity (Min == Max). Derived, never persisted.
type PricingTier struct {
	Min      int     `json:"min"`
	Max      *int    `json:"max,omitempty"`
	Price    float64 `json:"price"`
	Unit     string  `json:"unit"`
	Label    string  `json:"label"`
	RuleName string  `json:"rule_name"`
}

// PricingRuleGroup is the unit of display: the tiers produced by one rule,
// sorted ascending by Min.
type PricingRuleGroup struct {
	RuleName    string        `json:"rule_name"`
	RuleID      int64         `json:"rule_id"`
	ProductType string        `json:"product_type"`
	Tiers       []PricingTier `json:"tiers"`
}

// PricingData is the resolved pricing for one product. Tiers is the flat
// concatenation of all group tiers for callers that ignore grouping.
type PricingData struct {
	ProductID     int64              `json:"product_id"`
	BlueprintID   int64              `json:"blueprint_id"`
	BlueprintName string             `json:"blueprint_name"`
	Groups        []PricingRuleGroup `json:"groups"`
	Tiers         []PricingTier      `json:"tiers"`
}

// ProductRef is the slice of the remote product record this service needs:
// identity plus category membership in the product's category order.
type ProductRef struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name,omitempty"`
	CategoryIDs []int64 `json:"category_ids"`
}
