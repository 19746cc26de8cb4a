package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"blueprint-service/internal/clock"
	"blueprint-service/internal/models"
	"blueprint-service/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned assignments and rules; the resolver endpoints
// are unused by the interpreter.
type fakeSource struct {
	assignments []models.BlueprintAssignment
	rules       []models.PricingRule
	failRules   bool
}

func (f *fakeSource) ListAssignments(ctx context.Context) ([]models.BlueprintAssignment, error) {
	return f.assignments, nil
}

func (f *fakeSource) ListBlueprintFields(ctx context.Context, blueprintID int64) ([]models.BlueprintField, error) {
	return nil, nil
}

func (f *fakeSource) GetProductFieldValues(ctx context.Context, productID int64) ([]models.FieldValue, error) {
	return nil, nil
}

func (f *fakeSource) BatchProductFieldValues(ctx context.Context, productIDs []int64) (map[int64][]models.FieldValue, error) {
	return nil, nil
}

func (f *fakeSource) ListPricingRules(ctx context.Context, productID int64) ([]models.PricingRule, error) {
	if f.failRules {
		return nil, errors.New("rules unavailable")
	}
	return f.rules, nil
}

func (f *fakeSource) GetProduct(ctx context.Context, productID int64) (*models.ProductRef, error) {
	return nil, nil
}

func newTestInterpreter(source *fakeSource) *Interpreter {
	clk := clock.NewFakeClock(time.Now())
	assignments := resolver.NewAssignmentCache(source, clk, 5*time.Minute, 2*time.Second)
	return New(source, assignments, clk)
}

func tieredRule(id, blueprintID int64, name string, tiers string) models.PricingRule {
	conditions := `{"blueprintId":` + jsonInt(blueprintID) + `,"tiers":` + tiers + `}`
	return models.PricingRule{
		ID:         id,
		RuleName:   name,
		Conditions: json.RawMessage(conditions),
		IsActive:   true,
	}
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}

func productAssignment(productID, blueprintID int64, name string) models.BlueprintAssignment {
	return models.BlueprintAssignment{
		EntityType:    models.EntityTypeProduct,
		EntityID:      productID,
		BlueprintID:   blueprintID,
		BlueprintName: name,
		IsActive:      true,
	}
}

func categoryAssignment(categoryID, blueprintID int64, name string) models.BlueprintAssignment {
	return models.BlueprintAssignment{
		EntityType:    models.EntityTypeCategory,
		CategoryID:    categoryID,
		BlueprintID:   blueprintID,
		BlueprintName: name,
		IsActive:      true,
	}
}

func TestResolvePricingProductAssignmentTakesPrecedence(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{
			categoryAssignment(7, 2, "Category Blueprint"),
			productAssignment(11, 1, "Product Blueprint"),
		},
		rules: []models.PricingRule{
			tieredRule(1, 1, "Direct", `[{"minQuantity":1,"price":10}]`),
			tieredRule(2, 2, "Inherited", `[{"minQuantity":1,"price":5}]`),
		},
	}

	i := newTestInterpreter(source)
	product := &models.ProductRef{ID: 11, CategoryIDs: []int64{7}}

	data := i.ResolvePricing(context.Background(), 11, product)

	require.NotNil(t, data)
	assert.Equal(t, int64(1), data.BlueprintID)
	assert.Equal(t, "Product Blueprint", data.BlueprintName)
	require.Len(t, data.Groups, 1)
	assert.Equal(t, "Direct", data.Groups[0].RuleName)
}

func TestResolvePricingCategoryFallbackFollowsCategoryOrder(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{
			categoryAssignment(8, 2, "Second"),
			categoryAssignment(7, 1, "First"),
		},
		rules: []models.PricingRule{
			tieredRule(1, 1, "First rule", `[{"minQuantity":1,"price":10}]`),
		},
	}

	i := newTestInterpreter(source)
	product := &models.ProductRef{ID: 11, CategoryIDs: []int64{7, 8}}

	data := i.ResolvePricing(context.Background(), 11, product)

	require.NotNil(t, data)
	assert.Equal(t, int64(1), data.BlueprintID)
}

func TestResolvePricingScopesRulesToBlueprint(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		rules: []models.PricingRule{
			tieredRule(1, 1, "Mine", `[{"minQuantity":1,"price":10}]`),
			tieredRule(2, 2, "Other", `[{"minQuantity":1,"price":5}]`),
		},
	}

	i := newTestInterpreter(source)

	data := i.ResolvePricing(context.Background(), 11, nil)

	require.NotNil(t, data)
	require.Len(t, data.Groups, 1)
	assert.Equal(t, "Mine", data.Groups[0].RuleName)
	require.Len(t, data.Groups[0].Tiers, 1)
	assert.Equal(t, 1, data.Groups[0].Tiers[0].Min)
	assert.Equal(t, 10.0, data.Groups[0].Tiers[0].Price)
}

func TestResolvePricingFormulaMapEncoding(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		rules: []models.PricingRule{
			{
				ID:         1,
				RuleName:   "Pack pricing",
				Conditions: json.RawMessage(`{"blueprintId":1,"unitType":"packs"}`),
				Formula:    json.RawMessage(`"{\"10\": 70, \"5\": 40}"`),
				IsActive:   true,
			},
		},
	}

	i := newTestInterpreter(source)

	data := i.ResolvePricing(context.Background(), 11, nil)

	require.NotNil(t, data)
	require.Len(t, data.Groups, 1)
	tiers := data.Groups[0].Tiers
	require.Len(t, tiers, 2)

	// Exact-match tiers, ascending by quantity.
	assert.Equal(t, 5, tiers[0].Min)
	require.NotNil(t, tiers[0].Max)
	assert.Equal(t, 5, *tiers[0].Max)
	assert.Equal(t, 40.0, tiers[0].Price)
	assert.Equal(t, "5 packs", tiers[0].Label)

	assert.Equal(t, 10, tiers[1].Min)
	assert.Equal(t, 70.0, tiers[1].Price)
}

func TestResolvePricingNoAssignmentReturnsNil(t *testing.T) {
	source := &fakeSource{
		rules: []models.PricingRule{
			tieredRule(1, 1, "Orphan", `[{"minQuantity":1,"price":10}]`),
		},
	}

	i := newTestInterpreter(source)

	assert.Nil(t, i.ResolvePricing(context.Background(), 11, &models.ProductRef{ID: 11, CategoryIDs: []int64{7}}))
}

func TestResolvePricingNoMatchingRulesReturnsNil(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		rules: []models.PricingRule{
			tieredRule(1, 2, "Other blueprint", `[{"minQuantity":1,"price":10}]`),
		},
	}

	i := newTestInterpreter(source)

	assert.Nil(t, i.ResolvePricing(context.Background(), 11, nil))
}

func TestResolvePricingRuleFetchFailureReturnsNil(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		failRules:   true,
	}

	i := newTestInterpreter(source)

	assert.Nil(t, i.ResolvePricing(context.Background(), 11, nil))
}

func TestResolvePricingDropsUnparseableRuleOnly(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		rules: []models.PricingRule{
			{
				ID:         1,
				RuleName:   "Broken",
				Conditions: json.RawMessage(`"{not json"`),
				IsActive:   true,
			},
			tieredRule(2, 1, "Healthy", `[{"minQuantity":1,"price":10}]`),
		},
	}

	i := newTestInterpreter(source)

	data := i.ResolvePricing(context.Background(), 11, nil)

	require.NotNil(t, data)
	require.Len(t, data.Groups, 1)
	assert.Equal(t, "Healthy", data.Groups[0].RuleName)
}

func TestResolvePricingStringConditionsDecode(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		rules: []models.PricingRule{
			{
				ID:         1,
				RuleName:   "Stringified",
				Conditions: json.RawMessage(`"{\"blueprintId\":1,\"tiers\":[{\"minQuantity\":3,\"price\":\"7.50\"}]}"`),
				IsActive:   true,
			},
		},
	}

	i := newTestInterpreter(source)

	data := i.ResolvePricing(context.Background(), 11, nil)

	require.NotNil(t, data)
	require.Len(t, data.Tiers, 1)
	assert.Equal(t, 3, data.Tiers[0].Min)
	assert.Equal(t, 7.5, data.Tiers[0].Price)
}

func TestResolvePricingTierDefaultsAndLabels(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		rules: []models.PricingRule{
			tieredRule(1, 1, "Bulk",
				`[{"price":2},{"minQuantity":10,"maxQuantity":49,"price":"1.80"},{"minQuantity":50,"price":"oops","name":"Wholesale"}]`),
		},
	}

	i := newTestInterpreter(source)

	data := i.ResolvePricing(context.Background(), 11, nil)

	require.NotNil(t, data)
	require.Len(t, data.Tiers, 3)

	assert.Equal(t, 1, data.Tiers[0].Min)
	assert.Nil(t, data.Tiers[0].Max)
	assert.Equal(t, 2.0, data.Tiers[0].Price)
	assert.Equal(t, "1+ units", data.Tiers[0].Label)

	assert.Equal(t, 10, data.Tiers[1].Min)
	assert.Equal(t, "10-49 units", data.Tiers[1].Label)
	assert.Equal(t, 1.8, data.Tiers[1].Price)

	// Malformed price degrades to 0 rather than failing the rule.
	assert.Equal(t, 50, data.Tiers[2].Min)
	assert.Equal(t, 0.0, data.Tiers[2].Price)
	assert.Equal(t, "Wholesale", data.Tiers[2].Label)
}

func TestResolvePricingSkipsInactiveAndExpiredRules(t *testing.T) {
	past := time.Now().Add(-48 * time.Hour)
	earlier := time.Now().Add(-24 * time.Hour)

	inactive := tieredRule(1, 1, "Inactive", `[{"minQuantity":1,"price":10}]`)
	inactive.IsActive = false

	expired := tieredRule(2, 1, "Expired", `[{"minQuantity":1,"price":10}]`)
	expired.StartDate = &past
	expired.EndDate = &earlier

	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		rules:       []models.PricingRule{inactive, expired},
	}

	i := newTestInterpreter(source)

	assert.Nil(t, i.ResolvePricing(context.Background(), 11, nil))
}

func TestResolvePricingFlattensGroupTiers(t *testing.T) {
	source := &fakeSource{
		assignments: []models.BlueprintAssignment{productAssignment(11, 1, "BP")},
		rules: []models.PricingRule{
			tieredRule(1, 1, "A", `[{"minQuantity":5,"price":8},{"minQuantity":1,"price":10}]`),
			tieredRule(2, 1, "B", `[{"minQuantity":20,"price":6}]`),
		},
	}

	i := newTestInterpreter(source)

	data := i.ResolvePricing(context.Background(), 11, nil)

	require.NotNil(t, data)
	require.Len(t, data.Groups, 2)

	// Within a group tiers sort ascending by min.
	assert.Equal(t, 1, data.Groups[0].Tiers[0].Min)
	assert.Equal(t, 5, data.Groups[0].Tiers[1].Min)

	// The flat list is group concatenation, not globally re-sorted.
	require.Len(t, data.Tiers, 3)
	assert.Equal(t, []int{1, 5, 20}, []int{data.Tiers[0].Min, data.Tiers[1].Min, data.Tiers[2].Min})
	assert.Equal(t, "general", data.Groups[0].ProductType)
}
