package pricing

import (
	"context"

	"blueprint-service/internal/clock"
	"blueprint-service/internal/models"
	"blueprint-service/internal/resolver"
	"blueprint-service/internal/upstream"
	"blueprint-service/internal/util"

	"go.uber.org/zap"
)

// Interpreter resolves the pricing rules applicable to a product's
// blueprint into display-ready tier groups. It shares the assignment cache
// with the schema resolver, so rendering a product's fields and its pricing
// costs one assignment fetch per TTL window, not two.
type Interpreter struct {
	source      upstream.Source
	assignments *resolver.AssignmentCache
	clk         clock.Clock
	logger      *zap.Logger
}

// New creates a pricing interpreter
func New(source upstream.Source, assignments *resolver.AssignmentCache, clk clock.Clock) *Interpreter {
	return &Interpreter{
		source:      source,
		assignments: assignments,
		clk:         clk,
		logger:      util.GetLogger(),
	}
}

// ResolvePricing returns the product's blueprint pricing, or nil when the
// product has no blueprint, no rule targets it, or the data could not be
// fetched. Callers cannot tell those apart by design; the distinction lives
// in logs and metrics. A rule that fails to parse is dropped without
// disturbing the remaining rules.
func (i *Interpreter) ResolvePricing(ctx context.Context, productID int64, product *models.ProductRef) *models.PricingData {
	ctx, span := util.StartSpan(ctx, "Interpreter.ResolvePricing")
	defer span.End()

	var categoryIDs []int64
	if product != nil {
		categoryIDs = product.CategoryIDs
	}

	assignment, err := i.assignments.ResolveForProduct(ctx, productID, categoryIDs)
	if err != nil {
		util.PricingResolutionsTotal.WithLabelValues("fetch_failed").Inc()
		i.logger.Warn("Pricing resolution failed resolving assignment",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return nil
	}
	if assignment == nil {
		// A product without a blueprint has no blueprint pricing. Valid
		// terminal state, not an error.
		util.PricingResolutionsTotal.WithLabelValues("no_blueprint").Inc()
		return nil
	}

	util.ConfigFetchesTotal.WithLabelValues("rules").Inc()
	rules, err := i.source.ListPricingRules(ctx, productID)
	if err != nil {
		util.ConfigFetchFailuresTotal.WithLabelValues("rules").Inc()
		util.PricingResolutionsTotal.WithLabelValues("fetch_failed").Inc()
		i.logger.Warn("Pricing rule fetch failed",
			zap.Int64("product_id", productID),
			zap.Error(err))
		return nil
	}

	data := &models.PricingData{
		ProductID:     productID,
		BlueprintID:   assignment.BlueprintID,
		BlueprintName: assignment.BlueprintName,
	}

	for idx := range rules {
		rule := &rules[idx]
		if group := i.interpretRule(rule, assignment.BlueprintID); group != nil {
			data.Groups = append(data.Groups, *group)
			data.Tiers = append(data.Tiers, group.Tiers...)
		}
	}

	if len(data.Groups) == 0 {
		util.PricingResolutionsTotal.WithLabelValues("no_rules").Inc()
		return nil
	}

	util.PricingResolutionsTotal.WithLabelValues("resolved").Inc()
	return data
}

// interpretRule turns one raw rule into a tier group, or nil when the rule
// is out of scope for the blueprint or contributes no tiers.
func (i *Interpreter) interpretRule(rule *models.PricingRule, blueprintID int64) *models.PricingRuleGroup {
	if !rule.IsActive {
		util.PricingRulesDroppedTotal.WithLabelValues("inactive").Inc()
		return nil
	}

	now := i.clk.Now()
	if rule.StartDate != nil && now.Before(*rule.StartDate) {
		util.PricingRulesDroppedTotal.WithLabelValues("out_of_window").Inc()
		return nil
	}
	if rule.EndDate != nil && now.After(*rule.EndDate) {
		util.PricingRulesDroppedTotal.WithLabelValues("out_of_window").Inc()
		return nil
	}

	enc, err := decodeRule(rule)
	if err != nil {
		util.PricingRulesDroppedTotal.WithLabelValues("conditions_parse").Inc()
		i.logger.Warn("Dropping rule with unreadable conditions",
			zap.Int64("rule_id", rule.ID),
			zap.String("rule_name", rule.RuleName),
			zap.Error(err))
		return nil
	}

	// conditions.blueprintId is the only field scoping a rule to a
	// blueprint; rules for other blueprints are simply not ours.
	if enc.conditions.BlueprintID != blueprintID {
		return nil
	}

	if enc.kind == encodingUnsupported {
		util.PricingRulesDroppedTotal.WithLabelValues("unsupported_encoding").Inc()
		i.logger.Warn("Dropping rule with no recognizable tier encoding",
			zap.Int64("rule_id", rule.ID),
			zap.String("rule_name", rule.RuleName))
		return nil
	}

	tiers := tiersFor(rule, enc)
	if len(tiers) == 0 {
		util.PricingRulesDroppedTotal.WithLabelValues("no_tiers").Inc()
		return nil
	}

	productType := enc.conditions.ProductType
	if productType == "" {
		productType = "general"
	}

	return &models.PricingRuleGroup{
		RuleName:    rule.RuleName,
		RuleID:      rule.ID,
		ProductType: productType,
		Tiers:       tiers,
	}
}
