// Package policy resolves the per-item point handling for an award.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GoPolymarket/pointgate/internal/model"
	"github.com/GoPolymarket/pointgate/internal/pkg/apperrors"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/shopspring/decimal"
)

// Engine evaluates tenant policy rules. It holds no tenant state; compiled
// predicates are cached by expression text.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	programs      map[string]cel.Program
	defaultWindow time.Duration
}

type Option func(*Engine)

// WithDefaultWindow sets the Flexible window used when a tenant has rules but no explicit default.
func WithDefaultWindow(d time.Duration) Option {
	return func(e *Engine) { e.defaultWindow = d }
}

func NewEngine(opts ...Option) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("category", cel.StringType),
		cel.Variable("tag", cel.StringType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("price", cel.DoubleType),
		cel.Variable("order_value", cel.DoubleType),
		cel.Variable("age_hours", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e := &Engine{
		env:      env,
		programs: make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Resolve maps the tenant's rules, the item and the clock to a handling decision.
// Identical inputs always produce identical decisions.
func (e *Engine) Resolve(tenant *model.Tenant, item model.OrderItem, purchasedAt, now time.Time) (model.Decision, error) {
	if tenant == nil {
		return model.Decision{}, apperrors.NewPolicyNotFound("")
	}
	set := tenant.Policies
	if len(set.Rules) == 0 && set.Default == nil {
		return model.Decision{}, apperrors.NewPolicyNotFound(tenant.ID)
	}

	vars := e.activation(set, item, purchasedAt, now)
	for _, rule := range set.Rules {
		ok, err := e.matches(rule.Match, vars)
		if err != nil {
			return model.Decision{}, err
		}
		if !ok {
			continue
		}
		d, err := e.decide(tenant, rule.Policy, vars, purchasedAt, now)
		if err != nil {
			return model.Decision{}, err
		}
		d.RuleID = rule.ID
		return d, nil
	}
	return e.decide(tenant, e.fallback(set), vars, purchasedAt, now)
}

// Validate compiles every predicate and checks variant parameters so a bad
// rule table is rejected before it goes live.
func (e *Engine) Validate(set model.PolicySet) error {
	var errs []error
	check := func(where string, def model.PolicyDefinition) {
		if err := e.validateDefinition(def); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}
	for _, rule := range set.Rules {
		if rule.Match.When != "" {
			if _, err := e.program(rule.Match.When); err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			}
		}
		check("rule "+rule.ID, rule.Policy)
	}
	if set.Default != nil {
		check("default", *set.Default)
	}
	return errors.Join(errs...)
}

func (e *Engine) validateDefinition(def model.PolicyDefinition) error {
	switch def.Kind {
	case model.PolicyNoCancellation, model.PolicyFlexible:
	case model.PolicyTimeWindow:
		if def.Window <= 0 {
			return fmt.Errorf("time_window requires a positive window")
		}
	case model.PolicyConditional:
		if len(def.Conditions) == 0 {
			return fmt.Errorf("conditional requires at least one condition")
		}
		for i, cond := range def.Conditions {
			if _, err := e.program(cond.When); err != nil {
				return fmt.Errorf("condition %d: %w", i, err)
			}
			for _, step := range cond.Outcome.Schedule {
				if step.Rate.IsNegative() || step.Rate.GreaterThan(decimal.NewFromInt(1)) {
					return fmt.Errorf("condition %d: schedule rate must be within [0,1]", i)
				}
			}
		}
	default:
		return fmt.Errorf("unknown policy kind %q", def.Kind)
	}
	if def.Window < 0 || def.ExpireAfter < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

func (e *Engine) fallback(set model.PolicySet) model.PolicyDefinition {
	if set.Default != nil {
		return *set.Default
	}
	return e.builtin()
}

func (e *Engine) builtin() model.PolicyDefinition {
	return model.PolicyDefinition{Kind: model.PolicyFlexible, Window: model.Duration(e.defaultWindow)}
}

func (e *Engine) decide(tenant *model.Tenant, def model.PolicyDefinition, vars map[string]any, purchasedAt, now time.Time) (model.Decision, error) {
	d := model.Decision{PolicyKind: def.Kind, ConfigVersion: tenant.Version}
	window := def.Window.Std()

	switch def.Kind {
	case model.PolicyNoCancellation:
		d.Handling = model.HandlingNoRevokeIfDenied
		d.AvailableAt = purchasedAt
	case model.PolicyTimeWindow:
		d.AvailableAt = purchasedAt.Add(window)
		d.Handling = model.HandlingPendingUntil
		if !now.Before(d.AvailableAt) {
			d.Handling = model.HandlingAvailableImmediately
		}
	case model.PolicyFlexible:
		d.AvailableAt = purchasedAt.Add(window)
		d.Handling = model.HandlingPendingUntil
		if window == 0 || !now.Before(d.AvailableAt) {
			d.Handling = model.HandlingAvailableImmediately
		}
	case model.PolicyConditional:
		matched := false
		for _, cond := range def.Conditions {
			ok, err := e.eval(cond.When, vars)
			if err != nil {
				return model.Decision{}, err
			}
			if ok {
				applyOutcome(&d, cond.Outcome, purchasedAt)
				matched = true
				break
			}
		}
		if !matched {
			if window > 0 {
				d.Handling = model.HandlingPendingUntil
				d.AvailableAt = purchasedAt.Add(window)
			} else {
				next := e.fallback(tenant.Policies)
				if next.Kind == model.PolicyConditional {
					// A conditional default without its own window would recurse into itself.
					next = e.builtin()
				}
				inner, err := e.decide(tenant, next, vars, purchasedAt, now)
				if err != nil {
					return model.Decision{}, err
				}
				inner.PolicyKind = model.PolicyConditional
				return inner, nil
			}
		}
	default:
		return model.Decision{}, apperrors.NewValidation("unknown policy kind %q", def.Kind)
	}

	if def.ExpireAfter > 0 {
		exp := purchasedAt.Add(def.ExpireAfter.Std())
		d.ExpiresAt = &exp
	}
	return d, nil
}

func applyOutcome(d *model.Decision, out model.Outcome, purchasedAt time.Time) {
	window := out.Window.Std()
	d.Handling = out.Handling
	switch out.Handling {
	case model.HandlingAvailableImmediately, model.HandlingNoRevokeIfDenied:
		d.AvailableAt = purchasedAt
	case model.HandlingPartialRevoke:
		for _, step := range out.Schedule {
			if step.After.Std() > window {
				window = step.After.Std()
			}
		}
		d.Schedule = append([]model.RevokeStep(nil), out.Schedule...)
		d.AvailableAt = purchasedAt.Add(window)
	default:
		d.AvailableAt = purchasedAt.Add(window)
	}
}

func (e *Engine) matches(m model.PolicyMatch, vars map[string]any) (bool, error) {
	if !contains(m.Categories, vars["category"].(string)) {
		return false, nil
	}
	if !contains(m.PolicyTags, vars["tag"].(string)) {
		return false, nil
	}
	if !contains(m.PriceTiers, vars["tier"].(string)) {
		return false, nil
	}
	if m.When == "" {
		return true, nil
	}
	return e.eval(m.When, vars)
}

func contains(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// PriceTier returns the first tier whose bound covers price, or "" when none is configured.
func PriceTier(tiers []model.PriceTier, price decimal.Decimal) string {
	for _, t := range tiers {
		if t.UpTo == nil || price.LessThanOrEqual(*t.UpTo) {
			return t.Name
		}
	}
	return ""
}

func (e *Engine) activation(set model.PolicySet, item model.OrderItem, purchasedAt, now time.Time) map[string]any {
	attrs := map[string]any{}
	for k, v := range item.Attributes {
		attrs[k] = v
	}
	tier := PriceTier(set.PriceTiers, item.Price)
	return map[string]any{
		"item": map[string]any{
			"item_id":     item.ItemID,
			"category":    item.Category,
			"policy_tag":  item.PolicyTag,
			"price":       item.Price.InexactFloat64(),
			"order_value": item.OrderValue.InexactFloat64(),
			"bundle_id":   item.BundleID,
			"depends_on":  item.DependsOn,
			"legs":        int64(len(item.PaymentLegs)),
			"attributes":  attrs,
		},
		"category":    item.Category,
		"tag":         item.PolicyTag,
		"tier":        tier,
		"price":       item.Price.InexactFloat64(),
		"order_value": item.OrderValue.InexactFloat64(),
		"age_hours":   now.Sub(purchasedAt).Hours(),
	}
}

func (e *Engine) eval(expr string, vars map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, apperrors.NewValidation("invalid policy predicate %q: %v", expr, err)
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		// missing attributes are a non-match, not a failure
		return false, nil
	}
	b, ok := out.(types.Bool)
	return ok && bool(b), nil
}

func (e *Engine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile: %w", iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
