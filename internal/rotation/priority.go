// Package rotation implements RotationEvaluator: a priority list of
// condition-gated abilities, evaluated top to bottom each probe, ported
// from the enum-dispatch condition evaluator used for rotation benchmarking
// (native_enum.rs) into a plain Go slice-of-closures form.
package rotation

import "github.com/legacy3/wowlab-sub001/internal/engine"

// Condition reports whether a rule's ability should be attempted right now.
// Conditions never mutate state; they only read it.
type Condition func(state *engine.SimState, now engine.SimTime) bool

// Rule pairs a gating Condition with the ability to cast when it holds.
type Rule struct {
	Name      string
	Condition Condition
	Action    engine.Action
}

// Priority is a RotationEvaluator that walks its Rules in order and returns
// the first one whose Condition holds and whose ability is currently usable
// (resource, cooldown, charges), matching the first-match-wins semantics of
// a hand-authored priority list.
type Priority struct {
	Rules     []Rule
	Abilities engine.AbilityTable
}

// NewPriority builds an evaluator from an ordered rule list and the ability
// table the driver will use to gate and resolve each action.
func NewPriority(rules []Rule, abilities engine.AbilityTable) *Priority {
	return &Priority{Rules: rules, Abilities: abilities}
}

// ChooseAction implements engine.RotationEvaluator.
func (p *Priority) ChooseAction(state *engine.SimState, now engine.SimTime) engine.Action {
	for _, rule := range p.Rules {
		if rule.Condition != nil && !rule.Condition(state, now) {
			continue
		}
		if !p.Abilities.CanUse(state.Player, rule.Action.Kind, now) {
			continue
		}
		return rule.Action
	}
	return engine.NoAction
}

// ─── Common conditions ──────────────────────────────────────────────────────

// Always matches unconditionally; typically the last rule in a priority
// list as a filler ability.
func Always(*engine.SimState, engine.SimTime) bool { return true }

// ResourceAtLeast matches when the named resource pool holds at least min.
func ResourceAtLeast(resourceType string, min float64) Condition {
	return func(state *engine.SimState, _ engine.SimTime) bool {
		pool, ok := state.Player.Resources[engine.ResourceType(resourceType)]
		return ok && pool.Current >= min
	}
}

// AuraActiveOn matches when the named aura is active on the primary enemy.
func AuraActiveOn(auraID string) Condition {
	return func(state *engine.SimState, now engine.SimTime) bool {
		primary := state.Primary()
		if primary == nil {
			return false
		}
		aura, ok := primary.Auras[auraID]
		return ok && aura.Active(now)
	}
}

// AuraMissingOn matches when the named aura is not currently active on the
// primary enemy — the common "refresh my DoT" gate.
func AuraMissingOn(auraID string) Condition {
	cond := AuraActiveOn(auraID)
	return func(state *engine.SimState, now engine.SimTime) bool {
		return !cond(state, now)
	}
}

// And combines conditions, matching only when all hold.
func And(conds ...Condition) Condition {
	return func(state *engine.SimState, now engine.SimTime) bool {
		for _, c := range conds {
			if !c(state, now) {
				return false
			}
		}
		return true
	}
}

// Or combines conditions, matching when any holds.
func Or(conds ...Condition) Condition {
	return func(state *engine.SimState, now engine.SimTime) bool {
		for _, c := range conds {
			if c(state, now) {
				return true
			}
		}
		return false
	}
}
