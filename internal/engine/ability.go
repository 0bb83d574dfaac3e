package engine

import "github.com/legacy3/wowlab-sub001/internal/domain"

// AbilityDef describes the mechanical effect of one rotation action:
// resource cost, cooldown key, and damage. Rotation evaluators only name an
// Action.Kind; the driver looks up its AbilityDef to apply the effect,
// keeping rotation decision logic decoupled from mechanical resolution.
type AbilityDef struct {
	Kind string

	ResourceType domain.ResourceType
	ResourceCost float64

	CooldownKey string // key into Player.Cooldowns, empty if none
	ChargedKey  string // key into Player.Charged, empty if none

	GCDMs SimTime

	BaseDamage     float64
	DamageVariance float64 // +/- fraction applied via RNG, e.g. 0.1 = ±10%
}

// AbilityTable maps an Action.Kind to its mechanical definition. Built by
// the caller (typically from a parsed combat spec) and handed to the driver.
type AbilityTable map[string]AbilityDef

// CanUse reports whether the player currently has the resources and
// cooldown availability to perform this ability.
func (t AbilityTable) CanUse(p *Player, kind string, now SimTime) bool {
	def, ok := t[kind]
	if !ok {
		return false
	}
	if def.CooldownKey != "" {
		if cd, ok := p.Cooldowns[def.CooldownKey]; ok && !cd.Ready(now) {
			return false
		}
	}
	if def.ChargedKey != "" {
		if cc, ok := p.Charged[def.ChargedKey]; ok && cc.CurrentCharges <= 0 {
			return false
		}
	}
	if def.ResourceCost > 0 {
		pool, ok := p.Resources[def.ResourceType]
		if !ok || pool.Current < def.ResourceCost {
			return false
		}
	}
	return true
}
