package engine

// EventKind tags the variant of a SimEvent. Dispatch is a plain switch in
// the driver loop — no dynamic dispatch is required on the hot path.
type EventKind int

const (
	EventAutoAttack EventKind = iota
	EventResourceRegen
	EventRotationProbe
	EventAuraExpire
	EventAuraTick
	EventCooldownRecharge
	EventDamage
)

func (k EventKind) String() string {
	switch k {
	case EventAutoAttack:
		return "auto_attack"
	case EventResourceRegen:
		return "resource_regen"
	case EventRotationProbe:
		return "rotation_probe"
	case EventAuraExpire:
		return "aura_expire"
	case EventAuraTick:
		return "aura_tick"
	case EventCooldownRecharge:
		return "cooldown_recharge"
	case EventDamage:
		return "damage"
	default:
		return "unknown"
	}
}

// regenTickPayload carries the interval used for haste-scaled resource
// regeneration.
type regenTickPayload struct {
	IntervalMs SimTime
}

// auraTickPayload names the aura whose periodic effect is firing.
type auraTickPayload struct {
	AuraID string
}

// auraExpirePayload names the aura that is expiring.
type auraExpirePayload struct {
	AuraID string
}

// damagePayload carries a pre-computed damage instance to be recorded by
// the driver's accumulator.
type damagePayload struct {
	Amount float64
}

const (
	autoAttackIntervalMs SimTime = 2000
	regenTickIntervalMs  SimTime = 1000
)

// bootstrapEvents pushes the required t=0 events: an initial auto-attack,
// a regeneration tick, and a rotation probe.
func bootstrapEvents(q *EventQueue) {
	q.Schedule(0, SimEvent{Kind: EventAutoAttack})
	q.Schedule(0, SimEvent{Kind: EventResourceRegen, Payload: regenTickPayload{IntervalMs: regenTickIntervalMs}})
	q.Schedule(0, SimEvent{Kind: EventRotationProbe})
}
