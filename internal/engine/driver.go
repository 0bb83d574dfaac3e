package engine

import (
	"math/rand"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

// probeIntervalMs is the cadence at which the rotation is re-evaluated when
// it has nothing to do (e.g. waiting on resources or cooldowns).
const probeIntervalMs SimTime = 100

// Driver runs one deterministic iteration of the combat simulation: pop
// events from the queue in (time, sequence) order, dispatch by kind, and
// accumulate damage until the queue drains or the time budget is spent.
type Driver struct {
	State     *SimState
	Queue     *EventQueue
	Evaluator RotationEvaluator
	Abilities AbilityTable
	MaxTime   SimTime
}

// NewDriver wires a state, queue, rotation evaluator, and ability table into
// a reusable per-worker driver. The queue is owned by the driver and reused
// across iterations via Clear().
func NewDriver(state *SimState, queueCapacity int, evaluator RotationEvaluator, abilities AbilityTable, maxTime SimTime) *Driver {
	return &Driver{
		State:     state,
		Queue:     NewEventQueue(queueCapacity),
		Evaluator: evaluator,
		Abilities: abilities,
		MaxTime:   maxTime,
	}
}

// RunIteration executes the full iteration contract:
//  1. reset state and queue
//  2. reseed RNG deterministically
//  3. push bootstrap events
//  4. drain the queue, dispatching each event, until empty or MaxTime reached
//  5. return the resulting DPS (total damage / seconds simulated)
func (d *Driver) RunIteration(seed int64) float64 {
	d.State.reset()
	d.Queue.Clear()
	d.State.RNG = rand.New(rand.NewSource(seed))

	bootstrapEvents(d.Queue)

	for {
		ev, ok := d.Queue.Peek()
		if !ok || ev.Time >= d.MaxTime {
			break
		}
		popped, _ := d.Queue.Pop()
		d.State.Time = popped.Time
		d.dispatch(popped)
	}

	seconds := float64(d.MaxTime) / 1000.0
	if seconds <= 0 {
		return 0
	}
	return d.State.TotalDamage / seconds
}

func (d *Driver) dispatch(ev ScheduledEvent) {
	now := ev.Time
	event := ev.Payload

	switch event.Kind {
	case EventAutoAttack:
		d.handleAutoAttack(now)
	case EventResourceRegen:
		d.handleResourceRegen(now, event)
	case EventRotationProbe:
		d.handleRotationProbe(now)
	case EventAuraTick:
		d.handleAuraTick(now, event)
	case EventAuraExpire:
		d.handleAuraExpire(now, event)
	case EventCooldownRecharge:
		d.handleCooldownRecharge(now)
	case EventDamage:
		d.handleDamage(now, event)
	}

	d.State.recordTrace(TraceRecord{Time: now, Kind: event.Kind, Actor: event.Actor})
}

func (d *Driver) handleAutoAttack(now SimTime) {
	dmg := d.rollDamage(50, 0.2)
	d.applyDamage(dmg)
	d.Queue.ScheduleIn(now, autoAttackIntervalMs, SimEvent{Kind: EventAutoAttack})
}

func (d *Driver) handleResourceRegen(now SimTime, event SimEvent) {
	payload, _ := event.Payload.(regenTickPayload)
	if payload.IntervalMs == 0 {
		payload.IntervalMs = regenTickIntervalMs
	}
	dt := float64(payload.IntervalMs) / 1000.0
	for _, pool := range d.State.Player.Resources {
		pool.RegenTick(dt, d.State.Player.HasteMult)
	}
	d.Queue.ScheduleIn(now, payload.IntervalMs, SimEvent{Kind: EventResourceRegen, Payload: payload})
}

func (d *Driver) handleRotationProbe(now SimTime) {
	if d.Evaluator != nil {
		action := d.Evaluator.ChooseAction(d.State, now)
		if !action.IsNone() {
			d.applyAction(now, action)
		}
	}
	d.Queue.ScheduleIn(now, probeIntervalMs, SimEvent{Kind: EventRotationProbe})
}

func (d *Driver) handleAuraTick(now SimTime, event SimEvent) {
	payload, _ := event.Payload.(auraTickPayload)
	target := d.findAuraOwner(payload.AuraID)
	aura, ok := target[payload.AuraID]
	if !ok || !aura.Active(now) || aura.Periodic == nil {
		return
	}
	dmg := d.rollDamage(20, 0.1) * float64(aura.Stacks)
	d.applyDamage(dmg)
	aura.Periodic.NextTick = now + aura.Periodic.Interval
	d.Queue.ScheduleIn(now, aura.Periodic.Interval, SimEvent{Kind: EventAuraTick, Payload: payload})
}

func (d *Driver) handleAuraExpire(now SimTime, event SimEvent) {
	payload, _ := event.Payload.(auraExpirePayload)
	target := d.findAuraOwner(payload.AuraID)
	if aura, ok := target[payload.AuraID]; ok && aura.ExpireTime <= now {
		delete(target, payload.AuraID)
	}
}

func (d *Driver) handleCooldownRecharge(now SimTime) {
	for _, cc := range d.State.Player.Charged {
		cc.Recharge(now)
	}
}

func (d *Driver) handleDamage(now SimTime, event SimEvent) {
	payload, _ := event.Payload.(damagePayload)
	d.applyDamage(payload.Amount)
}

func (d *Driver) findAuraOwner(auraID string) map[string]*domain.Aura {
	// auras live on either the player or an enemy; search both, player first.
	if _, ok := d.State.Player.Auras[auraID]; ok {
		return d.State.Player.Auras
	}
	for _, e := range d.State.Enemies {
		if _, ok := e.Auras[auraID]; ok {
			return e.Auras
		}
	}
	return d.State.Player.Auras
}

func (d *Driver) applyAction(now SimTime, action Action) {
	def, ok := d.Abilities[action.Kind]
	if !ok || !d.Abilities.CanUse(d.State.Player, action.Kind, now) {
		return
	}

	if def.ResourceCost > 0 {
		d.State.Player.Resources[def.ResourceType].Spend(def.ResourceCost)
	}
	if def.CooldownKey != "" {
		if cd, ok := d.State.Player.Cooldowns[def.CooldownKey]; ok {
			cd.Start(now)
		}
	}
	if def.ChargedKey != "" {
		if cc, ok := d.State.Player.Charged[def.ChargedKey]; ok {
			cc.Consume(now)
		}
	}
	if def.BaseDamage > 0 {
		dmg := d.rollDamage(def.BaseDamage, def.DamageVariance)
		d.applyDamage(dmg)
	}
}

func (d *Driver) applyDamage(dmg float64) {
	d.State.recordDamage(dmg)
}

// rollDamage applies +/- variance fraction uniformly around base, consuming
// exactly one RNG draw — required for cross-run determinism.
func (d *Driver) rollDamage(base, variance float64) float64 {
	if variance <= 0 {
		return base
	}
	span := base * variance
	roll := d.State.RNG.Float64()*2*span - span
	dmg := base + roll
	if dmg < 0 {
		return 0
	}
	return dmg
}
