package engine

import (
	"math/rand"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

// Player is the simulated actor whose rotation the engine drives.
type Player struct {
	ID        string
	HasteMult float64
	Resources map[domain.ResourceType]*domain.ResourcePool
	Cooldowns map[string]*domain.Cooldown
	Charged   map[string]*domain.ChargedCooldown
	Auras     map[string]*domain.Aura
}

// NewPlayer returns a Player with empty resource/cooldown/aura maps and
// haste defaulted to 1.0.
func NewPlayer(id string) *Player {
	return &Player{
		ID:        id,
		HasteMult: 1.0,
		Resources: make(map[domain.ResourceType]*domain.ResourcePool),
		Cooldowns: make(map[string]*domain.Cooldown),
		Charged:   make(map[string]*domain.ChargedCooldown),
		Auras:     make(map[string]*domain.Aura),
	}
}

// reset clears auras, resets cooldowns, restores resources to initial, and
// zeroes timers, per the iteration contract's step 1.
func (p *Player) reset() {
	p.Auras = make(map[string]*domain.Aura)
	for _, cd := range p.Cooldowns {
		cd.ReadyAt = 0
	}
	for _, cc := range p.Charged {
		cc.CurrentCharges = cc.MaxCharges
		cc.NextChargeAt = 0
	}
	for _, r := range p.Resources {
		r.Reset()
	}
}

// Enemy is a combat target. Position 0 in SimState.Enemies is the primary
// target.
type Enemy struct {
	ID     string
	Auras  map[string]*domain.Aura
	Health float64
}

func (e *Enemy) reset() {
	e.Auras = make(map[string]*domain.Aura)
}

// SimState is the mutable simulation state graph for one iteration. It is
// strictly owned by its worker — never shared across iterations.
type SimState struct {
	Player  *Player
	Enemies []*Enemy

	Time        SimTime
	TotalDamage float64
	RNG         *rand.Rand
	Trace       *TraceBuffer // nil unless tracing is enabled
	tracing     bool
}

// defaultTraceCapacity bounds the ring buffer enabled by EnableTracing.
const defaultTraceCapacity = 4096

// NewSimState builds a fresh SimState with one player and the given enemy
// IDs (position 0 is primary).
func NewSimState(player *Player, enemyIDs []string) *SimState {
	enemies := make([]*Enemy, len(enemyIDs))
	for i, id := range enemyIDs {
		enemies[i] = &Enemy{ID: id, Auras: make(map[string]*domain.Aura)}
	}
	return &SimState{Player: player, Enemies: enemies}
}

// Primary returns the primary enemy (position 0), or nil if there are none.
func (s *SimState) Primary() *Enemy {
	if len(s.Enemies) == 0 {
		return nil
	}
	return s.Enemies[0]
}

// EnableTracing turns on per-event trace recording. Must not alter
// control flow or RNG consumption.
func (s *SimState) EnableTracing() {
	s.tracing = true
	s.Trace = NewTraceBuffer(defaultTraceCapacity)
}

// TraceRecord is one dispatched-event trace entry.
type TraceRecord struct {
	Time        SimTime
	Kind        EventKind
	Actor       string
	DamageDelta float64
}

func (s *SimState) recordTrace(rec TraceRecord) {
	if !s.tracing {
		return
	}
	s.Trace.Push(rec)
}

// reset restores the state for a new iteration: clear player/enemy auras
// and cooldowns, reset resources, zero the clock and damage accumulator.
// RNG is reseeded separately by the driver per the iteration contract.
func (s *SimState) reset() {
	s.Player.reset()
	for _, e := range s.Enemies {
		e.reset()
	}
	s.Time = 0
	s.TotalDamage = 0
	if s.Trace != nil {
		s.Trace.Reset()
	}
}

// recordDamage appends to the damage accumulator. Never decreases.
func (s *SimState) recordDamage(dmg float64) {
	if dmg < 0 {
		dmg = 0
	}
	s.TotalDamage += dmg
}
