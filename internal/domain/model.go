package domain

import (
	"fmt"
	"time"
)

// ─── SimTime ────────────────────────────────────────────────────────────────
// Monotonic integer milliseconds, range 0 … 2^32-1. Comparison and
// subtraction saturate at zero rather than wrapping or going negative.

// SimTime is a monotonic simulation clock measured in milliseconds.
type SimTime uint32

// Sub returns a-b, saturating at zero instead of wrapping.
func (a SimTime) Sub(b SimTime) SimTime {
	if a < b {
		return 0
	}
	return a - b
}

// MaxSimTime is the largest representable SimTime (2^32-1).
const MaxSimTime SimTime = 1<<32 - 1

// Add returns a+b, saturating at MaxSimTime instead of wrapping.
func (a SimTime) Add(b SimTime) SimTime {
	sum := uint64(a) + uint64(b)
	if sum > uint64(MaxSimTime) {
		return MaxSimTime
	}
	return SimTime(sum)
}

// Millis returns the time as a plain integer millisecond count.
func (a SimTime) Millis() uint32 { return uint32(a) }

// ─── Simulation Data Model ─────────────────────────────────────────────

// ResourceType identifies a kind of actor resource (mana, energy, rage, ...).
type ResourceType string

// Cooldown is a per-ability timer preventing re-use until ReadyAt.
type Cooldown struct {
	BaseDuration SimTime
	Duration     SimTime
	ReadyAt      SimTime
}

// Ready reports whether the cooldown may be used again at now.
func (c Cooldown) Ready(now SimTime) bool { return now >= c.ReadyAt }

// Recompute derives Duration from BaseDuration and hasteMult, rounding down
// and floor-clamping to 1ms.
func (c *Cooldown) Recompute(hasteMult float64) {
	if hasteMult <= 0 {
		hasteMult = 1
	}
	d := SimTime(float64(c.BaseDuration) / hasteMult)
	if d < 1 {
		d = 1
	}
	c.Duration = d
}

// Start begins the cooldown at `now`.
func (c *Cooldown) Start(now SimTime) { c.ReadyAt = now + c.Duration }

// ChargedCooldown extends Cooldown with a charge counter.
type ChargedCooldown struct {
	Cooldown
	MaxCharges     int
	CurrentCharges int
	RechargeTime   SimTime
	NextChargeAt   SimTime
}

// Consume decrements a charge. If this was the first missing charge, it
// starts the recharge timer. Returns false if no charges were available.
func (c *ChargedCooldown) Consume(now SimTime) bool {
	if c.CurrentCharges <= 0 {
		return false
	}
	wasFull := c.CurrentCharges == c.MaxCharges
	c.CurrentCharges--
	if wasFull {
		c.NextChargeAt = now + c.RechargeTime
	}
	return true
}

// Recharge grants back one charge if NextChargeAt has elapsed, and
// re-arms the timer if charges remain below max.
func (c *ChargedCooldown) Recharge(now SimTime) {
	if c.CurrentCharges >= c.MaxCharges {
		return
	}
	if now < c.NextChargeAt {
		return
	}
	c.CurrentCharges++
	if c.CurrentCharges < c.MaxCharges {
		c.NextChargeAt = now + c.RechargeTime
	} else {
		c.NextChargeAt = 0
	}
}

// Periodic describes a periodic (DoT/HoT) tick schedule on an Aura.
type Periodic struct {
	Interval SimTime
	NextTick SimTime
}

// Aura is a time-limited effect on an actor (buff, debuff, periodic tick).
type Aura struct {
	ID         string
	Source     string
	Target     string
	ApplyTime  SimTime
	ExpireTime SimTime
	Stacks     int
	MaxStacks  int
	Periodic   *Periodic // nil if non-periodic
}

// Active reports whether the aura has not yet expired at `now`.
func (a Aura) Active(now SimTime) bool { return now < a.ExpireTime }

// ResourceMetrics tracks monotonically non-decreasing counters for one
// resource pool within a single iteration, reset on iteration reset.
type ResourceMetrics struct {
	Gained     float64
	Spent      float64
	Overflow   float64
	GainCount  int64
	SpendCount int64
}

// ResourcePool is a single actor resource (mana, energy, rage, ...).
type ResourcePool struct {
	Type            ResourceType
	Current         float64
	Max             float64
	BaseRegenPerSec float64
	Initial         float64
	Regenerates     bool // whether this pool scales regen with haste
	Metrics         ResourceMetrics
}

// Reset restores the pool to its initial value and clears metrics.
func (p *ResourcePool) Reset() {
	p.Current = p.Initial
	p.Metrics = ResourceMetrics{}
}

// Gain adds amount, clamping at Max and recording overflow.
func (p *ResourcePool) Gain(amount float64) {
	if amount <= 0 {
		return
	}
	p.Metrics.Gained += amount
	p.Metrics.GainCount++
	next := p.Current + amount
	if next > p.Max {
		p.Metrics.Overflow += next - p.Max
		next = p.Max
	}
	p.Current = next
}

// Spend deducts amount if available. Returns false if insufficient.
func (p *ResourcePool) Spend(amount float64) bool {
	if amount <= 0 {
		return true
	}
	if p.Current < amount {
		return false
	}
	p.Current -= amount
	p.Metrics.Spent += amount
	p.Metrics.SpendCount++
	return true
}

// RegenTick applies one regen tick of `dtSeconds` seconds, scaled by haste
// when the pool regenerates. Non-regenerating pools are unaffected.
func (p *ResourcePool) RegenTick(dtSeconds, hasteMult float64) {
	if p.BaseRegenPerSec <= 0 {
		return
	}
	rate := p.BaseRegenPerSec
	if p.Regenerates {
		rate *= hasteMult
	}
	p.Gain(rate * dtSeconds)
}

// Action is an opaque instruction emitted by a RotationEvaluator, naming an
// ability/spell the engine should dispatch. Interpretation lives in engine
// handlers — the rotation layer only names intent.
type Action struct {
	Kind   string // ability identifier
	Target string // target actor id, empty = primary enemy / self
}

// NoAction is returned by evaluators that have nothing to do right now
// (e.g. waiting on global cooldown or resources).
var NoAction = Action{Kind: ""}

// IsNone reports whether this is the no-op action.
func (a Action) IsNone() bool { return a.Kind == "" }

// ─── Job / Chunk / Node ──────────────────────────────────────────

// AccessType controls which nodes are eligible to run a job's chunks.
type AccessType string

const (
	AccessOwner   AccessType = "" // owner-only: absent/other => false for non-owners
	AccessPublic  AccessType = "public"
	AccessUser    AccessType = "user"
	AccessDiscord AccessType = "discord"
)

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobResult is the final aggregated statistical summary of a job.
type JobResult struct {
	MeanDPS         float64 `json:"mean_dps"`
	MinDPS          float64 `json:"min_dps"`
	MaxDPS          float64 `json:"max_dps"`
	TotalIterations int64   `json:"total_iterations"`
}

// Job is a user submission specifying (spec, iterations) to be simulated.
type Job struct {
	ID                  string
	UserID              string
	Spec                string // opaque combat-spec payload; not parsed by the core
	Iterations          int64
	CompletedIterations int64
	AccessType          AccessType
	DiscordGuildID      string // set iff AccessType == AccessDiscord
	Status              JobStatus
	Result              *JobResult
	FailureReason       string
	CreatedAt           time.Time
	CompletedAt         *time.Time
}

// ChunkStatus is the lifecycle state of a Chunk.
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkRunning   ChunkStatus = "running"
	ChunkCompleted ChunkStatus = "completed"
)

// ChunkResult is the per-chunk statistical summary reported by a node.
type ChunkResult struct {
	ChunkID    string  `json:"chunk_id"`
	MeanDPS    float64 `json:"mean_dps"`
	StdDPS     float64 `json:"std_dps"`
	MinDPS     float64 `json:"min_dps"`
	MaxDPS     float64 `json:"max_dps"`
	Iterations int64   `json:"iterations"`
}

// Chunk is a contiguous sub-range of a job's iterations assigned as one
// unit of work.
type Chunk struct {
	ID          string
	JobID       string
	Seed        int64 // derived deterministically from job id + chunk index
	Iterations  int64
	Status      ChunkStatus
	NodeID      string
	ClaimedAt   *time.Time
	CompletedAt *time.Time
	Result      *ChunkResult
}

// NodeStatus tracks whether a node is currently heartbeating.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
)

// Node is a volunteer compute node.
type Node struct {
	ID          string
	PublicKey   []byte // 32-byte Ed25519 public key
	Name        string
	UserID      string // empty while unclaimed
	DiscordID   string // set iff the owning user linked a Discord identity
	TotalCores  int
	MaxParallel int
	Status      NodeStatus
	LastSeen    time.Time
}

// AvailableCapacity returns min(MaxParallel, TotalCores) - backlog, the
// scheduler's per-node scoring function.
func (n Node) AvailableCapacity(backlog int) int {
	capacity := n.MaxParallel
	if n.TotalCores < capacity {
		capacity = n.TotalCores
	}
	avail := capacity - backlog
	if avail < 0 {
		return 0
	}
	return avail
}

// NodePermission is an explicit per-node grant row.
type NodePermission struct {
	NodeID     string
	AccessType AccessType
	TargetID   string
}

// ─── Utilities ──────────────────────────────────────────────────────────────

// HumanSize formats bytes into a human-readable string.
func HumanSize(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
