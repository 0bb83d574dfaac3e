package node

import (
	"encoding/json"
	"fmt"

	"github.com/legacy3/wowlab-sub001/internal/domain"
	"github.com/legacy3/wowlab-sub001/internal/engine"
	"github.com/legacy3/wowlab-sub001/internal/rotation"
)

// EncounterSpec is the decoded form of a job's opaque spec string: fight
// length and target count. Rotation *content* (talent-specific priority
// lists) is intentionally out of scope; every chunk runs the same built-in
// single-resource priority list against these encounter parameters, which
// is enough to exercise the simulation engine end to end.
type EncounterSpec struct {
	FightDurationMs int64  `json:"fight_duration_ms"`
	TargetCount     int    `json:"target_count"`
	ResourceType    string `json:"resource_type"`
	QueueCapacity   int    `json:"queue_capacity"`
}

// DefaultEncounterSpec mirrors a short single-target patchwerk fight,
// used when a job's spec string is empty or fails to parse a field.
func DefaultEncounterSpec() EncounterSpec {
	return EncounterSpec{
		FightDurationMs: 300_000,
		TargetCount:     1,
		ResourceType:    "energy",
		QueueCapacity:   1024,
	}
}

// ParseEncounterSpec decodes a job's spec JSON, falling back to defaults
// for any field left zero.
func ParseEncounterSpec(raw string) (EncounterSpec, error) {
	spec := DefaultEncounterSpec()
	if raw == "" {
		return spec, nil
	}
	var parsed EncounterSpec
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return spec, fmt.Errorf("decode encounter spec: %w", err)
	}
	if parsed.FightDurationMs > 0 {
		spec.FightDurationMs = parsed.FightDurationMs
	}
	if parsed.TargetCount > 0 {
		spec.TargetCount = parsed.TargetCount
	}
	if parsed.ResourceType != "" {
		spec.ResourceType = parsed.ResourceType
	}
	if parsed.QueueCapacity > 0 {
		spec.QueueCapacity = parsed.QueueCapacity
	}
	return spec, nil
}

// strikeAbilities is the one built-in ability the default rotation uses: a
// resource-gated generic strike, cast whenever the resource pool can
// afford it. The engine driver does not read GCDMs, so casts are paced only
// by the resource cost and the driver's rotation probe interval.
func strikeAbilities(resourceType string) engine.AbilityTable {
	return engine.AbilityTable{
		"strike": engine.AbilityDef{
			Kind:           "strike",
			ResourceType:   domain.ResourceType(resourceType),
			ResourceCost:   10,
			GCDMs:          1500,
			BaseDamage:     100,
			DamageVariance: 0.1,
		},
	}
}

// BuildBatchSpec turns chunk parameters and an encounter spec into the
// engine.BatchSpec the worker pool hands to engine.NewBatchRunner.
func BuildBatchSpec(encounter EncounterSpec, batchSeed, iterations int64) engine.BatchSpec {
	abilities := strikeAbilities(encounter.ResourceType)
	enemyIDs := make([]string, encounter.TargetCount)
	for i := range enemyIDs {
		enemyIDs[i] = fmt.Sprintf("enemy-%d", i)
	}

	return engine.BatchSpec{
		BatchSeed:     batchSeed,
		Iterations:    iterations,
		MaxTime:       engine.SimTime(encounter.FightDurationMs),
		QueueCapacity: encounter.QueueCapacity,
		NewState: func() *engine.SimState {
			player := engine.NewPlayer("p1")
			player.Resources[domain.ResourceType(encounter.ResourceType)] = &domain.ResourcePool{
				Type: domain.ResourceType(encounter.ResourceType), Current: 100, Max: 100, Initial: 100,
				BaseRegenPerSec: 10, Regenerates: true,
			}
			return engine.NewSimState(player, enemyIDs)
		},
		NewEvaluator: func() engine.RotationEvaluator {
			return rotation.NewPriority([]rotation.Rule{
				{Name: "strike", Condition: rotation.Always, Action: domain.Action{Kind: "strike"}},
			}, abilities)
		},
		Abilities: abilities,
	}
}
