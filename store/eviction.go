package store

import (
	"math"
	"sort"
	"time"

	"github.com/filechunkpro/filechunk-pro/common"
)

// EvictionPolicy is spec §4.C's one-of-seven eviction strategy. Declared
// with the teacher's enum idiom (common/enum.go) so it parses cleanly from
// the `storage.cleanupStrategy` config key and the CLI.
type EvictionPolicy uint8

var EEvictionPolicy = EvictionPolicy(0)

func (EvictionPolicy) LRU() EvictionPolicy      { return EvictionPolicy(0) }
func (EvictionPolicy) LFU() EvictionPolicy      { return EvictionPolicy(1) }
func (EvictionPolicy) FIFO() EvictionPolicy     { return EvictionPolicy(2) }
func (EvictionPolicy) Expire() EvictionPolicy   { return EvictionPolicy(3) }
func (EvictionPolicy) Size() EvictionPolicy     { return EvictionPolicy(4) }
func (EvictionPolicy) Priority() EvictionPolicy { return EvictionPolicy(5) }
func (EvictionPolicy) Smart() EvictionPolicy    { return EvictionPolicy(6) }

func (p EvictionPolicy) String() string { return common.EnumString(p) }

// SmartWeights are the tunable coefficients of the SMART composite score
// (spec §4.C, §9 open question: "not derived from any documented optimum;
// treat them as a tunable default"). Defaults are spec.md's literal
// formula: score = expiredBonus + 3*sizeMB + 2*hoursSinceAccess + ageDays
// + max(0,10-accessCount) + 5*(10-2*priority).
type SmartWeights struct {
	ExpiredBonus       float64
	SizeMBWeight       float64
	HoursSinceAccessW  float64
	AgeDaysWeight      float64
	AccessCountCap     float64
	PriorityBaseline   float64
	PriorityMultiplier float64
}

func DefaultSmartWeights() SmartWeights {
	return SmartWeights{
		ExpiredBonus:       1000, // expired items must sort first regardless of everything else
		SizeMBWeight:       3,
		HoursSinceAccessW:  2,
		AgeDaysWeight:      1,
		AccessCountCap:     10,
		PriorityBaseline:   10,
		PriorityMultiplier: 5,
	}
}

// score returns the SMART eviction score for one item as of now; higher
// is evicted first (spec §4.C).
func (w SmartWeights) score(it *itemMeta, now time.Time) float64 {
	expiredBonus := 0.0
	if it.ExpireAt != nil && !now.Before(*it.ExpireAt) {
		expiredBonus = w.ExpiredBonus
	}
	sizeMB := float64(it.Size) / (1024 * 1024)
	hoursSinceAccess := now.Sub(it.LastAccessed).Hours()
	ageDays := now.Sub(it.CreatedAt).Hours() / 24
	accessPenalty := math.Max(0, w.AccessCountCap-float64(it.AccessCount))
	priorityPenalty := w.PriorityMultiplier * (w.PriorityBaseline - 2*float64(it.Priority))

	return expiredBonus +
		w.SizeMBWeight*sizeMB +
		w.HoursSinceAccessW*hoursSinceAccess +
		w.AgeDaysWeight*ageDays +
		accessPenalty +
		priorityPenalty
}

// rankForEviction sorts items with the most-evictable first, per policy.
// Two preconditions hold for every policy (spec §4.C): expired items sort
// before any live item, and within that, the policy's own ordering
// applies.
func rankForEviction(items []*itemMeta, policy EvictionPolicy, weights SmartWeights, now time.Time) []*itemMeta {
	ranked := make([]*itemMeta, len(items))
	copy(ranked, items)

	isExpired := func(it *itemMeta) bool {
		return it.ExpireAt != nil && !now.Before(*it.ExpireAt)
	}

	less := func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		ae, be := isExpired(a), isExpired(b)
		if ae != be {
			return ae // expired items first
		}
		switch policy {
		case EEvictionPolicy.LRU():
			return a.LastAccessed.Before(b.LastAccessed)
		case EEvictionPolicy.LFU():
			return a.AccessCount < b.AccessCount
		case EEvictionPolicy.FIFO():
			return a.CreatedAt.Before(b.CreatedAt)
		case EEvictionPolicy.Expire():
			if a.ExpireAt == nil {
				return false
			}
			if b.ExpireAt == nil {
				return true
			}
			return a.ExpireAt.Before(*b.ExpireAt)
		case EEvictionPolicy.Size():
			return a.Size > b.Size
		case EEvictionPolicy.Priority():
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.LastAccessed.Before(b.LastAccessed)
		case EEvictionPolicy.Smart():
			return weights.score(a, now) > weights.score(b, now)
		default:
			return a.LastAccessed.Before(b.LastAccessed)
		}
	}

	sort.SliceStable(ranked, less)
	return ranked
}
