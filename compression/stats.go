package compression

import (
	"encoding/json"
	"sync"

	"github.com/filechunkpro/filechunk-pro/common"
	"github.com/filechunkpro/filechunk-pro/store"
)

const statsStoreKey = "compression/stats"
const persistEveryNSamples = 20

type categoryStat struct {
	AvgRatio   float64 `json:"avgRatio"`
	AvgTimeMs  float64 `json:"avgTimeMs"`
	SampleCnt  int64   `json:"sampleCount"`
}

type levelStat struct {
	AvgRatio  float64 `json:"avgRatio"`
	AvgTimeMs float64 `json:"avgTimeMs"`
	SampleCnt int64   `json:"sampleCount"`
}

type statsSnapshot struct {
	ByCategory map[Category]categoryStat `json:"byCategory"`
	ByLevel    map[int]levelStat         `json:"byLevel"`
}

// Stats holds the adaptive-compression learning state (spec §4.D):
// "every compression result updates the per-category stats and
// per-level stats using streaming averages. Stats are persisted every N
// samples." Backed by the persistent Store so learning survives process
// restarts the same way a session row does.
type Stats struct {
	mu              sync.Mutex
	byCategory      map[Category]categoryStat
	byLevel         map[int]levelStat
	samplesSinceIO  int
	st              *store.Store
	logger          common.ILogger
}

// NewStats loads persisted stats from st, if any, or starts empty.
func NewStats(st *store.Store, logger common.ILogger) *Stats {
	if logger == nil {
		logger = common.NullLogger{}
	}
	s := &Stats{
		byCategory: make(map[Category]categoryStat),
		byLevel:    make(map[int]levelStat),
		st:         st,
		logger:     logger,
	}
	s.load()
	return s
}

func (s *Stats) load() {
	if s.st == nil {
		return
	}
	raw, err := s.st.Get(statsStoreKey)
	if err != nil || raw == nil {
		return
	}
	var snap statsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.logger.Log(common.LogWarning, "discarding corrupt compression stats blob: "+err.Error())
		return
	}
	if snap.ByCategory != nil {
		s.byCategory = snap.ByCategory
	}
	if snap.ByLevel != nil {
		s.byLevel = snap.ByLevel
	}
}

func (s *Stats) persistLocked() {
	if s.st == nil {
		return
	}
	snap := statsSnapshot{ByCategory: s.byCategory, ByLevel: s.byLevel}
	b, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.st.Save(statsStoreKey, b); err != nil {
		s.logger.Log(common.LogWarning, "failed to persist compression stats: "+err.Error())
	}
}

// RecordResult folds one compression outcome into the running
// per-category and per-level streaming averages.
func (s *Stats) RecordResult(category Category, result Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ratio := 1.0
	if result.OriginalSize > 0 {
		ratio = float64(result.CompressedSize) / float64(result.OriginalSize)
	}

	cs := s.byCategory[category]
	cs.SampleCnt++
	cs.AvgRatio = streamingAverage(cs.AvgRatio, ratio, cs.SampleCnt)
	cs.AvgTimeMs = streamingAverage(cs.AvgTimeMs, float64(result.DurationMs), cs.SampleCnt)
	s.byCategory[category] = cs

	ls := s.byLevel[result.Level]
	ls.SampleCnt++
	ls.AvgRatio = streamingAverage(ls.AvgRatio, ratio, ls.SampleCnt)
	ls.AvgTimeMs = streamingAverage(ls.AvgTimeMs, float64(result.DurationMs), ls.SampleCnt)
	s.byLevel[result.Level] = ls

	s.samplesSinceIO++
	if s.samplesSinceIO >= persistEveryNSamples {
		s.samplesSinceIO = 0
		s.persistLocked()
	}
}

func streamingAverage(prevAvg, sample float64, countIncludingSample int64) float64 {
	if countIncludingSample <= 1 {
		return sample
	}
	return prevAvg + (sample-prevAvg)/float64(countIncludingSample)
}

// CategoryRatio returns the observed avg-ratio for category, if any
// samples exist yet.
func (s *Stats) CategoryRatio(category Category) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.byCategory[category]
	if !ok || cs.SampleCnt == 0 {
		return 0, false
	}
	return cs.AvgRatio, true
}

// BestLevelByEfficiency returns the level with the best size reduction
// per millisecond (spec §4.D's historical-learning blend input). A lower
// ratio and lower time both raise efficiency, so this maximises
// (1-ratio)/max(avgTimeMs,1).
func (s *Stats) BestLevelByEfficiency() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bestLevel := 0
	bestScore := -1.0
	found := false
	for level, ls := range s.byLevel {
		if ls.SampleCnt == 0 {
			continue
		}
		timeMs := ls.AvgTimeMs
		if timeMs < 1 {
			timeMs = 1
		}
		score := (1 - ls.AvgRatio) / timeMs
		if score > bestScore {
			bestScore = score
			bestLevel = level
			found = true
		}
	}
	return bestLevel, found
}

// Flush forces a persist regardless of the sample-count threshold, for
// callers that need stats durable before shutdown.
func (s *Stats) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persistLocked()
}
