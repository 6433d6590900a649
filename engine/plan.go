package engine

import (
	"github.com/filechunkpro/filechunk-pro/compression"
)

const (
	minChunkSize     = 1 << 20 // 1 MiB
	maxChunkSize     = 8 << 20 // 8 MiB
	largeFileMarkGiB = 1 << 30
)

// DeriveChunkSize is spec §4.F's chunk-plan derivation: "chunkSize is a
// function of file size (e.g. 1 MiB for <=100 MiB, scaling up to 8 MiB
// for very large files) and network class (larger on fast networks)."
func DeriveChunkSize(fileSize int64, class compression.NetworkClass) int64 {
	base := int64(minChunkSize)
	switch {
	case fileSize > 10*largeFileMarkGiB:
		base = maxChunkSize
	case fileSize > 2*largeFileMarkGiB:
		base = 4 << 20
	case fileSize > 100<<20:
		base = 2 << 20
	}

	switch class {
	case compression.ENetworkClass.VeryFast():
		base *= 2
	case compression.ENetworkClass.Fast():
		base = base * 3 / 2
	case compression.ENetworkClass.VerySlow():
		base /= 2
	}

	if base < minChunkSize {
		base = minChunkSize
	}
	if base > maxChunkSize {
		base = maxChunkSize
	}
	return base
}

// BuildChunkPlan splits fileSize into chunkSize-sized ranges, the last
// one shorter than chunkSize unless fileSize divides it evenly (spec §8
// boundary behaviour: "File at exact chunk-size boundary: plan has
// ceil(size/chunkSize) chunks, last length > 0").
func BuildChunkPlan(fileSize, chunkSize int64) []ChunkState {
	if fileSize == 0 {
		return []ChunkState{{Index: 0, Start: 0, End: 0, Status: EChunkStatus.Pending()}}
	}

	count := (fileSize + chunkSize - 1) / chunkSize
	chunks := make([]ChunkState, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > fileSize {
			end = fileSize
		}
		chunks = append(chunks, ChunkState{Index: int(i), Start: start, End: end, Status: EChunkStatus.Pending()})
	}
	return chunks
}

// planMatches reports whether an existing session's plan is still valid
// for (fileSize, chunkSize); spec §4.F: "Plan is rebuilt only on mismatch
// with any persisted session."
func planMatches(s *Session, fileSize, chunkSize int64) bool {
	return s.FileSize == fileSize && s.ChunkSize == chunkSize
}
