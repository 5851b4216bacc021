package mp4

import "mp4core/pkg/mp4err"

// Sample is the logical, per-track decoded form of one sample:
// (entry_index, dts, duration, composition_offset, is_sync, file_offset,
// size). EntryIndex is 0-based in memory (1-based on the wire).
type Sample struct {
	EntryIndex        int
	DTS               uint64
	Duration          uint32
	CompositionOffset int32
	IsSync            bool
	FileOffset        uint64
	Size              uint32
}

// RawSampleTable bundles the parsed stbl box contents DecodeSampleTable
// consumes.
type RawSampleTable struct {
	SttsEntries  []SttsEntry
	CttsEntries  []CttsEntry // nil if no ctts present: all offsets zero.
	CttsVersion  uint8
	StscEntries  []StscEntry
	SampleSize   uint32 // stsz uniform size, 0 if per-sample.
	SampleSizes  []uint32
	SampleCount  uint32
	ChunkOffsets []uint64 // from stco or co64, already widened to uint64.
	SyncSamples  []uint32 // 1-based; nil means "no stss: every sample synced".
}

// DecodeSampleTable expands the compact stbl encoding into a flat
// per-track Sample sequence in decode order: stsc is walked into per-chunk
// layouts, sizes come from stsz, offsets are the chunk base plus the
// prefix sum of prior sample sizes, DTS is the running stts sum, and
// composition offsets come from ctts (zero when absent).
func DecodeSampleTable(t RawSampleTable) ([]Sample, error) {
	sampleCount := t.SampleCount
	if t.SampleSize == 0 {
		sampleCount = uint32(len(t.SampleSizes))
	}

	samples := make([]Sample, 0, sampleCount)

	// Expand stsc into a per-chunk (samples_in_chunk, entry_idx) lookup.
	if len(t.StscEntries) == 0 && len(t.ChunkOffsets) > 0 {
		return nil, mp4err.New(mp4err.InvalidData, "stsc empty but stco/co64 non-empty")
	}
	prevFirst := uint32(0)
	for _, e := range t.StscEntries {
		if e.FirstChunk <= prevFirst {
			return nil, mp4err.New(mp4err.InvalidData, "stsc first_chunk values must start at 1 and strictly increase")
		}
		prevFirst = e.FirstChunk
	}

	sampleIdx := uint32(0)
	var dts uint64
	sttsRun, sttsLeft := 0, uint32(0)
	cttsRun, cttsLeft := 0, uint32(0)

	nextDelta := func() (uint32, error) {
		for sttsLeft == 0 {
			if sttsRun >= len(t.SttsEntries) {
				return 0, mp4err.New(mp4err.InvalidData, "stts exhausted before stsz sample count")
			}
			sttsLeft = t.SttsEntries[sttsRun].SampleCount
			if sttsLeft == 0 {
				sttsRun++
				continue
			}
		}
		d := t.SttsEntries[sttsRun].SampleDelta
		sttsLeft--
		if sttsLeft == 0 {
			sttsRun++
		}
		return d, nil
	}

	nextCompositionOffset := func() (int32, error) {
		if t.CttsEntries == nil {
			return 0, nil
		}
		for cttsLeft == 0 {
			if cttsRun >= len(t.CttsEntries) {
				return 0, mp4err.New(mp4err.InvalidData, "ctts exhausted before stsz sample count")
			}
			cttsLeft = t.CttsEntries[cttsRun].SampleCount
			if cttsLeft == 0 {
				cttsRun++
				continue
			}
		}
		e := t.CttsEntries[cttsRun]
		var off int32
		if t.CttsVersion == 1 {
			off = e.SampleOffsetV1
		} else {
			off = int32(e.SampleOffsetV0) // version 0 offsets are unsigned.
		}
		cttsLeft--
		if cttsLeft == 0 {
			cttsRun++
		}
		return off, nil
	}

	syncSet := make(map[uint32]bool, len(t.SyncSamples))
	for _, n := range t.SyncSamples {
		syncSet[n] = true
	}
	hasStss := len(t.SyncSamples) > 0

	for _, chunk := range expandStsc(t.StscEntries, len(t.ChunkOffsets)) {
		samplesInChunk, entryIdx := chunk.samplesPerChunk, chunk.entryIdx
		chunkOffset := t.ChunkOffsets[chunk.index]
		var prefix uint64
		for i := uint32(0); i < samplesInChunk; i++ {
			if sampleIdx >= sampleCount {
				return nil, mp4err.New(mp4err.InvalidData, "stsc describes more samples than stsz declares")
			}
			var size uint32
			if t.SampleSize != 0 {
				size = t.SampleSize
			} else {
				size = t.SampleSizes[sampleIdx]
			}
			delta, err := nextDelta()
			if err != nil {
				return nil, err
			}
			cto, err := nextCompositionOffset()
			if err != nil {
				return nil, err
			}
			isSync := !hasStss || syncSet[sampleIdx+1]
			samples = append(samples, Sample{
				EntryIndex:        int(entryIdx) - 1,
				DTS:               dts,
				Duration:          delta,
				CompositionOffset: cto,
				IsSync:            isSync,
				FileOffset:        chunkOffset + prefix,
				Size:              size,
			})
			prefix += uint64(size)
			dts += uint64(delta)
			sampleIdx++
		}
	}

	if sampleIdx != sampleCount {
		return nil, mp4err.Newf(mp4err.InvalidData,
			"stsc covers %d samples, stsz declares %d", sampleIdx, sampleCount)
	}

	// DTS is a running sum, so two samples share a dts iff a non-final
	// sample has a zero duration.
	for i := 1; i < len(samples); i++ {
		if samples[i].DTS == samples[i-1].DTS {
			return nil, mp4err.Newf(mp4err.InvalidData,
				"samples %d and %d share dts %d", i, i+1, samples[i].DTS)
		}
	}
	return samples, nil
}

type stscChunk struct {
	index           int
	samplesPerChunk uint32
	entryIdx        uint32
}

// expandStsc walks stsc's change records into one entry per chunk implied
// by them, up to chunkCount chunks total.
func expandStsc(entries []StscEntry, chunkCount int) []stscChunk {
	chunks := make([]stscChunk, 0, chunkCount)
	for i := 0; i < len(entries); i++ {
		first := int(entries[i].FirstChunk) - 1
		last := chunkCount
		if i+1 < len(entries) {
			last = int(entries[i+1].FirstChunk) - 1
		}
		for c := first; c < last && c < chunkCount; c++ {
			chunks = append(chunks, stscChunk{
				index:           c,
				samplesPerChunk: entries[i].SamplesPerChunk,
				entryIdx:        entries[i].SampleDescriptionIndex,
			})
		}
	}
	return chunks
}

// EncodedSampleTable is the box-ready compact form built from a flat
// Sample slice by greedy run-length compression.
type EncodedSampleTable struct {
	Stts        []SttsEntry
	HasCtts     bool
	Ctts        []CttsEntry
	CttsVersion uint8
	Stsc        []StscEntry
	UniformSize uint32 // 0 if not uniform.
	SampleSizes []uint32
	SyncSamples []uint32 // empty iff every sample is sync (no stss emitted).
}

// EncodeSampleTable greedily compresses a decode-order Sample slice into
// run-length boxes, one sample per chunk: adjacent equal durations merge
// into one stts record, all-zero composition offsets omit ctts entirely,
// adjacent chunks with the same layout collapse into one stsc run, and
// stsz takes the uniform form iff every sample size is equal.
func EncodeSampleTable(samples []Sample) EncodedSampleTable {
	var out EncodedSampleTable
	negativeSeen := false

	allSync := true
	for i, s := range samples {
		// stts.
		if n := len(out.Stts); n > 0 && out.Stts[n-1].SampleDelta == s.Duration {
			out.Stts[n-1].SampleCount++
		} else {
			out.Stts = append(out.Stts, SttsEntry{SampleCount: 1, SampleDelta: s.Duration})
		}

		// ctts.
		if s.CompositionOffset != 0 {
			out.HasCtts = true
		}
		if s.CompositionOffset < 0 {
			negativeSeen = true
		}
		if n := len(out.Ctts); n > 0 && out.Ctts[n-1].SampleOffsetV1 == s.CompositionOffset {
			out.Ctts[n-1].SampleCount++
		} else {
			out.Ctts = append(out.Ctts, CttsEntry{
				SampleCount:    1,
				SampleOffsetV0: uint32(s.CompositionOffset),
				SampleOffsetV1: s.CompositionOffset,
			})
		}

		// stsc: one sample per chunk, entry index (1-based) constant per run.
		entryIdx := uint32(s.EntryIndex + 1)
		if n := len(out.Stsc); n > 0 && out.Stsc[n-1].SamplesPerChunk == 1 &&
			out.Stsc[n-1].SampleDescriptionIndex == entryIdx {
			// Adjacent chunks of identical (1, entryIdx) merge into one run:
			// the run just spans more chunks, which is implicit since every
			// sample here is its own chunk.
		} else {
			out.Stsc = append(out.Stsc, StscEntry{
				FirstChunk:             uint32(i + 1),
				SamplesPerChunk:        1,
				SampleDescriptionIndex: entryIdx,
			})
		}

		out.SampleSizes = append(out.SampleSizes, s.Size)

		if s.IsSync {
			out.SyncSamples = append(out.SyncSamples, uint32(i+1))
		} else {
			allSync = false
		}
	}

	if negativeSeen {
		out.CttsVersion = 1
	}
	if !out.HasCtts {
		out.Ctts = nil
	}
	if allSync {
		out.SyncSamples = nil
	}

	// stsz: uniform iff every sample size is equal.
	if len(out.SampleSizes) > 0 {
		uniform := out.SampleSizes[0]
		isUniform := true
		for _, sz := range out.SampleSizes {
			if sz != uniform {
				isUniform = false
				break
			}
		}
		if isUniform {
			out.UniformSize = uniform
			out.SampleSizes = nil
		}
	}

	return out
}
