package demux

import (
	"mp4core/pkg/mp4"
	"mp4core/pkg/mp4err"
)

// kindPriority is the timeline tie-break weight: video wins ties so a
// decoder sees a frame's leading B-frames' reference before it needs it.
func kindPriority(k TrackKind) int {
	if k == KindVideo {
		return 0
	}
	return 1
}

// NextSample returns the next (track_id, sample) pair in the merged,
// presentation-ordered timeline, selecting across all tracks the sample
// minimising (dts_micros, kind_priority, track_id). Returns
// mp4err.NoMoreSamples once every track's cursor is exhausted.
func (s *Session) NextSample() (trackID uint32, sample mp4.Sample, err error) {
	if s.phase == phaseError {
		return 0, mp4.Sample{}, s.err
	}
	if s.phase != phaseReady {
		return 0, mp4.Sample{}, mp4err.New(mp4err.InputRequired, "next_sample called before the session is ready")
	}

	bestIdx := -1
	var bestDTSMicros uint64
	var bestPriority int
	for i, t := range s.tracks {
		if t.nextIndex >= len(t.Samples) {
			continue
		}
		dtsMicros := t.Samples[t.nextIndex].DTS * 1_000_000 / uint64(t.Timescale)
		priority := kindPriority(t.Kind)
		if bestIdx == -1 ||
			dtsMicros < bestDTSMicros ||
			(dtsMicros == bestDTSMicros && priority < bestPriority) ||
			(dtsMicros == bestDTSMicros && priority == bestPriority && t.ID < s.tracks[bestIdx].ID) {
			bestIdx = i
			bestDTSMicros = dtsMicros
			bestPriority = priority
		}
	}
	if bestIdx == -1 {
		return 0, mp4.Sample{}, mp4err.New(mp4err.NoMoreSamples, "no more samples")
	}

	t := s.tracks[bestIdx]
	smp := t.Samples[t.nextIndex]
	t.nextIndex++
	return t.ID, smp, nil
}
