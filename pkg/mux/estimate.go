package mux

// EstimateMaxMoovSize returns a conservative upper bound on a muxed moov's
// serialized size given how many samples will be appended to the audio and
// video tracks, budgeting roughly 600 bytes of fixed per-track overhead
// plus 40 bytes per sample for fully incompressible tables.
// It assumes at most one track per kind. The muxer never calls this
// itself; it is only for callers choosing a ReservedMoovSize before
// Initialize.
func EstimateMaxMoovSize(audioSampleCount, videoSampleCount uint32) uint64 {
	const perTrackOverhead = 600
	const perSampleOverhead = 40

	var total uint64
	if audioSampleCount > 0 {
		total += perTrackOverhead + uint64(audioSampleCount)*perSampleOverhead
	}
	if videoSampleCount > 0 {
		total += perTrackOverhead + uint64(videoSampleCount)*perSampleOverhead
	}
	return total
}
