// Package demux implements the pull-I/O demuxer engine: a single-threaded
// state machine that turns a stream of caller-supplied byte ranges into a
// parsed moov plus a merged, presentation-ordered sample timeline. It
// never reads a file itself; pkg/mux and pkg/demux share no I/O
// dependency, only pkg/mp4's box codec.
package demux

import "mp4core/pkg/mp4"

// TrackKind is shared with pkg/mux via pkg/mp4 so a track's kind
// round-trips through a demux-then-remux cycle unchanged.
type TrackKind = mp4.TrackKind

const (
	KindVideo = mp4.KindVideo
	KindAudio = mp4.KindAudio
)

// Track is the demuxed, in-memory form of one trak: identity, timescale
// and duration from tkhd/mdhd, the interned SampleEntry list from stsd,
// and the flat decode-order Sample sequence built from stbl.
type Track struct {
	ID        uint32
	Kind      TrackKind
	Timescale uint32
	Duration  uint64
	Entries   []mp4.SampleEntry
	Samples   []mp4.Sample

	// nextIndex is the per-track timeline cursor, advanced only by
	// Session.NextSample.
	nextIndex int
}
