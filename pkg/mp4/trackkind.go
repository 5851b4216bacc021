package mp4

// TrackKind is the two track kinds this core understands, shared between
// pkg/demux and pkg/mux so a muxed-then-demuxed track's kind round-trips
// through one type.
type TrackKind uint8

const (
	KindVideo TrackKind = iota
	KindAudio
)

func (k TrackKind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "video"
}
