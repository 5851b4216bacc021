package mp4

// SampleEntryKind is the discriminant of the tagged-union SampleEntry
// model: a tag plus exactly one per-codec payload, no inheritance.
type SampleEntryKind uint8

// Sample-entry kinds.
const (
	KindAVC1 SampleEntryKind = iota
	KindHEV1
	KindVP08
	KindVP09
	KindAV01
	KindOPUS
	KindMP4A
)

func (k SampleEntryKind) String() string {
	switch k {
	case KindAVC1:
		return "avc1"
	case KindHEV1:
		return "hev1"
	case KindVP08:
		return "vp08"
	case KindVP09:
		return "vp09"
	case KindAV01:
		return "av01"
	case KindOPUS:
		return "Opus"
	case KindMP4A:
		return "mp4a"
	default:
		return "unknown"
	}
}

// AVCParams carries the avc1 sample entry's codec configuration.
type AVCParams struct {
	Width, Height                            uint16
	ProfileIndication, ProfileCompatibility  uint8
	LevelIndication                          uint8
	LengthSizeMinusOne                       uint8
	SPS, PPS                                 [][]byte
	HasChromaExtension                       bool
	ChromaFormat                             uint8
	BitDepthLumaMinus8, BitDepthChromaMinus8 uint8
}

// HEVCNaluEntry is one (nalu_type, nalus) group from hvcC's NALU arrays.
type HEVCNaluEntry struct {
	NaluType uint8
	Nalus    [][]byte
}

// HEVCParams carries the hev1/hvc1 sample entry's codec configuration.
type HEVCParams struct {
	Width, Height                            uint16
	GeneralProfileSpace                      uint8
	GeneralTierFlag                          bool
	GeneralProfileIdc                        uint8
	GeneralProfileCompatibilityFlags         uint32
	GeneralConstraintIndicatorFlags          uint64 // 48 bits.
	GeneralLevelIdc                          uint8
	ChromaFormatIdc                          uint8
	BitDepthLumaMinus8, BitDepthChromaMinus8 uint8
	MinSpatialSegmentationIdc                uint16
	ParallelismType                          uint8
	AvgFrameRate                             uint16
	ConstantFrameRate                        uint8
	NumTemporalLayers                        uint8
	TemporalIDNested                         bool
	LengthSizeMinusOne                       uint8
	NaluArrays                               []HEVCNaluEntry
	// OutOfBand is true when the source fourcc was "hvc1" (parameter sets
	// delivered out-of-band) rather than "hev1" (inline); the encoder
	// re-emits the matching fourcc.
	OutOfBand bool
}

// VPXParams carries the vp08/vp09 sample entry's codec configuration.
type VPXParams struct {
	Width, Height           uint16
	BitDepth                uint8
	ChromaSubsampling       uint8
	VideoFullRangeFlag      bool
	ColourPrimaries         uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
	Profile, Level          uint8  // VP09 only.
	CodecInitializationData []byte // VP09 only.
	IsVP09                  bool
}

// AV1Params carries the av01 sample entry's codec configuration.
type AV1Params struct {
	Width, Height                    uint16
	SeqProfile                       uint8
	SeqLevelIdx0                     uint8
	SeqTier0                         bool
	HighBitdepth                     bool
	TwelveBit                        bool
	Monochrome                       bool
	ChromaSubsamplingX               bool
	ChromaSubsamplingY               bool
	ChromaSamplePosition             uint8
	InitialPresentationDelayPresent  bool
	InitialPresentationDelayMinusOne uint8
	ConfigOBUs                       []byte
}

// OpusParams carries the Opus sample entry's codec configuration.
type OpusParams struct {
	ChannelCount    uint8
	SampleRate      uint16 // wire u16, 48000 by convention.
	SampleSize      uint16 // =16.
	PreSkip         uint16
	InputSampleRate uint32
	OutputGain      int16 // Q7.8.
}

// MP4AParams carries the mp4a sample entry's codec configuration.
type MP4AParams struct {
	ChannelCount    uint8
	SampleRate      uint32 // integer Hz (16.16 truncated on the wire).
	SampleSize      uint16
	BufferSizeDB    uint32
	MaxBitrate      uint32
	AvgBitrate      uint32
	DecSpecificInfo []byte
}

// SampleEntry is the tagged-union, in-memory form of a codec configuration
// description shared between pkg/demux (produced by parsing stsd) and
// pkg/mux (consumed to build stsd). Exactly one of the *Params fields is
// non-nil, selected by Kind.
type SampleEntry struct {
	Kind SampleEntryKind

	AVC1 *AVCParams
	HEV1 *HEVCParams
	VP08 *VPXParams
	VP09 *VPXParams
	AV01 *AV1Params
	OPUS *OpusParams
	MP4A *MP4AParams

	// Btrt is the entry's optional btrt (bitrate) child box, decoded when
	// present and re-emitted as-is; nil when the entry carries none.
	Btrt *Btrt
}

// Equal reports structural equality, used by the muxer to dedupe sample
// entries within a track.
func (e *SampleEntry) Equal(o *SampleEntry) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.Kind != o.Kind {
		return false
	}
	if !btrtEqual(e.Btrt, o.Btrt) {
		return false
	}
	switch e.Kind {
	case KindAVC1:
		return avcParamsEqual(e.AVC1, o.AVC1)
	case KindHEV1:
		return hevcParamsEqual(e.HEV1, o.HEV1)
	case KindVP08:
		return vpxParamsEqual(e.VP08, o.VP08)
	case KindVP09:
		return vpxParamsEqual(e.VP09, o.VP09)
	case KindAV01:
		return av1ParamsEqual(e.AV01, o.AV01)
	case KindOPUS:
		return *e.OPUS == *o.OPUS
	case KindMP4A:
		return mp4aParamsEqual(e.MP4A, o.MP4A)
	default:
		return false
	}
}

func btrtEqual(a, b *Btrt) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func byteSlicesEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if string(a[i]) != string(b[i]) {
			return false
		}
	}
	return true
}

func avcParamsEqual(a, b *AVCParams) bool {
	return a.Width == b.Width && a.Height == b.Height &&
		a.ProfileIndication == b.ProfileIndication &&
		a.ProfileCompatibility == b.ProfileCompatibility &&
		a.LevelIndication == b.LevelIndication &&
		a.LengthSizeMinusOne == b.LengthSizeMinusOne &&
		byteSlicesEqual(a.SPS, b.SPS) && byteSlicesEqual(a.PPS, b.PPS) &&
		a.HasChromaExtension == b.HasChromaExtension &&
		a.ChromaFormat == b.ChromaFormat &&
		a.BitDepthLumaMinus8 == b.BitDepthLumaMinus8 &&
		a.BitDepthChromaMinus8 == b.BitDepthChromaMinus8
}

func hevcParamsEqual(a, b *HEVCParams) bool {
	if a.Width != b.Width || a.Height != b.Height || a.GeneralProfileIdc != b.GeneralProfileIdc ||
		a.GeneralLevelIdc != b.GeneralLevelIdc || a.OutOfBand != b.OutOfBand ||
		len(a.NaluArrays) != len(b.NaluArrays) {
		return false
	}
	for i := range a.NaluArrays {
		if a.NaluArrays[i].NaluType != b.NaluArrays[i].NaluType ||
			!byteSlicesEqual(a.NaluArrays[i].Nalus, b.NaluArrays[i].Nalus) {
			return false
		}
	}
	return true
}

func vpxParamsEqual(a, b *VPXParams) bool {
	return a.Width == b.Width && a.Height == b.Height && a.BitDepth == b.BitDepth &&
		a.ChromaSubsampling == b.ChromaSubsampling && a.Profile == b.Profile && a.Level == b.Level &&
		string(a.CodecInitializationData) == string(b.CodecInitializationData)
}

func av1ParamsEqual(a, b *AV1Params) bool {
	return a.Width == b.Width && a.Height == b.Height && a.SeqProfile == b.SeqProfile &&
		a.SeqLevelIdx0 == b.SeqLevelIdx0 && string(a.ConfigOBUs) == string(b.ConfigOBUs)
}

func mp4aParamsEqual(a, b *MP4AParams) bool {
	return a.ChannelCount == b.ChannelCount && a.SampleRate == b.SampleRate &&
		a.SampleSize == b.SampleSize && string(a.DecSpecificInfo) == string(b.DecSpecificInfo)
}
