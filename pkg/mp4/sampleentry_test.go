package mp4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// roundTripEntry builds the stsd child box tree for e, marshals it inside a
// one-entry stsd, decodes the stsd body back, and returns the decoded entry.
func roundTripEntry(t *testing.T, e SampleEntry) SampleEntry {
	t.Helper()

	child, err := BuildSampleEntry(e)
	require.NoError(t, err)

	stsd := Boxes{Box: &Stsd{EntryCount: 1}, Children: []Boxes{child}}
	buf := make([]byte, stsd.Size())
	pos := 0
	stsd.Marshal(buf, &pos)
	require.Equal(t, len(buf), pos)

	entries, err := DecodeStsdEntries(buf[8:], 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func TestSampleEntryRoundTripAVC1(t *testing.T) {
	orig := SampleEntry{
		Kind: KindAVC1,
		AVC1: &AVCParams{
			Width:                1920,
			Height:               1080,
			ProfileIndication:    AVCHighProfile,
			ProfileCompatibility: 0,
			LevelIndication:      40,
			LengthSizeMinusOne:   3,
			SPS:                  [][]byte{{0x67, 0x64, 0x00, 0x28}},
			PPS:                  [][]byte{{0x68, 0xee, 0x3c, 0xb0}},
			HasChromaExtension:   true,
			ChromaFormat:         1,
			BitDepthLumaMinus8:   0,
			BitDepthChromaMinus8: 0,
		},
	}
	got := roundTripEntry(t, orig)
	require.Equal(t, KindAVC1, got.Kind)
	require.Equal(t, orig.AVC1, got.AVC1)
	require.True(t, orig.Equal(&got))
}

func TestSampleEntryRoundTripHEVC(t *testing.T) {
	orig := SampleEntry{
		Kind: KindHEV1,
		HEV1: &HEVCParams{
			Width:                            3840,
			Height:                           2160,
			GeneralProfileSpace:              0,
			GeneralTierFlag:                  true,
			GeneralProfileIdc:                2,
			GeneralProfileCompatibilityFlags: 0x20000000,
			GeneralConstraintIndicatorFlags:  0x900000000000,
			GeneralLevelIdc:                  153,
			ChromaFormatIdc:                  1,
			BitDepthLumaMinus8:               2,
			BitDepthChromaMinus8:             2,
			MinSpatialSegmentationIdc:        0,
			ParallelismType:                  0,
			AvgFrameRate:                     0,
			ConstantFrameRate:                0,
			NumTemporalLayers:                1,
			TemporalIDNested:                 true,
			LengthSizeMinusOne:               3,
			NaluArrays: []HEVCNaluEntry{
				{NaluType: 32, Nalus: [][]byte{{0x40, 0x01, 0x0c}}},
				{NaluType: 33, Nalus: [][]byte{{0x42, 0x01, 0x01}, {0x42, 0x01, 0x02}}},
				{NaluType: 34, Nalus: [][]byte{{0x44, 0x01, 0xc0}}},
			},
		},
	}
	got := roundTripEntry(t, orig)
	require.Equal(t, KindHEV1, got.Kind)
	require.Equal(t, orig.HEV1, got.HEV1)
}

func TestSampleEntryRoundTripHVC1FourCC(t *testing.T) {
	orig := SampleEntry{
		Kind: KindHEV1,
		HEV1: &HEVCParams{
			Width: 1280, Height: 720,
			GeneralProfileIdc: 1,
			GeneralLevelIdc:   93,
			NumTemporalLayers: 1,
			NaluArrays: []HEVCNaluEntry{
				{NaluType: 32, Nalus: [][]byte{{0x40, 0x01}}},
			},
			OutOfBand: true,
		},
	}

	child, err := BuildSampleEntry(orig)
	require.NoError(t, err)
	require.Equal(t, BoxType{'h', 'v', 'c', '1'}, child.Box.Type())

	got := roundTripEntry(t, orig)
	require.True(t, got.HEV1.OutOfBand)
	require.Equal(t, orig.HEV1, got.HEV1)
}

func TestSampleEntryRoundTripVP08(t *testing.T) {
	orig := SampleEntry{
		Kind: KindVP08,
		VP08: &VPXParams{
			Width:                   1920,
			Height:                  1080,
			BitDepth:                8,
			ChromaSubsampling:       1,
			VideoFullRangeFlag:      false,
			ColourPrimaries:         1,
			TransferCharacteristics: 1,
			MatrixCoefficients:      1,
		},
	}
	got := roundTripEntry(t, orig)
	require.Equal(t, KindVP08, got.Kind)
	require.Equal(t, orig.VP08, got.VP08)
}

func TestSampleEntryRoundTripVP09(t *testing.T) {
	orig := SampleEntry{
		Kind: KindVP09,
		VP09: &VPXParams{
			Width:                   2560,
			Height:                  1440,
			BitDepth:                10,
			ChromaSubsampling:       1,
			VideoFullRangeFlag:      true,
			ColourPrimaries:         9,
			TransferCharacteristics: 16,
			MatrixCoefficients:      9,
			Profile:                 2,
			Level:                   41,
			CodecInitializationData: []byte{0xde, 0xad, 0xbe, 0xef},
			IsVP09:                  true,
		},
	}
	got := roundTripEntry(t, orig)
	require.Equal(t, KindVP09, got.Kind)
	require.Equal(t, orig.VP09, got.VP09)
}

func TestSampleEntryRoundTripAV01(t *testing.T) {
	orig := SampleEntry{
		Kind: KindAV01,
		AV01: &AV1Params{
			Width:                            1920,
			Height:                           1080,
			SeqProfile:                       0,
			SeqLevelIdx0:                     8,
			SeqTier0:                         false,
			HighBitdepth:                     false,
			TwelveBit:                        false,
			Monochrome:                       false,
			ChromaSubsamplingX:               true,
			ChromaSubsamplingY:               true,
			ChromaSamplePosition:             0,
			InitialPresentationDelayPresent:  true,
			InitialPresentationDelayMinusOne: 3,
			ConfigOBUs:                       []byte{0x0a, 0x0b, 0x00, 0x00, 0x00, 0x24},
		},
	}
	got := roundTripEntry(t, orig)
	require.Equal(t, KindAV01, got.Kind)
	require.Equal(t, orig.AV01, got.AV01)
}

func TestSampleEntryRoundTripOpus(t *testing.T) {
	orig := SampleEntry{
		Kind: KindOPUS,
		OPUS: &OpusParams{
			ChannelCount:    2,
			SampleRate:      48000,
			SampleSize:      16,
			PreSkip:         312,
			InputSampleRate: 48000,
			OutputGain:      -256,
		},
	}
	got := roundTripEntry(t, orig)
	require.Equal(t, KindOPUS, got.Kind)
	require.Equal(t, orig.OPUS, got.OPUS)
}

func TestSampleEntryRoundTripMP4A(t *testing.T) {
	orig := SampleEntry{
		Kind: KindMP4A,
		MP4A: &MP4AParams{
			ChannelCount:    2,
			SampleRate:      44100,
			SampleSize:      16,
			BufferSizeDB:    6144,
			MaxBitrate:      128000,
			AvgBitrate:      96000,
			DecSpecificInfo: []byte{0x12, 0x10},
		},
	}
	got := roundTripEntry(t, orig)
	require.Equal(t, KindMP4A, got.Kind)
	require.Equal(t, orig.MP4A, got.MP4A)
}

func TestSampleEntryBtrtPassthrough(t *testing.T) {
	orig := SampleEntry{
		Kind: KindAVC1,
		AVC1: &AVCParams{
			Width: 640, Height: 480,
			ProfileIndication:  AVCBaselineProfile,
			LevelIndication:    30,
			LengthSizeMinusOne: 3,
			SPS:                [][]byte{{0x67, 0x42}},
			PPS:                [][]byte{{0x68, 0xce}},
		},
		Btrt: &Btrt{BufferSizeDB: 6144, MaxBitrate: 2_000_000, AvgBitrate: 1_500_000},
	}
	got := roundTripEntry(t, orig)
	require.Equal(t, orig.Btrt, got.Btrt)
	require.True(t, orig.Equal(&got))

	// An entry without btrt decodes with a nil Btrt, and the two forms are
	// not structurally equal, so the muxer interns them separately.
	bare := orig
	bare.Btrt = nil
	gotBare := roundTripEntry(t, bare)
	require.Nil(t, gotBare.Btrt)
	require.False(t, orig.Equal(&gotBare))
}

func TestDecodeStsdEntriesRejectsUnknownFourCC(t *testing.T) {
	child, err := BuildSampleEntry(SampleEntry{
		Kind: KindOPUS,
		OPUS: &OpusParams{ChannelCount: 2, SampleRate: 48000, SampleSize: 16},
	})
	require.NoError(t, err)

	stsd := Boxes{Box: &Stsd{EntryCount: 1}, Children: []Boxes{child}}
	buf := make([]byte, stsd.Size())
	pos := 0
	stsd.Marshal(buf, &pos)

	// Corrupt the entry's fourcc ("Opus" -> "Xpus").
	copy(buf[8+8+4:], []byte{'X', 'p', 'u', 's'})
	_, err = DecodeStsdEntries(buf[8:], 0)
	require.Error(t, err)
}
