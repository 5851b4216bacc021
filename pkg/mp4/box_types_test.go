package mp4

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// marshalBody runs src's own Size/Marshal and returns the raw body bytes
// (not the 8-byte size+type header).
func marshalBody(t *testing.T, src ImmutableBox) []byte {
	t.Helper()
	buf := make([]byte, src.Size())
	pos := 0
	src.Marshal(buf, &pos)
	require.Equal(t, len(buf), pos)
	return buf
}

func TestBoxTypes(t *testing.T) { //nolint:funlen
	testCases := []struct {
		name string
		src  ImmutableBox
		bin  []byte
	}{
		{
			name: "btrt",
			src: &Btrt{
				BufferSizeDB: 0x12345678,
				MaxBitrate:   0x3456789a,
				AvgBitrate:   0x56789abc,
			},
			bin: []byte{
				0x12, 0x34, 0x56, 0x78,
				0x34, 0x56, 0x78, 0x9a,
				0x56, 0x78, 0x9a, 0xbc,
			},
		},
		{
			name: "ctts version 0",
			src: &Ctts{
				FullBox: FullBox{Version: 0},
				Entries: []CttsEntry{
					{SampleCount: 2, SampleOffsetV0: 0x1234},
				},
			},
			bin: []byte{
				0, 0x00, 0x00, 0x00, // version/flags
				0x00, 0x00, 0x00, 0x01, // entry count
				0x00, 0x00, 0x00, 0x02, // sample count
				0x00, 0x00, 0x12, 0x34, // sample offset
			},
		},
		{
			name: "ctts version 1 negative offset",
			src: &Ctts{
				FullBox: FullBox{Version: 1},
				Entries: []CttsEntry{
					{SampleCount: 1, SampleOffsetV1: -5},
				},
			},
			bin: []byte{
				1, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x01,
				0xff, 0xff, 0xff, 0xfb,
			},
		},
		{
			name: "stts",
			src: &Stts{
				Entries: []SttsEntry{{SampleCount: 5, SampleDelta: 3000}},
			},
			bin: []byte{
				0, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x05,
				0x00, 0x00, 0x0b, 0xb8,
			},
		},
		{
			name: "stsc",
			src: &Stsc{
				Entries: []StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: 1}},
			},
			bin: []byte{
				0, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x01,
			},
		},
		{
			name: "stsz uniform",
			src:  &Stsz{SampleSize: 1024, SampleCount: 3},
			bin: []byte{
				0, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x04, 0x00,
				0x00, 0x00, 0x00, 0x03,
			},
		},
		{
			name: "stco",
			src:  &Stco{ChunkOffsets: []uint32{32, 1056}},
			bin: []byte{
				0, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x02,
				0x00, 0x00, 0x00, 0x20,
				0x00, 0x00, 0x04, 0x20,
			},
		},
		{
			name: "co64",
			src:  &Co64{ChunkOffsets: []uint64{0x100000000}},
			bin: []byte{
				0, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00,
			},
		},
		{
			name: "stss",
			src:  &Stss{SampleNumbers: []uint32{1, 4, 7}},
			bin: []byte{
				0, 0x00, 0x00, 0x00,
				0x00, 0x00, 0x00, 0x03,
				0x00, 0x00, 0x00, 0x01,
				0x00, 0x00, 0x00, 0x04,
				0x00, 0x00, 0x00, 0x07,
			},
		},
		{
			name: "vmhd",
			src: &Vmhd{
				Graphicsmode: 0x0123,
				Opcolor:      [3]uint16{0x2345, 0x4567, 0x6789},
			},
			bin: []byte{
				0, 0x00, 0x00, 0x00,
				0x01, 0x23,
				0x23, 0x45, 0x45, 0x67, 0x67, 0x89,
			},
		},
		{
			name: "udta",
			src:  &Udta{},
			bin:  []byte{},
		},
		{
			name: "free",
			src:  &Free{Size_: 4},
			bin:  []byte{0, 0, 0, 0},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := marshalBody(t, tc.src)
			require.Equal(t, tc.bin, got)
		})
	}
}

func TestFtypMarshal(t *testing.T) {
	ftyp := &Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 512,
		CompatibleBrands: []CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
			{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
		},
	}
	require.Equal(t, 8+8, ftyp.Size())
	got := marshalBody(t, ftyp)
	require.Equal(t, []byte{
		'i', 's', 'o', 'm',
		0x00, 0x00, 0x02, 0x00,
		'i', 's', 'o', 'm',
		'm', 'p', '4', '1',
	}, got)
}

func TestAvcCMarshal(t *testing.T) {
	avcC := &AvcC{
		ConfigurationVersion: 1,
		Profile:              AVCHighProfile,
		ProfileCompatibility: 0,
		Level:                31,
		LengthSizeMinusOne:   3,
		SequenceParameterSets: []AVCParameterSet{
			{NALUnit: []byte{0x67, 0x01, 0x02}},
		},
		PictureParameterSets: []AVCParameterSet{
			{NALUnit: []byte{0x68, 0x03}},
		},
		HasChromaExtension:   true,
		ChromaFormat:         1,
		BitDepthLumaMinus8:   0,
		BitDepthChromaMinus8: 0,
	}
	require.NoError(t, avcC.ValidateProfile())
	got := marshalBody(t, avcC)

	pos := 0
	require.Equal(t, byte(1), ReadByte(got, &pos))
	require.Equal(t, AVCHighProfile, ReadByte(got, &pos))
	_ = ReadByte(got, &pos)
	require.Equal(t, byte(31), ReadByte(got, &pos))
}

func TestAvcCRejectsChromaExtensionOnBaselineProfile(t *testing.T) {
	avcC := &AvcC{
		Profile:            AVCBaselineProfile,
		HasChromaExtension: true,
	}
	require.Error(t, avcC.ValidateProfile())
}
