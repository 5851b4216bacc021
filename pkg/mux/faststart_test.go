package mux_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"mp4core/pkg/demux"
	"mp4core/pkg/mp4err"
	"mp4core/pkg/mux"
)

const ftypLen = 32 // 8-byte header + major/minor + 4 compatible brands.

func TestEstimateMaxMoovSize(t *testing.T) {
	require.EqualValues(t, 0, mux.EstimateMaxMoovSize(0, 0))
	require.EqualValues(t, 600+3*40, mux.EstimateMaxMoovSize(3, 0))
	require.EqualValues(t, 600+10*40, mux.EstimateMaxMoovSize(0, 10))
	require.EqualValues(t, 2*600+15*40, mux.EstimateMaxMoovSize(5, 10))
}

// TestFaststartMdatStartsAtReservedOffset checks the reservation
// arithmetic: with a sufficient reservation, the mdat header lands at exactly
// ftyp_len + reserved_moov_size, and the first body byte 8 bytes later.
func TestFaststartMdatStartsAtReservedOffset(t *testing.T) {
	reserved := mux.EstimateMaxMoovSize(0, 10)
	m, file := newInitializedMuxer(t, mux.Config{ReservedMoovSize: reserved})

	require.Equal(t, ftypLen+reserved+8, m.NextDataOffset())

	for i := 0; i < 10; i++ {
		require.NoError(t, m.AppendSample(mux.Sample{
			TrackID:     1,
			SampleEntry: videoEntry(),
			DataOffset:  m.NextDataOffset(),
			DataSize:    64, DurationMicros: 33333, IsSync: i == 0,
		}))
		file = append(file, make([]byte, 64)...)
		file = appendSegments(file, m)
	}
	require.NoError(t, m.Finalize())
	file = appendSegments(file, m)

	mdatStart := ftypLen + reserved
	require.Equal(t, []byte("mdat"), file[mdatStart+4:mdatStart+8])
	require.Equal(t, uint32(8+10*64), binary.BigEndian.Uint32(file[mdatStart:]))

	// moov begins right after ftyp, and the remaining reservation is one
	// free box whose size is exactly the gap.
	require.Equal(t, []byte("moov"), file[ftypLen+4:ftypLen+8])
	moovSize := uint64(binary.BigEndian.Uint32(file[ftypLen:]))
	require.LessOrEqual(t, moovSize, reserved)

	freeStart := ftypLen + moovSize
	require.Equal(t, []byte("free"), file[freeStart+4:freeStart+8])
	require.Equal(t, uint32(reserved-moovSize), binary.BigEndian.Uint32(file[freeStart:]))
}

// TestFaststartOverflowRewritesReservationAsFree pins the overflow layout:
// the whole reservation becomes a single free box and moov lands after mdat.
func TestFaststartOverflowRewritesReservationAsFree(t *testing.T) {
	const reserved = 16
	m, file := newInitializedMuxer(t, mux.Config{ReservedMoovSize: reserved})

	require.NoError(t, m.AppendSample(mux.Sample{
		TrackID: 1, SampleEntry: videoEntry(), DataOffset: m.NextDataOffset(),
		DataSize: 4, DurationMicros: 33333, IsSync: true,
	}))
	file = append(file, make([]byte, 4)...)
	file = appendSegments(file, m)
	mdatEnd := len(file)

	require.NoError(t, m.Finalize())
	file = appendSegments(file, m)

	require.Equal(t, []byte("free"), file[ftypLen+4:ftypLen+8])
	require.Equal(t, uint32(reserved), binary.BigEndian.Uint32(file[ftypLen:]))
	require.Equal(t, []byte("moov"), file[mdatEnd+4:mdatEnd+8])
}

// TestMuxerSegmentsCoverFileContiguously checks that the emitted
// segments plus the caller-written sample payloads
// tile [0, file_size) with no gaps.
func TestMuxerSegmentsCoverFileContiguously(t *testing.T) {
	reserved := mux.EstimateMaxMoovSize(0, 2)
	m := mux.NewMuxer(mux.Config{ReservedMoovSize: reserved})
	require.NoError(t, m.Initialize())

	type span struct{ start, end uint64 }
	var spans []span
	var fileSize uint64
	drainSpans := func() {
		for {
			offset, data := m.NextOutput()
			if len(data) == 0 {
				return
			}
			spans = append(spans, span{offset, offset + uint64(len(data))})
			if offset+uint64(len(data)) > fileSize {
				fileSize = offset + uint64(len(data))
			}
		}
	}
	drainSpans()

	for i := 0; i < 2; i++ {
		offset := m.NextDataOffset()
		require.NoError(t, m.AppendSample(mux.Sample{
			TrackID: 1, SampleEntry: videoEntry(), DataOffset: offset,
			DataSize: 32, DurationMicros: 33333, IsSync: i == 0,
		}))
		spans = append(spans, span{offset, offset + 32}) // payload written by caller.
		if offset+32 > fileSize {
			fileSize = offset + 32
		}
		drainSpans()
	}
	require.NoError(t, m.Finalize())
	drainSpans()

	covered := make([]bool, fileSize)
	for _, s := range spans {
		for i := s.start; i < s.end; i++ {
			covered[i] = true
		}
	}
	for i, c := range covered {
		require.True(t, c, "byte %d not covered by any segment", i)
	}
}

// TestRemuxRoundTrip muxes five uniform video samples, demuxes the file,
// muxes the demuxed description again, and verifies the second demux
// yields an identical sample list and identical payload bytes.
func TestRemuxRoundTrip(t *testing.T) {
	muxFive := func() []byte {
		m, file := newInitializedMuxer(t, mux.Config{})
		for i := 0; i < 5; i++ {
			payload := make([]byte, 1024)
			for j := range payload {
				payload[j] = byte(i + j)
			}
			require.NoError(t, m.AppendSample(mux.Sample{
				TrackID: 1, SampleEntry: videoEntry(), DataOffset: m.NextDataOffset(),
				DataSize: 1024, DurationMicros: 33333, IsSync: true,
			}))
			file = append(file, payload...)
			file = appendSegments(file, m)
		}
		require.NoError(t, m.Finalize())
		return appendSegments(file, m)
	}

	fileA := muxFive()

	sessA := demux.NewSession()
	drive(t, sessA, fileA)
	tracksA, err := sessA.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracksA, 1)

	// Re-mux from the demuxed description, copying payload byte ranges.
	m := mux.NewMuxer(mux.Config{})
	require.NoError(t, m.Initialize())
	fileB := appendSegments(nil, m)
	for _, s := range tracksA[0].Samples {
		entry := tracksA[0].Entries[s.EntryIndex]
		offset := m.NextDataOffset()
		require.NoError(t, m.AppendSample(mux.Sample{
			TrackID:        tracksA[0].ID,
			SampleEntry:    &entry,
			DataOffset:     offset,
			DataSize:       s.Size,
			DurationMicros: uint64(s.Duration) * 1_000_000 / uint64(tracksA[0].Timescale),
			IsSync:         s.IsSync,
		}))
		fileB = append(fileB, fileA[s.FileOffset:s.FileOffset+uint64(s.Size)]...)
		fileB = appendSegments(fileB, m)
	}
	require.NoError(t, m.Finalize())
	fileB = appendSegments(fileB, m)

	sessB := demux.NewSession()
	drive(t, sessB, fileB)
	tracksB, err := sessB.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracksB, 1)

	require.Equal(t, tracksA[0].ID, tracksB[0].ID)
	require.Equal(t, tracksA[0].Timescale, tracksB[0].Timescale)
	require.Equal(t, tracksA[0].Duration, tracksB[0].Duration)
	require.Equal(t, tracksA[0].Entries, tracksB[0].Entries)
	require.Len(t, tracksB[0].Samples, len(tracksA[0].Samples))
	for i, sa := range tracksA[0].Samples {
		sb := tracksB[0].Samples[i]
		require.Equal(t, sa.DTS, sb.DTS)
		require.Equal(t, sa.Duration, sb.Duration)
		require.Equal(t, sa.CompositionOffset, sb.CompositionOffset)
		require.Equal(t, sa.IsSync, sb.IsSync)
		require.Equal(t, sa.Size, sb.Size)
		// Same payload bytes at the (possibly relocated) offsets.
		require.Equal(t,
			fileA[sa.FileOffset:sa.FileOffset+uint64(sa.Size)],
			fileB[sb.FileOffset:sb.FileOffset+uint64(sb.Size)])
	}
}

func TestMuxerLifecycleErrors(t *testing.T) {
	m := mux.NewMuxer(mux.Config{})

	// Structural calls before Initialize are InvalidState.
	err := m.Finalize()
	require.True(t, mp4err.Is(err, mp4err.InvalidState))
	require.NotEmpty(t, m.LastError())

	require.NoError(t, m.Initialize())
	err = m.Initialize()
	require.True(t, mp4err.Is(err, mp4err.InvalidState))

	// Undrained output blocks AppendSample with OutputRequired.
	err = m.AppendSample(mux.Sample{TrackID: 1, SampleEntry: videoEntry()})
	require.True(t, mp4err.Is(err, mp4err.OutputRequired))

	for {
		_, data := m.NextOutput()
		if len(data) == 0 {
			break
		}
	}
	require.NoError(t, m.Finalize())

	err = m.AppendSample(mux.Sample{TrackID: 1, SampleEntry: videoEntry()})
	require.True(t, mp4err.Is(err, mp4err.InvalidState))
	err = m.Finalize()
	require.True(t, mp4err.Is(err, mp4err.InvalidState))
}

func TestMuxerRejectsCodecFamilyMismatchWithinTrack(t *testing.T) {
	m, file := newInitializedMuxer(t, mux.Config{})

	require.NoError(t, m.AppendSample(mux.Sample{
		TrackID: 1, SampleEntry: videoEntry(), DataOffset: uint64(len(file)),
		DataSize: 4, DurationMicros: 33333, IsSync: true,
	}))
	file = append(file, make([]byte, 4)...)
	file = appendSegments(file, m)

	err := m.AppendSample(mux.Sample{
		TrackID: 1, SampleEntry: audioEntry(), DataOffset: uint64(len(file)),
		DataSize: 4, DurationMicros: 20000,
	})
	require.True(t, mp4err.Is(err, mp4err.InvalidInput))
}

// TestSampleEntryDeduplication checks that N samples sharing one logical
// configuration intern exactly one stsd entry.
func TestSampleEntryDeduplication(t *testing.T) {
	m, file := newInitializedMuxer(t, mux.Config{})

	for i := 0; i < 4; i++ {
		// A fresh but structurally identical entry every time.
		require.NoError(t, m.AppendSample(mux.Sample{
			TrackID: 1, SampleEntry: videoEntry(), DataOffset: uint64(len(file)),
			DataSize: 16, DurationMicros: 33333, IsSync: i == 0,
		}))
		file = append(file, make([]byte, 16)...)
		file = appendSegments(file, m)
	}
	require.NoError(t, m.Finalize())
	file = appendSegments(file, m)

	sess := demux.NewSession()
	drive(t, sess, file)
	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.Len(t, tracks[0].Entries, 1)
	for _, s := range tracks[0].Samples {
		require.Equal(t, 0, s.EntryIndex)
	}
}
