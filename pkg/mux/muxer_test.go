package mux_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mp4core/pkg/demux"
	"mp4core/pkg/mp4"
	"mp4core/pkg/mux"
)

func videoEntry() *mp4.SampleEntry {
	return &mp4.SampleEntry{
		Kind: mp4.KindAVC1,
		AVC1: &mp4.AVCParams{
			Width:              640,
			Height:             480,
			ProfileIndication:  66,
			LevelIndication:    30,
			LengthSizeMinusOne: 3,
			SPS:                [][]byte{{0x67, 0x42, 0x00, 0x1e}},
			PPS:                [][]byte{{0x68, 0xce, 0x3c, 0x80}},
		},
	}
}

func audioEntry() *mp4.SampleEntry {
	return &mp4.SampleEntry{
		Kind: mp4.KindOPUS,
		OPUS: &mp4.OpusParams{
			ChannelCount:    2,
			SampleRate:      48000,
			SampleSize:      16,
			PreSkip:         312,
			InputSampleRate: 48000,
		},
	}
}

// appendSegments pulls every pending output segment and folds it into file,
// growing the buffer as later (possibly lower-offset) segments patch
// earlier placeholders. Used after every structural Muxer call.
func appendSegments(file []byte, m *mux.Muxer) []byte {
	for {
		offset, data := m.NextOutput()
		if len(data) == 0 {
			return file
		}
		end := int(offset) + len(data)
		if end > len(file) {
			grown := make([]byte, end)
			copy(grown, file)
			file = grown
		}
		copy(file[offset:], data)
	}
}

// drive pumps a demux.Session against an in-memory buffer until it stops
// requesting input, mirroring a conforming get_required_input/handle_input
// caller.
func drive(t *testing.T, sess *demux.Session, buf []byte) {
	t.Helper()
	for i := 0; i < 10000; i++ {
		pos, size := sess.GetRequiredInput()
		if size == 0 {
			return
		}
		var data []byte
		if size < 0 {
			data = buf[pos:]
		} else {
			end := pos + size
			if end > int64(len(buf)) {
				end = int64(len(buf))
			}
			data = buf[pos:end]
		}
		require.NoError(t, sess.HandleInput(pos, data))
	}
	t.Fatal("demuxer never reached a drained state")
}

func newInitializedMuxer(t *testing.T, cfg mux.Config) (*mux.Muxer, []byte) {
	t.Helper()
	m := mux.NewMuxer(cfg)
	require.NoError(t, m.Initialize())
	return m, appendSegments(nil, m)
}

func TestMuxSingleVideoSample(t *testing.T) {
	m, file := newInitializedMuxer(t, mux.Config{})

	offset := uint64(len(file))
	payload := []byte{1, 2, 3, 4}

	require.NoError(t, m.AppendSample(mux.Sample{
		TrackID:        1,
		SampleEntry:    videoEntry(),
		DataOffset:     offset,
		DataSize:       uint32(len(payload)),
		DurationMicros: 33333,
		IsSync:         true,
	}))
	file = append(file, payload...)
	file = appendSegments(file, m)

	require.NoError(t, m.Finalize())
	file = appendSegments(file, m)

	sess := demux.NewSession()
	drive(t, sess, file)
	require.Empty(t, sess.LastError())

	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	tr := tracks[0]
	require.Equal(t, uint32(1), tr.ID)
	require.Equal(t, demux.KindVideo, tr.Kind)
	require.EqualValues(t, 90000, tr.Timescale)
	require.Len(t, tr.Samples, 1)
	require.True(t, tr.Samples[0].IsSync)
	require.EqualValues(t, len(payload), tr.Samples[0].Size)
	require.Equal(t, offset, tr.Samples[0].FileOffset)
}

func TestMuxAudioAndVideoTracksInterleaved(t *testing.T) {
	m, file := newInitializedMuxer(t, mux.Config{})

	type appended struct {
		trackID  uint32
		size     uint32
		duration uint64
		sync     bool
		entry    *mp4.SampleEntry
	}
	plan := []appended{
		{1, 10, 33333, true, videoEntry()},
		{2, 20, 20000, false, audioEntry()},
		{1, 11, 33333, false, nil},
		{2, 21, 20000, false, nil},
	}

	for _, p := range plan {
		offset := uint64(len(file))
		require.NoError(t, m.AppendSample(mux.Sample{
			TrackID:        p.trackID,
			SampleEntry:    p.entry,
			DataOffset:     offset,
			DataSize:       p.size,
			DurationMicros: p.duration,
			IsSync:         p.sync,
		}))
		file = append(file, make([]byte, p.size)...)
		file = appendSegments(file, m)
	}

	require.NoError(t, m.Finalize())
	file = appendSegments(file, m)

	sess := demux.NewSession()
	drive(t, sess, file)
	require.Empty(t, sess.LastError())

	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 2)

	byID := map[uint32]*demux.Track{}
	for _, tr := range tracks {
		byID[tr.ID] = tr
	}

	video := byID[1]
	require.Equal(t, demux.KindVideo, video.Kind)
	require.Len(t, video.Samples, 2)
	require.True(t, video.Samples[0].IsSync)
	require.False(t, video.Samples[1].IsSync)

	audio := byID[2]
	require.Equal(t, demux.KindAudio, audio.Kind)
	require.Len(t, audio.Samples, 2)
	// Audio samples are forced sync regardless of the caller's is_sync
	// value.
	require.True(t, audio.Samples[0].IsSync)
	require.True(t, audio.Samples[1].IsSync)
}

func TestFaststartFitsReservation(t *testing.T) {
	reserved := mux.EstimateMaxMoovSize(0, 4)
	m, file := newInitializedMuxer(t, mux.Config{ReservedMoovSize: reserved})

	for i := 0; i < 3; i++ {
		offset := uint64(len(file))
		var entry *mp4.SampleEntry
		if i == 0 {
			entry = videoEntry()
		}
		require.NoError(t, m.AppendSample(mux.Sample{
			TrackID: 1, SampleEntry: entry, DataOffset: offset,
			DataSize: 8, DurationMicros: 33333, IsSync: i == 0,
		}))
		file = append(file, make([]byte, 8)...)
		file = appendSegments(file, m)
	}

	require.NoError(t, m.Finalize())
	file = appendSegments(file, m)

	sess := demux.NewSession()
	drive(t, sess, file)
	require.Empty(t, sess.LastError())
	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.Len(t, tracks[0].Samples, 3)
}

func TestFaststartOverflowFallsBackToEndOfFile(t *testing.T) {
	// 8 bytes is the minimum legal reservation (a bare free-box header) and
	// can never hold a real moov, forcing the overflow branch.
	m, file := newInitializedMuxer(t, mux.Config{ReservedMoovSize: 8})

	offset := uint64(len(file))
	require.NoError(t, m.AppendSample(mux.Sample{
		TrackID: 1, SampleEntry: videoEntry(), DataOffset: offset,
		DataSize: 4, DurationMicros: 33333, IsSync: true,
	}))
	file = append(file, make([]byte, 4)...)
	file = appendSegments(file, m)
	mdatEnd := len(file)

	require.NoError(t, m.Finalize())
	file = appendSegments(file, m)

	require.Greater(t, len(file), mdatEnd)

	sess := demux.NewSession()
	drive(t, sess, file)
	require.Empty(t, sess.LastError())
	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
}

func TestFinalizeWithNoTracksProducesEmptyMoov(t *testing.T) {
	m, file := newInitializedMuxer(t, mux.Config{})

	require.NoError(t, m.Finalize())
	file = appendSegments(file, m)

	sess := demux.NewSession()
	drive(t, sess, file)
	require.Empty(t, sess.LastError())
	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Empty(t, tracks)
}

func TestAppendSampleRejectsOffsetMismatch(t *testing.T) {
	m, _ := newInitializedMuxer(t, mux.Config{})

	err := m.AppendSample(mux.Sample{
		TrackID: 1, SampleEntry: videoEntry(), DataOffset: 999999,
		DataSize: 4, DurationMicros: 33333, IsSync: true,
	})
	require.Error(t, err)
}

func TestAppendSampleRequiresSampleEntryForNewTrack(t *testing.T) {
	m, file := newInitializedMuxer(t, mux.Config{})

	err := m.AppendSample(mux.Sample{
		TrackID: 1, DataOffset: uint64(len(file)), DataSize: 4, DurationMicros: 33333,
	})
	require.Error(t, err)
}

func TestOutputMustBeDrainedBeforeNextCall(t *testing.T) {
	m := mux.NewMuxer(mux.Config{})
	require.NoError(t, m.Initialize())

	// Initialize's segments haven't been drained yet.
	err := m.AppendSample(mux.Sample{
		TrackID: 1, SampleEntry: videoEntry(), DataOffset: 0,
		DataSize: 4, DurationMicros: 33333, IsSync: true,
	})
	require.Error(t, err)
}
