package demux_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mp4core/pkg/demux"
	"mp4core/pkg/mp4"
	"mp4core/pkg/mp4err"
)

// vp08FileOpts tweaks buildVP08File away from its default well-formed
// ftyp/moov/mdat layout, to exercise alternate layouts and the demuxer's
// rejection of broken tables.
type vp08FileOpts struct {
	moovAtEnd      bool   // lay out ftyp/mdat/moov instead.
	stsdEntryIndex uint32 // stsc sample_description_index; 0 means 1.
	mdhdDuration   uint32 // mdhd duration; 0 means the correct 3000.
	chunkOffset    uint32 // stco entry; 0 means the computed sample offset.
}

// buildSingleVP08File assembles a minimal, well-formed MP4 (ftyp/moov/mdat)
// containing one VP08 video track with a single 1024-byte sample, entirely
// in memory, to drive the demuxer's pull-I/O protocol end to end.
func buildSingleVP08File(t *testing.T) (file []byte, sampleOffset int64) {
	t.Helper()
	return buildVP08File(t, vp08FileOpts{})
}

func buildVP08File(t *testing.T, opts vp08FileOpts) (file []byte, sampleOffset int64) {
	t.Helper()

	ftyp := mp4.Boxes{Box: &mp4.Ftyp{
		MajorBrand:   [4]byte{'i', 's', 'o', 'm'},
		MinorVersion: 512,
		CompatibleBrands: []mp4.CompatibleBrandElem{
			{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
		},
	}}

	vp08Box := &mp4.Vp08{}
	vp08Box.Width = 1920
	vp08Box.Height = 1080
	vp08Box.DataReferenceIndex = 1

	vp08Entry := mp4.Boxes{
		Box: vp08Box,
		Children: []mp4.Boxes{
			{Box: &mp4.VpcC{Config: mp4.VpxConfig{
				Profile:  0,
				Level:    0,
				BitDepth: 8,
			}}},
		},
	}

	entryIndex := opts.stsdEntryIndex
	if entryIndex == 0 {
		entryIndex = 1
	}
	stbl := mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			{Box: &mp4.Stsd{EntryCount: 1}, Children: []mp4.Boxes{vp08Entry}},
			{Box: &mp4.Stts{Entries: []mp4.SttsEntry{{SampleCount: 1, SampleDelta: 3000}}}},
			{Box: &mp4.Stsc{Entries: []mp4.StscEntry{{FirstChunk: 1, SamplesPerChunk: 1, SampleDescriptionIndex: entryIndex}}}},
			{Box: &mp4.Stsz{SampleSize: 1024, SampleCount: 1}},
			{Box: &mp4.Stco{ChunkOffsets: []uint32{0}}}, // patched below.
		},
	}

	minf := mp4.Boxes{Box: &mp4.Minf{}, Children: []mp4.Boxes{stbl}}

	mdhdDuration := opts.mdhdDuration
	if mdhdDuration == 0 {
		mdhdDuration = 3000
	}
	hdlr := mp4.Boxes{Box: &mp4.Hdlr{HandlerType: [4]byte{'v', 'i', 'd', 'e'}}}
	mdhd := mp4.Boxes{Box: &mp4.Mdhd{Timescale: 90000, DurationV0: mdhdDuration}}
	mdia := mp4.Boxes{Box: &mp4.Mdia{}, Children: []mp4.Boxes{mdhd, hdlr, minf}}

	tkhd := mp4.Boxes{Box: &mp4.Tkhd{TrackID: 1, DurationV0: 3000}}
	trak := mp4.Boxes{Box: &mp4.Trak{}, Children: []mp4.Boxes{tkhd, mdia}}

	mvhd := mp4.Boxes{Box: &mp4.Mvhd{Timescale: 1000, DurationV0: 33, NextTrackID: 2}}
	moov := mp4.Boxes{Box: &mp4.Moov{}, Children: []mp4.Boxes{mvhd, trak}}

	ftypSize := ftyp.Size()
	moovSize := moov.Size()
	mdatHeaderLen := 8
	dataOffset := int64(ftypSize + moovSize + mdatHeaderLen)
	if opts.moovAtEnd {
		dataOffset = int64(ftypSize + mdatHeaderLen)
	}

	// Patch the chunk offset now that dataOffset is known.
	chunkOffset := uint32(dataOffset)
	if opts.chunkOffset != 0 {
		chunkOffset = opts.chunkOffset
	}
	stbl.Children[4] = mp4.Boxes{Box: &mp4.Stco{ChunkOffsets: []uint32{chunkOffset}}}

	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i)
	}
	mdat := mp4.Boxes{Box: &mp4.Mdat{Data: payload}}

	total := ftyp.Size() + moov.Size() + mdat.Size()
	buf := make([]byte, total)
	pos := 0
	ftyp.Marshal(buf, &pos)
	if opts.moovAtEnd {
		mdat.Marshal(buf, &pos)
		moov.Marshal(buf, &pos)
	} else {
		moov.Marshal(buf, &pos)
		mdat.Marshal(buf, &pos)
	}
	require.Equal(t, total, pos)

	return buf, dataOffset
}

// drive pumps a Session against an in-memory buffer until it stops
// requesting input, mirroring a conforming caller of get_required_input/
// handle_input.
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

func TestSessionDemuxesSingleVP08Sample(t *testing.T) {
	buf, dataOffset := buildSingleVP08File(t)

	sess := demux.NewSession()
	drive(t, sess, buf)
	require.Empty(t, sess.LastError())

	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	tr := tracks[0]
	require.Equal(t, uint32(1), tr.ID)
	require.Equal(t, demux.KindVideo, tr.Kind)
	require.EqualValues(t, 90000, tr.Timescale)
	require.Len(t, tr.Entries, 1)
	require.Equal(t, mp4.KindVP08, tr.Entries[0].Kind)
	require.EqualValues(t, 1920, tr.Entries[0].VP08.Width)

	require.Len(t, tr.Samples, 1)
	s := tr.Samples[0]
	require.Equal(t, uint64(0), s.DTS)
	require.EqualValues(t, 3000, s.Duration)
	require.True(t, s.IsSync)
	require.EqualValues(t, 1024, s.Size)
	require.Equal(t, uint64(dataOffset), s.FileOffset)

	trackID, sample, err := sess.NextSample()
	require.NoError(t, err)
	require.Equal(t, uint32(1), trackID)
	require.Equal(t, s, sample)

	_, _, err = sess.NextSample()
	require.Error(t, err)
	require.Equal(t, "no_more_samples: no more samples", err.Error())
}

func TestSessionRejectsMismatchedHandleInputOffset(t *testing.T) {
	sess := demux.NewSession()
	pos, size := sess.GetRequiredInput()
	require.Equal(t, int64(0), pos)
	require.Equal(t, int64(8), size)

	err := sess.HandleInput(4, make([]byte, 8))
	require.Error(t, err)
}

func TestGetTracksBeforeReadyReturnsInputRequired(t *testing.T) {
	sess := demux.NewSession()
	_, err := sess.GetTracks()
	require.Error(t, err)
	require.True(t, mp4err.Is(err, mp4err.InputRequired))
}

// TestSessionInputRequestSequence walks the pull-I/O protocol request by
// request instead of through drive(), pinning the exact (pos, size)
// sequence a conforming caller observes on an ftyp/moov/mdat file: the
// 8-byte ftyp header first, then the full ftyp, then the moov header, then
// the full moov, then size==0.
func TestSessionInputRequestSequence(t *testing.T) {
	buf, _ := buildSingleVP08File(t)

	sess := demux.NewSession()

	pos, size := sess.GetRequiredInput()
	require.Equal(t, int64(0), pos)
	require.Equal(t, int64(8), size)
	require.NoError(t, sess.HandleInput(pos, buf[:8]))

	// Full ftyp next (size+type+major+minor+1 brand = 20 bytes).
	pos, size = sess.GetRequiredInput()
	require.Equal(t, int64(0), pos)
	require.Equal(t, int64(20), size)
	require.NoError(t, sess.HandleInput(pos, buf[:size]))

	// Header of the next top-level box: moov.
	pos, size = sess.GetRequiredInput()
	require.Equal(t, int64(20), pos)
	require.Equal(t, int64(8), size)
	require.NoError(t, sess.HandleInput(pos, buf[pos:pos+size]))

	// The full moov box.
	pos, size = sess.GetRequiredInput()
	require.Equal(t, int64(20), pos)
	require.Greater(t, size, int64(8))
	require.NoError(t, sess.HandleInput(pos, buf[pos:pos+size]))

	// Done: the mdat body is never requested.
	_, size = sess.GetRequiredInput()
	require.Equal(t, int64(0), size)

	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
}

// TestSessionRecoversMoovFromFileTail simulates a caller hitting
// end-of-file at a top-level header boundary: supplying fewer than 8 bytes
// flips the session into tail recovery, which asks for everything from the
// last recorded mdat end via the size==-1 hint and finds moov there.
func TestSessionRecoversMoovFromFileTail(t *testing.T) {
	buf, dataOffset := buildVP08File(t, vp08FileOpts{moovAtEnd: true})

	sess := demux.NewSession()

	// ftyp header, full ftyp.
	require.NoError(t, sess.HandleInput(0, buf[:8]))
	pos, size := sess.GetRequiredInput()
	require.NoError(t, sess.HandleInput(pos, buf[pos:pos+size]))

	// mdat header: recorded, not read; the scan hops to the mdat end.
	pos, size = sess.GetRequiredInput()
	require.NoError(t, sess.HandleInput(pos, buf[pos:pos+size]))

	// Header request at the moov position; pretend the file ended here to
	// force the tail-recovery path.
	pos, _ = sess.GetRequiredInput()
	require.NoError(t, sess.HandleInput(pos, nil))

	// The session re-seeks to the last mdat end and asks for the rest.
	mdatEnd := dataOffset + 1024
	pos, size = sess.GetRequiredInput()
	require.Equal(t, mdatEnd, pos)
	require.Equal(t, int64(-1), size)
	require.NoError(t, sess.HandleInput(pos, buf[pos:]))

	_, size = sess.GetRequiredInput()
	require.Equal(t, int64(0), size)

	tracks, err := sess.GetTracks()
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.Len(t, tracks[0].Samples, 1)
	require.Equal(t, uint64(dataOffset), tracks[0].Samples[0].FileOffset)
}

// driveUntilError pumps sess like drive but returns the first HandleInput
// error instead of failing the test.
func driveUntilError(t *testing.T, sess *demux.Session, buf []byte) error {
	t.Helper()
	for i := 0; i < 10000; i++ {
		pos, size := sess.GetRequiredInput()
		if size == 0 {
			return nil
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
		if err := sess.HandleInput(pos, data); err != nil {
			return err
		}
	}
	t.Fatal("demuxer never reached a drained state")
	return nil
}

func TestSessionRejectsOutOfRangeSampleEntryIndex(t *testing.T) {
	// stsc names sample_description_index 2, stsd declares one entry.
	buf, _ := buildVP08File(t, vp08FileOpts{stsdEntryIndex: 2})

	sess := demux.NewSession()
	err := driveUntilError(t, sess, buf)
	require.True(t, mp4err.Is(err, mp4err.InvalidData))
	require.NotEmpty(t, sess.LastError())
}

func TestSessionRejectsMdhdDurationMismatch(t *testing.T) {
	// mdhd claims 1234 ticks, the samples sum to 3000.
	buf, _ := buildVP08File(t, vp08FileOpts{mdhdDuration: 1234})

	sess := demux.NewSession()
	err := driveUntilError(t, sess, buf)
	require.True(t, mp4err.Is(err, mp4err.InvalidData))
}

func TestSessionRejectsSampleOutsideMdat(t *testing.T) {
	// moov after mdat so the mdat region is on record, with a chunk offset
	// pointing far past the declared mdat body.
	buf, _ := buildVP08File(t, vp08FileOpts{moovAtEnd: true, chunkOffset: 1 << 30})

	sess := demux.NewSession()
	err := driveUntilError(t, sess, buf)
	require.True(t, mp4err.Is(err, mp4err.InvalidData))
}

// TestSessionErrorStateIsPermanent checks that after InvalidData the
// session stays in Error and every later call reports the same failure.
func TestSessionErrorStateIsPermanent(t *testing.T) {
	sess := demux.NewSession()

	// A first box that is not ftyp is InvalidData.
	bad := make([]byte, 8)
	bad[3] = 16
	copy(bad[4:], "mdat")
	err := sess.HandleInput(0, bad)
	require.True(t, mp4err.Is(err, mp4err.InvalidData))
	require.NotEmpty(t, sess.LastError())

	_, err = sess.GetTracks()
	require.True(t, mp4err.Is(err, mp4err.InvalidData))
	_, _, err = sess.NextSample()
	require.True(t, mp4err.Is(err, mp4err.InvalidData))

	// The pull loop also reports done; no more input will be requested.
	_, size := sess.GetRequiredInput()
	require.Equal(t, int64(0), size)
}
