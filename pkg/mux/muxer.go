// Package mux implements the muxer engine: a
// single-threaded track/sample accumulator that produces an output-segment
// stream rather than owning a file handle, with a two-pass moov sizing step
// that lets a pre-reserved moov placeholder be filled in place (faststart)
// or relocated to end-of-file when it overflows the reservation.
package mux

import (
	"bytes"

	"github.com/icza/bitio"

	"mp4core/pkg/mp4"
	"mp4core/pkg/mp4err"
)

// Config holds the muxer settings that must be fixed before Initialize.
type Config struct {
	// ReservedMoovSize is the faststart placeholder length in bytes. Zero
	// means moov is always written after mdat.
	ReservedMoovSize uint64

	// CreationTimestampMicros seeds mvhd/tkhd/mdhd creation/modification
	// time (converted to whole seconds on the wire). Left at its zero
	// value, output stays byte-exact across runs.
	CreationTimestampMicros uint64

	// LargeFile forces the 16-byte largesize mdat header form starting at
	// Initialize. The header form fixes mdat_start_offset, which the
	// caller's sample data_offset values are already computed against, so
	// it cannot be decided retroactively once Finalize learns the real
	// body length.
	LargeFile bool
}

// Sample is one caller-supplied sample descriptor passed to AppendSample.
type Sample struct {
	TrackID uint32

	// SampleEntry interns a codec configuration for this track, deduped by
	// structural equality. Nil reuses the track's most recently
	// interned entry; the first sample of a new track must set it.
	SampleEntry *mp4.SampleEntry

	// DataOffset is the sample payload's absolute position in the output
	// file; it must equal the muxer's running mdat cursor.
	DataOffset     uint64
	DataSize       uint32
	DurationMicros uint64
	IsSync         bool
}

// track is the muxer's accumulator for one track_id: interned sample
// entries plus the flat per-sample list EncodeSampleTable consumes.
type track struct {
	id        uint32
	kind      mp4.TrackKind
	timescale uint32
	entries   []mp4.SampleEntry
	samples   []mp4.Sample
	dts       uint64
}

// internEntry returns e's 0-based index in the track's entry list, adding
// it if no structurally-equal entry is already interned. Nil reuses
// the most recently interned entry.
func (t *track) internEntry(e *mp4.SampleEntry) (int, error) {
	if e == nil {
		if len(t.entries) == 0 {
			return 0, mp4err.New(mp4err.InvalidInput, "append_sample: first sample of a track must carry a sample_entry")
		}
		return len(t.entries) - 1, nil
	}
	for i := range t.entries {
		if t.entries[i].Equal(e) {
			return i, nil
		}
	}
	if len(t.entries) > 0 && t.entries[0].Kind != e.Kind {
		return 0, mp4err.New(mp4err.InvalidInput, "append_sample: all samples in a track must share one codec family")
	}
	if _, err := mp4.BuildSampleEntry(*e); err != nil {
		return 0, err
	}
	t.entries = append(t.entries, *e)
	return len(t.entries) - 1, nil
}

// trackKindAndTimescale derives a track's kind and timescale from its first
// sample entry: video tracks use 90000, Opus 48000, and MP4A the entry's
// declared sample rate.
func trackKindAndTimescale(e *mp4.SampleEntry) (mp4.TrackKind, uint32, error) {
	switch e.Kind {
	case mp4.KindAVC1, mp4.KindHEV1, mp4.KindVP08, mp4.KindVP09, mp4.KindAV01:
		return mp4.KindVideo, 90000, nil
	case mp4.KindOPUS:
		return mp4.KindAudio, 48000, nil
	case mp4.KindMP4A:
		if e.MP4A.SampleRate == 0 {
			return 0, 0, mp4err.New(mp4err.InvalidInput, "append_sample: mp4a sample_entry has a zero sample_rate")
		}
		return mp4.KindAudio, e.MP4A.SampleRate, nil
	default:
		return 0, 0, mp4err.Newf(mp4err.InvalidInput, "append_sample: unsupported sample entry kind %v", e.Kind)
	}
}

// durationTicks converts a microsecond duration to track-timescale ticks,
// rounding to nearest so 33333us at 90kHz becomes 3000 ticks, not 2999.
func durationTicks(durationMicros uint64, timescale uint32) uint32 {
	return uint32((durationMicros*uint64(timescale) + 500_000) / 1_000_000)
}

type phase uint8

const (
	phaseCreated phase = iota
	phaseInitialized
	phaseFinalized
)

type segment struct {
	offset uint64
	data   []byte
}

// Muxer is the muxer engine. It owns no file handle; NextOutput drains
// the byte ranges it wants written, at offsets that may go backwards (to
// patch a placeholder header once its final size is known).
type Muxer struct {
	cfg Config

	phase phase

	tracks    []*track
	trackByID map[uint32]*track

	ftypLen        uint64
	reserved       bool
	moovOffset     uint64
	mdatStart      uint64
	mdatHeaderLen  uint64
	mdatBodyCursor uint64

	out []segment

	err error
}

// NewMuxer creates a Muxer with the given pre-Initialize configuration.
func NewMuxer(cfg Config) *Muxer {
	return &Muxer{cfg: cfg, trackByID: make(map[uint32]*track)}
}

// LastError returns the last-error text, empty if none.
func (m *Muxer) LastError() string {
	if m.err == nil {
		return ""
	}
	return m.err.Error()
}

func (m *Muxer) fail(err error) error {
	m.err = err
	return err
}

func (m *Muxer) checkDrained() error {
	if len(m.out) > 0 {
		return mp4err.New(mp4err.OutputRequired, "pending output must be drained with NextOutput before the next call")
	}
	return nil
}

func (m *Muxer) emit(offset uint64, data []byte) {
	m.out = append(m.out, segment{offset: offset, data: data})
}

// NextDataOffset returns the data_offset AppendSample currently expects,
// i.e. the muxer's running mdat cursor. A caller streaming sample payloads
// through in order needs this to fill in each Sample's DataOffset without
// tracking its own shadow copy of the cursor.
func (m *Muxer) NextDataOffset() uint64 {
	return m.mdatBodyCursor
}

// NextOutput drains the next pending output segment. A
// nil/empty data slice means none are pending.
func (m *Muxer) NextOutput() (offset uint64, data []byte) {
	if len(m.out) == 0 {
		return 0, nil
	}
	s := m.out[0]
	m.out = m.out[1:]
	return s.offset, s.data
}

var ftypCompatibleBrands = []mp4.CompatibleBrandElem{
	{CompatibleBrand: [4]byte{'i', 's', 'o', 'm'}},
	{CompatibleBrand: [4]byte{'i', 's', 'o', '2'}},
	{CompatibleBrand: [4]byte{'m', 'p', '4', '1'}},
	{CompatibleBrand: [4]byte{'a', 'v', 'c', '1'}},
}

// Initialize emits ftyp, an optional moov placeholder, and the mdat header.
func (m *Muxer) Initialize() error {
	if m.phase != phaseCreated {
		return m.fail(mp4err.New(mp4err.InvalidState, "initialize: already initialized"))
	}
	if m.cfg.ReservedMoovSize > 0 && m.cfg.ReservedMoovSize < 8 {
		return m.fail(mp4err.New(mp4err.InvalidInput, "initialize: reserved_moov_size must be 0 or at least 8"))
	}

	ftypBuf := marshalBox(mp4.Boxes{Box: &mp4.Ftyp{
		MajorBrand:       [4]byte{'i', 's', 'o', 'm'},
		MinorVersion:     512,
		CompatibleBrands: ftypCompatibleBrands,
	}})
	m.ftypLen = uint64(len(ftypBuf))
	m.emit(0, ftypBuf)

	cursor := m.ftypLen
	if m.cfg.ReservedMoovSize > 0 {
		m.reserved = true
		m.moovOffset = cursor
		m.emit(cursor, make([]byte, m.cfg.ReservedMoovSize))
		cursor += m.cfg.ReservedMoovSize
	}

	m.mdatStart = cursor
	header, err := buildMdatHeader(0, m.cfg.LargeFile)
	if err != nil {
		return m.fail(err)
	}
	m.mdatHeaderLen = uint64(len(header))
	m.emit(m.mdatStart, header)
	m.mdatBodyCursor = m.mdatStart + m.mdatHeaderLen

	m.phase = phaseInitialized
	return nil
}

// AppendSample validates and records one sample.
func (m *Muxer) AppendSample(s Sample) error {
	if m.phase != phaseInitialized {
		return m.fail(mp4err.New(mp4err.InvalidState, "append_sample: not initialized, or already finalized"))
	}
	if err := m.checkDrained(); err != nil {
		return m.fail(err)
	}
	if s.DataOffset != m.mdatBodyCursor {
		return m.fail(mp4err.Newf(mp4err.InvalidInput,
			"append_sample: data_offset %d does not match the expected mdat cursor %d", s.DataOffset, m.mdatBodyCursor))
	}

	t := m.trackByID[s.TrackID]
	switch {
	case t == nil && s.SampleEntry == nil:
		return m.fail(mp4err.New(mp4err.InvalidInput, "append_sample: first sample of a track must carry a sample_entry"))
	case t == nil:
		kind, timescale, err := trackKindAndTimescale(s.SampleEntry)
		if err != nil {
			return m.fail(err)
		}
		t = &track{id: s.TrackID, kind: kind, timescale: timescale}
		m.trackByID[s.TrackID] = t
		m.tracks = append(m.tracks, t)
	case s.SampleEntry != nil:
		kind, timescale, err := trackKindAndTimescale(s.SampleEntry)
		if err != nil {
			return m.fail(err)
		}
		if kind != t.kind {
			return m.fail(mp4err.New(mp4err.InvalidInput, "append_sample: all samples in a track must share one codec family"))
		}
		if timescale != t.timescale {
			return m.fail(mp4err.New(mp4err.InvalidInput,
				"append_sample: sample_entry implies a timescale that disagrees with the track's first sample"))
		}
	}

	entryIdx, err := t.internEntry(s.SampleEntry)
	if err != nil {
		return m.fail(err)
	}

	isSync := s.IsSync || t.kind == mp4.KindAudio // audio samples are always sync.
	t.samples = append(t.samples, mp4.Sample{
		EntryIndex: entryIdx,
		DTS:        t.dts,
		Duration:   durationTicks(s.DurationMicros, t.timescale),
		IsSync:     isSync,
		FileOffset: s.DataOffset,
		Size:       s.DataSize,
	})
	t.dts += uint64(t.samples[len(t.samples)-1].Duration)
	m.mdatBodyCursor += uint64(s.DataSize)
	return nil
}

// Finalize patches the mdat header, builds moov, and places it either in
// the reservation (padded by free) or at end-of-file.
func (m *Muxer) Finalize() error {
	if m.phase != phaseInitialized {
		return m.fail(mp4err.New(mp4err.InvalidState, "finalize: not initialized, or already finalized"))
	}
	if err := m.checkDrained(); err != nil {
		return m.fail(err)
	}

	bodyLen := m.mdatBodyCursor - m.mdatStart - m.mdatHeaderLen
	header, err := buildMdatHeader(bodyLen, m.cfg.LargeFile)
	if err != nil {
		return m.fail(err)
	}
	m.emit(m.mdatStart, header)

	moov, err := m.buildMoov()
	if err != nil {
		return m.fail(err)
	}
	moovBuf := marshalBox(*moov)
	fileEnd := m.mdatBodyCursor

	switch {
	case m.reserved && uint64(len(moovBuf)) <= m.cfg.ReservedMoovSize:
		m.emit(m.moovOffset, moovBuf)
		free, err := freeBoxPadding(m.cfg.ReservedMoovSize - uint64(len(moovBuf)))
		if err != nil {
			return m.fail(err)
		}
		if free != nil {
			m.emit(m.moovOffset+uint64(len(moovBuf)), free)
		}
	case m.reserved:
		// Overflow: faststart disabled for this run. The whole
		// reservation becomes one free box; moov moves to end-of-file.
		free, err := freeBoxPadding(m.cfg.ReservedMoovSize)
		if err != nil {
			return m.fail(err)
		}
		m.emit(m.moovOffset, free)
		m.emit(fileEnd, moovBuf)
	default:
		m.emit(fileEnd, moovBuf)
	}

	m.phase = phaseFinalized
	return nil
}

// tryWriteUint32 and tryWriteUint64 write a big-endian unsigned integer via
// TryWriteBits; icza/bitio v1.1.0 has no TryWriteUint32/TryWriteUint64 helpers.
func tryWriteUint32(w *bitio.Writer, v uint32) {
	w.TryWriteBits(uint64(v), 32)
}

func tryWriteUint64(w *bitio.Writer, v uint64) {
	w.TryWriteBits(v, 64)
}

func freeBoxPadding(totalBytes uint64) ([]byte, error) {
	if totalBytes == 0 {
		return nil, nil
	}
	if totalBytes < 8 {
		return nil, mp4err.New(mp4err.Other, "internal: padding region smaller than a free box header")
	}
	return marshalBox(mp4.Boxes{Box: &mp4.Free{Size_: int(totalBytes - 8)}}), nil
}

// buildMdatHeader hand-assembles the mdat box header via icza/bitio's
// TryWrite* accumulation (unlike the rest of this module's boxes, mdat's
// header is emitted and later patched independently of its body, which
// the tree-shaped Boxes/ImmutableBox codec in pkg/mp4 has no notion of).
func buildMdatHeader(bodyLen uint64, large bool) ([]byte, error) {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	if large {
		tryWriteUint32(w, 1)
		w.TryWrite([]byte{'m', 'd', 'a', 't'})
		tryWriteUint64(w, 16+bodyLen)
	} else {
		total := uint64(8) + bodyLen
		if total > 0xFFFFFFFF {
			return nil, mp4err.New(mp4err.Other, "mdat box exceeds the 32-bit size form; Config.LargeFile must be set")
		}
		tryWriteUint32(w, uint32(total))
		w.TryWrite([]byte{'m', 'd', 'a', 't'})
	}
	if w.TryError != nil {
		return nil, mp4err.Wrap(mp4err.Other, w.TryError, "build mdat header")
	}
	return buf.Bytes(), nil
}

func marshalBox(b mp4.Boxes) []byte {
	buf := make([]byte, b.Size())
	pos := 0
	b.Marshal(buf, &pos)
	return buf
}

var identityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

func (m *Muxer) buildMoov() (*mp4.Boxes, error) {
	var movieDurTicks uint64
	nextTrackID := uint32(1)
	trakBoxes := make([]mp4.Boxes, 0, len(m.tracks))
	for _, t := range m.tracks {
		trak, err := m.buildTrak(t)
		if err != nil {
			return nil, err
		}
		trakBoxes = append(trakBoxes, trak)
		if t.timescale > 0 {
			if durMovie := t.dts * 1000 / uint64(t.timescale); durMovie > movieDurTicks {
				movieDurTicks = durMovie
			}
		}
		if t.id >= nextTrackID {
			nextTrackID = t.id + 1
		}
	}

	version := uint8(0)
	if movieDurTicks > 0xFFFFFFFF {
		version = 1
	}
	mvhd := &mp4.Mvhd{
		FullBox:     mp4.FullBox{Version: version},
		Timescale:   1000,
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      identityMatrix,
		NextTrackID: nextTrackID,
	}
	ts := m.cfg.CreationTimestampMicros / 1_000_000
	if version == 1 {
		mvhd.CreationTimeV1, mvhd.ModificationTimeV1, mvhd.DurationV1 = ts, ts, movieDurTicks
	} else {
		mvhd.CreationTimeV0, mvhd.ModificationTimeV0, mvhd.DurationV0 = uint32(ts), uint32(ts), uint32(movieDurTicks)
	}

	children := append([]mp4.Boxes{{Box: mvhd}}, trakBoxes...)
	return &mp4.Boxes{Box: &mp4.Moov{}, Children: children}, nil
}

func visualDims(e *mp4.SampleEntry) (uint16, uint16) {
	switch e.Kind {
	case mp4.KindAVC1:
		return e.AVC1.Width, e.AVC1.Height
	case mp4.KindHEV1:
		return e.HEV1.Width, e.HEV1.Height
	case mp4.KindVP08:
		return e.VP08.Width, e.VP08.Height
	case mp4.KindVP09:
		return e.VP09.Width, e.VP09.Height
	case mp4.KindAV01:
		return e.AV01.Width, e.AV01.Height
	default:
		return 0, 0
	}
}

func (m *Muxer) buildTrak(t *track) (mp4.Boxes, error) {
	enc := mp4.EncodeSampleTable(t.samples)
	chunkOffs := make([]uint64, len(t.samples))
	for i, s := range t.samples {
		chunkOffs[i] = s.FileOffset
	}

	movieDur := t.dts * 1000 / uint64(t.timescale)
	tkhdVersion := uint8(0)
	if movieDur > 0xFFFFFFFF {
		tkhdVersion = 1
	}

	var volume int16
	var width, height uint32
	if t.kind == mp4.KindAudio {
		volume = 0x0100
	} else if len(t.entries) > 0 {
		w, h := visualDims(&t.entries[0])
		width, height = uint32(w)<<16, uint32(h)<<16
	}

	ts := m.cfg.CreationTimestampMicros / 1_000_000
	tkhd := &mp4.Tkhd{
		FullBox: mp4.FullBox{Version: tkhdVersion, Flags: [3]byte{0, 0, 7}},
		TrackID: t.id,
		Matrix:  identityMatrix,
		Volume:  volume,
		Width:   width,
		Height:  height,
	}
	if tkhdVersion == 1 {
		tkhd.CreationTimeV1, tkhd.ModificationTimeV1, tkhd.DurationV1 = ts, ts, movieDur
	} else {
		tkhd.CreationTimeV0, tkhd.ModificationTimeV0, tkhd.DurationV0 = uint32(ts), uint32(ts), uint32(movieDur)
	}

	mdhdVersion := uint8(0)
	if t.dts > 0xFFFFFFFF {
		mdhdVersion = 1
	}
	mdhd := &mp4.Mdhd{
		FullBox:   mp4.FullBox{Version: mdhdVersion},
		Timescale: t.timescale,
		Language:  [3]byte{'u', 'n', 'd'},
	}
	if mdhdVersion == 1 {
		mdhd.CreationTimeV1, mdhd.ModificationTimeV1, mdhd.DurationV1 = ts, ts, t.dts
	} else {
		mdhd.CreationTimeV0, mdhd.ModificationTimeV0, mdhd.DurationV0 = uint32(ts), uint32(ts), uint32(t.dts)
	}

	handlerType := [4]byte{'v', 'i', 'd', 'e'}
	if t.kind == mp4.KindAudio {
		handlerType = [4]byte{'s', 'o', 'u', 'n'}
	}
	hdlr := &mp4.Hdlr{HandlerType: handlerType}

	stsdChildren := make([]mp4.Boxes, 0, len(t.entries))
	for i := range t.entries {
		b, err := mp4.BuildSampleEntry(t.entries[i])
		if err != nil {
			return mp4.Boxes{}, err
		}
		stsdChildren = append(stsdChildren, b)
	}
	stbl := buildStbl(enc, chunkOffs, stsdChildren)

	var mediaHeader mp4.Boxes
	if t.kind == mp4.KindVideo {
		mediaHeader = mp4.Boxes{Box: &mp4.Vmhd{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}}
	} else {
		mediaHeader = mp4.Boxes{Box: &mp4.Smhd{}}
	}

	minf := mp4.Boxes{
		Box:      &mp4.Minf{},
		Children: []mp4.Boxes{mediaHeader, buildDinf(), stbl},
	}
	mdia := mp4.Boxes{
		Box:      &mp4.Mdia{},
		Children: []mp4.Boxes{{Box: mdhd}, {Box: hdlr}, minf},
	}
	return mp4.Boxes{
		Box:      &mp4.Trak{},
		Children: []mp4.Boxes{{Box: tkhd}, mdia},
	}, nil
}

func buildStbl(enc mp4.EncodedSampleTable, chunkOffs []uint64, stsdChildren []mp4.Boxes) mp4.Boxes {
	stsd := mp4.Boxes{Box: &mp4.Stsd{EntryCount: uint32(len(stsdChildren))}, Children: stsdChildren}
	children := []mp4.Boxes{stsd, {Box: &mp4.Stts{Entries: enc.Stts}}}

	if len(enc.SyncSamples) > 0 {
		children = append(children, mp4.Boxes{Box: &mp4.Stss{SampleNumbers: enc.SyncSamples}})
	}
	if enc.HasCtts {
		children = append(children, mp4.Boxes{Box: &mp4.Ctts{
			FullBox: mp4.FullBox{Version: enc.CttsVersion},
			Entries: enc.Ctts,
		}})
	}
	children = append(children, mp4.Boxes{Box: &mp4.Stsc{Entries: enc.Stsc}})

	stsz := &mp4.Stsz{SampleSize: enc.UniformSize}
	if enc.UniformSize == 0 {
		stsz.SampleCount = uint32(len(enc.SampleSizes))
		stsz.EntrySizes = enc.SampleSizes
	} else {
		stsz.SampleCount = uint32(len(chunkOffs))
	}
	children = append(children, mp4.Boxes{Box: stsz})
	children = append(children, buildChunkOffsetsBox(chunkOffs))

	return mp4.Boxes{Box: &mp4.Stbl{}, Children: children}
}

func buildChunkOffsetsBox(offsets []uint64) mp4.Boxes {
	large := false
	for _, o := range offsets {
		if o >= 1<<32 {
			large = true
			break
		}
	}
	if large {
		return mp4.Boxes{Box: &mp4.Co64{ChunkOffsets: offsets}}
	}
	narrow := make([]uint32, len(offsets))
	for i, o := range offsets {
		narrow[i] = uint32(o)
	}
	return mp4.Boxes{Box: &mp4.Stco{ChunkOffsets: narrow}}
}

func buildDinf() mp4.Boxes {
	return mp4.Boxes{
		Box: &mp4.Dinf{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Dref{EntryCount: 1},
				Children: []mp4.Boxes{
					{Box: &mp4.Url{FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}}}},
				},
			},
		},
	}
}
