package demux

import (
	"mp4core/pkg/cache"
	"mp4core/pkg/mp4"
	"mp4core/pkg/mp4err"
)

var (
	typeFtyp = mp4.BoxType{'f', 't', 'y', 'p'}
	typeMoov = mp4.BoxType{'m', 'o', 'o', 'v'}
	typeMdat = mp4.BoxType{'m', 'd', 'a', 't'}
)

type phase uint8

const (
	phaseSeekFileHead phase = iota
	phaseSeekTopLevel
	phaseReady
	phaseError
)

// want describes the single outstanding input request the state machine
// is waiting on; GetRequiredInput reports it, HandleInput resolves it.
type want uint8

const (
	wantHeader    want = iota // 8 bytes at wantPos: size+type.
	wantHeaderExt             // 8 more bytes at wantPos: largesize continuation.
	wantFullBox               // wantLen bytes at wantPos: an entire ftyp/moov box.
	wantTail                  // everything from wantPos to EOF (size==-1).
	wantNone
)

type mdatRange struct {
	bodyStart, end int64 // end == -1 means "runs to EOF".
}

// Session is the pull-I/O demuxer state machine. It owns no file handle;
// it is driven entirely by GetRequiredInput/HandleInput.
type Session struct {
	phase phase

	cursor int64

	want    want
	wantPos int64
	wantLen int64

	headerLo []byte // first 8 bytes of a header, held while wantHeaderExt is outstanding.

	pending mp4.Header // the most recently parsed header, awaiting its full body.

	mdatRanges []mdatRange

	ftyp   *mp4.Ftyp
	tracks []*Track

	stblCache *cache.Cache

	err error
}

// SetCache attaches a sample-table cache, consulted and populated while
// decoding moov so repeated demuxes of an identical stbl skip re-expanding
// stts/ctts/stsc/stsz/stco. Must be called before the session reaches
// Ready; nil (the default) disables caching.
func (s *Session) SetCache(c *cache.Cache) {
	s.stblCache = c
}

// NewSession creates an empty demuxer, ready for its first
// GetRequiredInput/HandleInput round.
func NewSession() *Session {
	return &Session{phase: phaseSeekFileHead, want: wantHeader, wantPos: 0}
}

// GetRequiredInput reports the next byte range the session needs.
// size==0 means no further input is required; size==-1 asks for everything
// from pos to end-of-file.
func (s *Session) GetRequiredInput() (pos int64, size int64) {
	switch s.phase {
	case phaseReady, phaseError:
		return 0, 0
	}
	switch s.want {
	case wantHeader, wantHeaderExt:
		return s.wantPos, 8
	case wantFullBox:
		return s.wantPos, s.wantLen
	case wantTail:
		return s.wantPos, -1
	default:
		return 0, 0
	}
}

// HandleInput delivers the byte range [pos, pos+len(data)) previously
// requested via GetRequiredInput.
func (s *Session) HandleInput(pos int64, data []byte) error {
	if s.phase == phaseError {
		return s.err
	}
	if s.phase == phaseReady {
		return nil
	}
	if pos != s.wantPos {
		return mp4err.New(mp4err.InvalidInput, "handle_input: pos does not match the requested offset")
	}

	var err error
	switch s.want {
	case wantHeader:
		err = s.handleHeader(data)
	case wantHeaderExt:
		err = s.handleHeaderExt(data)
	case wantFullBox:
		err = s.handleFullBox(data)
	case wantTail:
		err = s.handleTail(data)
	}
	if err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *Session) fail(err error) {
	s.phase = phaseError
	s.err = err
}

// LastError returns the last-error text, empty if none.
func (s *Session) LastError() string {
	if s.err == nil {
		return ""
	}
	return s.err.Error()
}

func (s *Session) handleHeader(data []byte) error {
	if len(data) < 8 {
		// Short read at a header boundary: no more top-level boxes exist
		// here. Only legal while still scanning the top level, and only
		// recoverable if a moov might still be hiding in the unread tail
		// past the last mdat.
		if s.phase != phaseSeekTopLevel {
			return mp4err.New(mp4err.InvalidData, "truncated input before ftyp")
		}
		return s.enterTailRecovery()
	}
	if mp4.PeekHeaderSize(data[:4]) == 16 {
		s.headerLo = append([]byte(nil), data[:8]...)
		s.want = wantHeaderExt
		s.wantPos = s.cursor + 8
		return nil
	}
	h, err := mp4.ParseHeader(data[:8], s.cursor, -1)
	if err != nil {
		return err
	}
	return s.dispatchHeader(h)
}

func (s *Session) handleHeaderExt(data []byte) error {
	if len(data) < 8 {
		return mp4err.New(mp4err.InvalidData, "truncated largesize header")
	}
	full := append(append([]byte(nil), s.headerLo...), data[:8]...)
	h, err := mp4.ParseHeader(full, s.cursor, -1)
	if err != nil {
		return err
	}
	return s.dispatchHeader(h)
}

// dispatchHeader decides, per the current phase and the box type just
// parsed, whether to request the box's full body, record it as an mdat
// range, or skip straight past it to the next header.
func (s *Session) dispatchHeader(h mp4.Header) error {
	switch s.phase {
	case phaseSeekFileHead:
		if h.Type != typeFtyp {
			return mp4err.New(mp4err.InvalidData, "expected ftyp as the first box")
		}
		return s.requestFullBox(h)
	case phaseSeekTopLevel:
		switch h.Type {
		case typeMoov:
			return s.requestFullBox(h)
		case typeMdat:
			end := h.EndOffset()
			s.mdatRanges = append(s.mdatRanges, mdatRange{bodyStart: h.StartOffset + h.HeaderSize, end: end})
			if end < 0 {
				// Unbounded mdat with no moov seen yet: nothing can
				// follow it, so moov is genuinely absent.
				return mp4err.New(mp4err.InvalidData, "moov not found before end-of-file")
			}
			return s.advanceScan(end)
		default:
			end := h.EndOffset()
			if end < 0 {
				return mp4err.New(mp4err.InvalidData, "moov not found before end-of-file")
			}
			return s.advanceScan(end)
		}
	default:
		return mp4err.New(mp4err.InvalidState, "unexpected header while not seeking")
	}
}

func (s *Session) requestFullBox(h mp4.Header) error {
	s.pending = h
	s.want = wantFullBox
	s.wantPos = h.StartOffset
	s.wantLen = h.HeaderSize + h.BodySize
	return nil
}

func (s *Session) advanceScan(next int64) error {
	s.cursor = next
	s.want = wantHeader
	s.wantPos = next
	return nil
}

func (s *Session) handleFullBox(data []byte) error {
	if int64(len(data)) < s.wantLen {
		return mp4err.New(mp4err.InvalidData, "truncated ftyp/moov box")
	}
	body := data[s.pending.HeaderSize:s.wantLen]
	switch s.pending.Type {
	case typeFtyp:
		ftyp, err := mp4.DecodeFtyp(body)
		if err != nil {
			return err
		}
		s.ftyp = ftyp
		s.phase = phaseSeekTopLevel
		return s.advanceScan(s.pending.EndOffset())
	case typeMoov:
		tracks, err := buildTracks(body, s.pending.StartOffset+s.pending.HeaderSize, s.stblCache)
		if err != nil {
			return err
		}
		if err := s.validateSampleRanges(tracks); err != nil {
			return err
		}
		s.tracks = tracks
		s.phase = phaseReady
		s.want = wantNone
		return nil
	default:
		return mp4err.New(mp4err.Other, "internal: unexpected full-box type")
	}
}

// enterTailRecovery implements moov-at-end-of-file recovery: re-seek the
// final bytes starting right after the last recorded mdat, in hopes a
// trailing moov lives there, and ask the caller to honour the -1 hint.
func (s *Session) enterTailRecovery() error {
	pos := int64(0)
	if n := len(s.mdatRanges); n > 0 && s.mdatRanges[n-1].end >= 0 {
		pos = s.mdatRanges[n-1].end
	}
	s.want = wantTail
	s.wantPos = pos
	return nil
}

func (s *Session) handleTail(data []byte) error {
	fileEnd := s.wantPos + int64(len(data))
	children, err := mp4.IterateChildren(data, s.wantPos)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c.Type != typeMoov {
			continue
		}
		tracks, err := buildTracks(c.Body, 0, s.stblCache)
		if err != nil {
			return err
		}
		if err := s.validateSampleRanges(tracks); err != nil {
			return err
		}
		s.tracks = tracks
		s.phase = phaseReady
		s.want = wantNone
		return nil
	}
	return mp4err.Newf(mp4err.InvalidData, "moov not found in trailing %d bytes up to offset %d", len(data), fileEnd)
}

// validateSampleRanges checks every decoded sample's byte range against
// the recorded mdat regions: a sample must lie entirely inside one mdat
// body, which also caps chunk offsets at the region's end. Layouts where
// moov precedes any mdat leave no recorded regions, so there is nothing
// to check against and validation is skipped.
func (s *Session) validateSampleRanges(tracks []*Track) error {
	if len(s.mdatRanges) == 0 {
		return nil
	}
	for _, t := range tracks {
		for _, smp := range t.Samples {
			if !s.insideMdat(smp.FileOffset, uint64(smp.Size)) {
				return mp4err.Newf(mp4err.InvalidData,
					"track %d: sample at offset %d (%d bytes) lies outside every mdat region",
					t.ID, smp.FileOffset, smp.Size)
			}
		}
	}
	return nil
}

func (s *Session) insideMdat(offset, size uint64) bool {
	for _, r := range s.mdatRanges {
		if offset < uint64(r.bodyStart) {
			continue
		}
		if r.end < 0 || offset+size <= uint64(r.end) {
			return true
		}
	}
	return false
}

// GetTracks returns the demuxed track list; valid only once Ready.
func (s *Session) GetTracks() ([]*Track, error) {
	if s.phase == phaseError {
		return nil, s.err
	}
	if s.phase != phaseReady {
		return nil, mp4err.New(mp4err.InputRequired, "get_tracks called before the session is ready")
	}
	return s.tracks, nil
}
