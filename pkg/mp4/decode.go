package mp4

import "mp4core/pkg/mp4err"

// ChildBox is one decoded entry found while walking a container's body: its
// type and its raw payload (header already stripped). Bodies of unknown
// types are returned verbatim; the muxer builds moov from its own track
// state only, so such boxes are not re-emitted by a demux-then-remux.
type ChildBox struct {
	Type BoxType
	Body []byte
}

// IterateChildren walks buf, a container's complete body starting right
// after the container's own 8/16-byte header, splitting it into
// (type, body) pairs by reading each child's box header in turn. offset is
// the absolute file offset of buf[0]; it is only used to keep ParseHeader's
// overflow checks in absolute coordinates.
func IterateChildren(buf []byte, offset int64) ([]ChildBox, error) {
	var out []ChildBox
	pos := 0
	limit := offset + int64(len(buf))
	for pos < len(buf) {
		if len(buf)-pos < MinHeaderBytes {
			return nil, mp4err.New(mp4err.InvalidData, "truncated box header")
		}
		hdrLen := PeekHeaderSize(buf[pos : pos+4])
		if pos+hdrLen > len(buf) {
			return nil, mp4err.New(mp4err.InvalidData, "truncated box header")
		}
		h, err := ParseHeader(buf[pos:pos+hdrLen], offset+int64(pos), limit)
		if err != nil {
			return nil, err
		}
		bodyStart := pos + int(h.HeaderSize)
		bodyEnd := len(buf)
		if h.BodySize >= 0 {
			bodyEnd = bodyStart + int(h.BodySize)
		}
		if bodyEnd > len(buf) || bodyStart > bodyEnd {
			return nil, mp4err.New(mp4err.InvalidData, "box body exceeds enclosing buffer")
		}
		out = append(out, ChildBox{Type: h.Type, Body: buf[bodyStart:bodyEnd]})
		pos = bodyEnd
	}
	return out, nil
}

// FindChild returns the first child of typ, or ok=false.
func FindChild(children []ChildBox, typ BoxType) ([]byte, bool) {
	for _, c := range children {
		if c.Type == typ {
			return c.Body, true
		}
	}
	return nil, false
}

func fourCC(s string) BoxType {
	var t BoxType
	copy(t[:], s)
	return t
}

// checkEntryCount rejects a declared entry count that cannot fit in the
// remaining body bytes, before any allocation sized by it.
func checkEntryCount(body []byte, pos int, n uint32, entrySize int) error {
	if int64(len(body)-pos) < int64(n)*int64(entrySize) {
		return mp4err.Newf(mp4err.InvalidData, "declared entry count %d exceeds box body", n)
	}
	return nil
}

// DecodeFtyp parses an ftyp body.
func DecodeFtyp(body []byte) (_ *Ftyp, err error) {
	defer recoverInvalidData(&err)
	if len(body) < 8 {
		return nil, mp4err.New(mp4err.InvalidData, "ftyp: body too short")
	}
	pos := 0
	f := &Ftyp{}
	copy(f.MajorBrand[:], Read(body, &pos, 4))
	f.MinorVersion = ReadUint32(body, &pos)
	for pos+4 <= len(body) {
		var c CompatibleBrandElem
		copy(c.CompatibleBrand[:], Read(body, &pos, 4))
		f.CompatibleBrands = append(f.CompatibleBrands, c)
	}
	return f, nil
}

// DecodeMvhd parses an mvhd body (FullBox header included).
func DecodeMvhd(body []byte) (_ *Mvhd, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	b := &Mvhd{FullBox: fb}
	if fb.Version == 1 {
		b.CreationTimeV1 = ReadUint64(body, &pos)
		b.ModificationTimeV1 = ReadUint64(body, &pos)
		b.Timescale = ReadUint32(body, &pos)
		b.DurationV1 = ReadUint64(body, &pos)
	} else {
		b.CreationTimeV0 = ReadUint32(body, &pos)
		b.ModificationTimeV0 = ReadUint32(body, &pos)
		b.Timescale = ReadUint32(body, &pos)
		b.DurationV0 = ReadUint32(body, &pos)
	}
	b.Rate = int32(ReadUint32(body, &pos))
	b.Volume = int16(ReadUint16(body, &pos))
	b.Reserved = int16(ReadUint16(body, &pos))
	for i := range b.Reserved2 {
		b.Reserved2[i] = ReadUint32(body, &pos)
	}
	for i := range b.Matrix {
		b.Matrix[i] = int32(ReadUint32(body, &pos))
	}
	for i := range b.PreDefined {
		b.PreDefined[i] = int32(ReadUint32(body, &pos))
	}
	b.NextTrackID = ReadUint32(body, &pos)
	return b, nil
}

// DecodeTkhd parses a tkhd body.
func DecodeTkhd(body []byte) (_ *Tkhd, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	b := &Tkhd{FullBox: fb}
	if fb.Version == 1 {
		b.CreationTimeV1 = ReadUint64(body, &pos)
		b.ModificationTimeV1 = ReadUint64(body, &pos)
		b.TrackID = ReadUint32(body, &pos)
		b.Reserved0 = ReadUint32(body, &pos)
		b.DurationV1 = ReadUint64(body, &pos)
	} else {
		b.CreationTimeV0 = ReadUint32(body, &pos)
		b.ModificationTimeV0 = ReadUint32(body, &pos)
		b.TrackID = ReadUint32(body, &pos)
		b.Reserved0 = ReadUint32(body, &pos)
		b.DurationV0 = ReadUint32(body, &pos)
	}
	for i := range b.Reserved1 {
		b.Reserved1[i] = ReadUint32(body, &pos)
	}
	b.Layer = int16(ReadUint16(body, &pos))
	b.AlternateGroup = int16(ReadUint16(body, &pos))
	b.Volume = int16(ReadUint16(body, &pos))
	b.Reserved2 = ReadUint16(body, &pos)
	for i := range b.Matrix {
		b.Matrix[i] = int32(ReadUint32(body, &pos))
	}
	b.Width = ReadUint32(body, &pos)
	b.Height = ReadUint32(body, &pos)
	return b, nil
}

func decodeLanguage(v uint16) (pad bool, lang [3]byte) {
	pad = v&0x8000 != 0
	lang[0] = byte((v >> 10) & 0x1f)
	lang[1] = byte((v >> 5) & 0x1f)
	lang[2] = byte(v & 0x1f)
	return pad, lang
}

// DecodeMdhd parses an mdhd body.
func DecodeMdhd(body []byte) (_ *Mdhd, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	b := &Mdhd{FullBox: fb}
	if fb.Version == 1 {
		b.CreationTimeV1 = ReadUint64(body, &pos)
		b.ModificationTimeV1 = ReadUint64(body, &pos)
		b.Timescale = ReadUint32(body, &pos)
		b.DurationV1 = ReadUint64(body, &pos)
	} else {
		b.CreationTimeV0 = ReadUint32(body, &pos)
		b.ModificationTimeV0 = ReadUint32(body, &pos)
		b.Timescale = ReadUint32(body, &pos)
		b.DurationV0 = ReadUint32(body, &pos)
	}
	langWord := ReadUint16(body, &pos)
	b.Pad, b.Language = decodeLanguage(langWord)
	b.PreDefined = ReadUint16(body, &pos)
	return b, nil
}

// DecodeHdlr parses an hdlr body.
func DecodeHdlr(body []byte) (_ *Hdlr, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	b := &Hdlr{FullBox: fb}
	b.PreDefined = ReadUint32(body, &pos)
	copy(b.HandlerType[:], Read(body, &pos, 4))
	for i := range b.Reserved {
		b.Reserved[i] = ReadUint32(body, &pos)
	}
	end := len(body)
	for end > pos && body[end-1] == 0 {
		end--
	}
	b.Name = string(body[pos:end])
	return b, nil
}

// DecodeStts parses an stts body.
func DecodeStts(body []byte) (_ *Stts, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	n := ReadUint32(body, &pos)
	if err := checkEntryCount(body, pos, n, 8); err != nil {
		return nil, err
	}
	b := &Stts{FullBox: fb, Entries: make([]SttsEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		b.Entries = append(b.Entries, SttsEntry{
			SampleCount: ReadUint32(body, &pos),
			SampleDelta: ReadUint32(body, &pos),
		})
	}
	return b, nil
}

// DecodeCtts parses a ctts body.
func DecodeCtts(body []byte) (_ *Ctts, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	n := ReadUint32(body, &pos)
	if err := checkEntryCount(body, pos, n, 8); err != nil {
		return nil, err
	}
	b := &Ctts{FullBox: fb, Entries: make([]CttsEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		count := ReadUint32(body, &pos)
		raw := ReadUint32(body, &pos)
		e := CttsEntry{SampleCount: count}
		if fb.Version == 1 {
			e.SampleOffsetV1 = int32(raw)
		} else {
			e.SampleOffsetV0 = raw
		}
		b.Entries = append(b.Entries, e)
	}
	return b, nil
}

// DecodeStsc parses an stsc body.
func DecodeStsc(body []byte) (_ *Stsc, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	n := ReadUint32(body, &pos)
	if err := checkEntryCount(body, pos, n, 12); err != nil {
		return nil, err
	}
	b := &Stsc{FullBox: fb, Entries: make([]StscEntry, 0, n)}
	for i := uint32(0); i < n; i++ {
		b.Entries = append(b.Entries, StscEntry{
			FirstChunk:             ReadUint32(body, &pos),
			SamplesPerChunk:        ReadUint32(body, &pos),
			SampleDescriptionIndex: ReadUint32(body, &pos),
		})
	}
	return b, nil
}

// DecodeStsz parses an stsz body.
func DecodeStsz(body []byte) (_ *Stsz, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	b := &Stsz{FullBox: fb}
	b.SampleSize = ReadUint32(body, &pos)
	b.SampleCount = ReadUint32(body, &pos)
	if b.SampleSize == 0 {
		if err := checkEntryCount(body, pos, b.SampleCount, 4); err != nil {
			return nil, err
		}
		b.EntrySizes = make([]uint32, 0, b.SampleCount)
		for i := uint32(0); i < b.SampleCount; i++ {
			b.EntrySizes = append(b.EntrySizes, ReadUint32(body, &pos))
		}
	}
	return b, nil
}

// DecodeStco parses an stco body.
func DecodeStco(body []byte) (_ *Stco, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	n := ReadUint32(body, &pos)
	if err := checkEntryCount(body, pos, n, 4); err != nil {
		return nil, err
	}
	b := &Stco{FullBox: fb, ChunkOffsets: make([]uint32, 0, n)}
	for i := uint32(0); i < n; i++ {
		b.ChunkOffsets = append(b.ChunkOffsets, ReadUint32(body, &pos))
	}
	return b, nil
}

// DecodeCo64 parses a co64 body.
func DecodeCo64(body []byte) (_ *Co64, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	n := ReadUint32(body, &pos)
	if err := checkEntryCount(body, pos, n, 8); err != nil {
		return nil, err
	}
	b := &Co64{FullBox: fb, ChunkOffsets: make([]uint64, 0, n)}
	for i := uint32(0); i < n; i++ {
		b.ChunkOffsets = append(b.ChunkOffsets, ReadUint64(body, &pos))
	}
	return b, nil
}

// DecodeStss parses an stss body.
func DecodeStss(body []byte) (_ *Stss, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	n := ReadUint32(body, &pos)
	if err := checkEntryCount(body, pos, n, 4); err != nil {
		return nil, err
	}
	b := &Stss{FullBox: fb, SampleNumbers: make([]uint32, 0, n)}
	for i := uint32(0); i < n; i++ {
		b.SampleNumbers = append(b.SampleNumbers, ReadUint32(body, &pos))
	}
	return b, nil
}
