package mp4

import "mp4core/pkg/mp4err"

/************************* FullBox **************************/

// FullBox is ISOBMFF FullBox: every box whose body starts with a version
// byte and a 3-byte flags field embeds this.
type FullBox struct {
	Version uint8
	Flags   [3]byte
}

// GetFlags returns the flags as a 24-bit value.
func (b *FullBox) GetFlags() uint32 {
	flag := uint32(b.Flags[0]) << 16
	flag ^= uint32(b.Flags[1]) << 8
	flag ^= uint32(b.Flags[2])
	return flag
}

// CheckFlag reports whether flag is set.
func (b *FullBox) CheckFlag(flag uint32) bool {
	return b.GetFlags()&flag != 0
}

// Size returns the marshaled size in bytes.
func (b *FullBox) Size() int {
	return 4
}

// Marshal box to buffer.
func (b *FullBox) Marshal(buf []byte, pos *int) {
	WriteByte(buf, pos, b.Version)
	WriteByte(buf, pos, b.Flags[0])
	WriteByte(buf, pos, b.Flags[1])
	WriteByte(buf, pos, b.Flags[2])
}

/************************* container stubs **************************/
// These box types have no body of their own; their content is entirely
// their children, walked by Boxes. Their Marshal writes nothing; Boxes.Marshal
// skips the call altogether only for a childless (8-byte) box.

// Dinf is the ISOBMFF dinf box (data information).
type Dinf struct{}

func (*Dinf) Type() BoxType       { return BoxType{'d', 'i', 'n', 'f'} }
func (*Dinf) Size() int           { return 0 }
func (*Dinf) Marshal([]byte, *int) {}

// Mdia is the ISOBMFF mdia box (media information container).
type Mdia struct{}

func (*Mdia) Type() BoxType        { return BoxType{'m', 'd', 'i', 'a'} }
func (*Mdia) Size() int            { return 0 }
func (*Mdia) Marshal([]byte, *int) {}

// Minf is the ISOBMFF minf box (media information).
type Minf struct{}

func (*Minf) Type() BoxType        { return BoxType{'m', 'i', 'n', 'f'} }
func (*Minf) Size() int            { return 0 }
func (*Minf) Marshal([]byte, *int) {}

// Moov is the ISOBMFF moov box (movie metadata container).
type Moov struct{}

func (*Moov) Type() BoxType        { return BoxType{'m', 'o', 'o', 'v'} }
func (*Moov) Size() int            { return 0 }
func (*Moov) Marshal([]byte, *int) {}

// Stbl is the ISOBMFF stbl box (sample table container).
type Stbl struct{}

func (*Stbl) Type() BoxType        { return BoxType{'s', 't', 'b', 'l'} }
func (*Stbl) Size() int            { return 0 }
func (*Stbl) Marshal([]byte, *int) {}

// Trak is the ISOBMFF trak box (one track).
type Trak struct{}

func (*Trak) Type() BoxType        { return BoxType{'t', 'r', 'a', 'k'} }
func (*Trak) Size() int            { return 0 }
func (*Trak) Marshal([]byte, *int) {}

// Udta is the ISOBMFF udta box (user data container), an empty container
// type for encoding. The demuxer does not look inside udta and the muxer
// never emits one, so user data is not carried through a remux.
type Udta struct{}

func (*Udta) Type() BoxType        { return BoxType{'u', 'd', 't', 'a'} }
func (*Udta) Size() int            { return 0 }
func (*Udta) Marshal([]byte, *int) {}

// Edts is the ISOBMFF edts box (edit list container), an empty container
// type for encoding. The demuxer ignores edts and the muxer never emits
// one, so edit lists are not carried through a remux.
type Edts struct{}

func (*Edts) Type() BoxType        { return BoxType{'e', 'd', 't', 's'} }
func (*Edts) Size() int            { return 0 }
func (*Edts) Marshal([]byte, *int) {}

/*************************** free ****************************/

// Free is the ISOBMFF free box: opaque padding, used by the muxer to fill
// the gap between a reserved moov placeholder and the moov actually written.
type Free struct {
	Size_ int // number of padding bytes, not counting the 8-byte header.
}

func (*Free) Type() BoxType { return BoxType{'f', 'r', 'e', 'e'} }
func (b *Free) Size() int   { return b.Size_ }
func (b *Free) Marshal(buf []byte, pos *int) {
	for i := 0; i < b.Size_; i++ {
		WriteByte(buf, pos, 0)
	}
}

/*************************** elst ****************************/

// ElstEntry is one edit-list entry.
type ElstEntry struct {
	SegmentDurationV0 uint32
	MediaTimeV0       int32
	SegmentDurationV1 uint64
	MediaTimeV1       int64
	MediaRateInteger  int16
	MediaRateFraction int16
}

// Elst is the ISOBMFF elst box. Only recognised and round-tripped;
// edit-list semantics beyond the identity mapping are out of scope.
type Elst struct {
	FullBox
	Entries []ElstEntry
}

func (*Elst) Type() BoxType { return BoxType{'e', 'l', 's', 't'} }

func (b *Elst) Size() int {
	total := 8
	for range b.Entries {
		if b.Version == 1 {
			total += 20
		} else {
			total += 12
		}
	}
	return total
}

func (b *Elst) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		if b.Version == 1 {
			WriteUint64(buf, pos, e.SegmentDurationV1)
			WriteUint64(buf, pos, uint64(e.MediaTimeV1))
		} else {
			WriteUint32(buf, pos, e.SegmentDurationV0)
			WriteUint32(buf, pos, uint32(e.MediaTimeV0))
		}
		WriteUint16(buf, pos, uint16(e.MediaRateInteger))
		WriteUint16(buf, pos, uint16(e.MediaRateFraction))
	}
}

/*************************** dref ****************************/

// Dref is the ISOBMFF dref box (data reference table).
type Dref struct {
	FullBox
	EntryCount uint32
}

func (*Dref) Type() BoxType { return BoxType{'d', 'r', 'e', 'f'} }
func (b *Dref) Size() int   { return 8 }
func (b *Dref) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.EntryCount)
}

/*************************** url (dref entry) ****************************/

const urlNopt = 0x000001

// Url is the ISOBMFF "url " dref entry. Flags=1 (urlNopt set) means "data is
// in this same file", the only form this module emits.
type Url struct { //nolint:revive,stylecheck
	FullBox
	Location string
}

func (*Url) Type() BoxType { return BoxType{'u', 'r', 'l', ' '} }

func (b *Url) Size() int {
	if !b.FullBox.CheckFlag(urlNopt) {
		return len(b.Location) + 5
	}
	return 4
}

func (b *Url) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	if !b.FullBox.CheckFlag(urlNopt) {
		WriteString(buf, pos, b.Location)
	}
}

/*************************** ftyp ****************************/

// CompatibleBrandElem is one 4-byte compatible-brand entry in ftyp.
type CompatibleBrandElem struct {
	CompatibleBrand [4]byte
}

// Ftyp is the ISOBMFF ftyp box (file type / compatibility).
type Ftyp struct {
	MajorBrand       [4]byte
	MinorVersion     uint32
	CompatibleBrands []CompatibleBrandElem
}

func (*Ftyp) Type() BoxType { return BoxType{'f', 't', 'y', 'p'} }

func (b *Ftyp) Size() int {
	return 8 + len(b.CompatibleBrands)*4
}

func (b *Ftyp) Marshal(buf []byte, pos *int) {
	Write(buf, pos, b.MajorBrand[:])
	WriteUint32(buf, pos, b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		Write(buf, pos, brand.CompatibleBrand[:])
	}
}

/*************************** hdlr ****************************/

// Hdlr is the ISOBMFF hdlr box (handler reference).
type Hdlr struct {
	FullBox
	PreDefined  uint32
	HandlerType [4]byte
	Reserved    [3]uint32
	Name        string
}

func (*Hdlr) Type() BoxType { return BoxType{'h', 'd', 'l', 'r'} }

func (b *Hdlr) Size() int {
	return 4 + 4 + 4 + 12 + len(b.Name) + 1
}

func (b *Hdlr) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.PreDefined)
	Write(buf, pos, b.HandlerType[:])
	for _, r := range b.Reserved {
		WriteUint32(buf, pos, r)
	}
	WriteString(buf, pos, b.Name)
}

/*************************** mdat ****************************/

// Mdat is the ISOBMFF mdat box (media data). The muxer never holds sample
// payload bytes in memory; Data is only used by in-memory round-trip
// tests. Production output patches the header and streams the body via
// recorded byte ranges instead (see pkg/mux).
type Mdat struct {
	Data []byte
}

func (*Mdat) Type() BoxType { return BoxType{'m', 'd', 'a', 't'} }
func (b *Mdat) Size() int   { return len(b.Data) }
func (b *Mdat) Marshal(buf []byte, pos *int) {
	Write(buf, pos, b.Data)
}

/*************************** mdhd ****************************/

// Mdhd is the ISOBMFF mdhd box (media header: per-track timescale/duration).
type Mdhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	Timescale          uint32
	DurationV0         uint32
	DurationV1         uint64

	Pad        bool    // 1 bit.
	Language   [3]byte // 5 bits each. ISO-639-2/T language code.
	PreDefined uint16
}

func (*Mdhd) Type() BoxType { return BoxType{'m', 'd', 'h', 'd'} }

func (b *Mdhd) Size() int {
	if b.Version == 0 {
		return 24
	}
	return 36
}

func (b *Mdhd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	if b.Version == 0 {
		WriteUint32(buf, pos, b.CreationTimeV0)
		WriteUint32(buf, pos, b.ModificationTimeV0)
	} else {
		WriteUint64(buf, pos, b.CreationTimeV1)
		WriteUint64(buf, pos, b.ModificationTimeV1)
	}
	WriteUint32(buf, pos, b.Timescale)
	if b.Version == 0 {
		WriteUint32(buf, pos, b.DurationV0)
	} else {
		WriteUint64(buf, pos, b.DurationV1)
	}
	if b.Pad {
		WriteByte(buf, pos, byte(0x1)<<7|(b.Language[0]&0x1f)<<2|(b.Language[1]&0x1f)>>3)
	} else {
		WriteByte(buf, pos, (b.Language[0]&0x1f)<<2|(b.Language[1]&0x1f)>>3)
	}
	WriteByte(buf, pos, (b.Language[1]&0x7)<<5|(b.Language[2]&0x1f))
	WriteUint16(buf, pos, b.PreDefined)
}

/*************************** mvhd ****************************/

// Mvhd is the ISOBMFF mvhd box (movie header: overall timescale/duration).
type Mvhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	Timescale          uint32
	DurationV0         uint32
	DurationV1         uint64
	Rate               int32 // 16.16, template=0x00010000.
	Volume             int16 // 8.8, template=0x0100.
	Reserved           int16
	Reserved2          [2]uint32
	Matrix             [9]int32 // template={1,0,0, 0,1,0, 0,0,0x4000}, as 16.16.
	PreDefined         [6]int32
	NextTrackID        uint32
}

func (*Mvhd) Type() BoxType { return BoxType{'m', 'v', 'h', 'd'} }

func (b *Mvhd) Size() int {
	if b.Version == 0 {
		return 100
	}
	return 112
}

func (b *Mvhd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	if b.Version == 0 {
		WriteUint32(buf, pos, b.CreationTimeV0)
		WriteUint32(buf, pos, b.ModificationTimeV0)
	} else {
		WriteUint64(buf, pos, b.CreationTimeV1)
		WriteUint64(buf, pos, b.ModificationTimeV1)
	}
	WriteUint32(buf, pos, b.Timescale)
	if b.Version == 0 {
		WriteUint32(buf, pos, b.DurationV0)
	} else {
		WriteUint64(buf, pos, b.DurationV1)
	}
	WriteUint32(buf, pos, uint32(b.Rate))
	WriteUint16(buf, pos, uint16(b.Volume))
	WriteUint16(buf, pos, uint16(b.Reserved))
	for _, r := range b.Reserved2 {
		WriteUint32(buf, pos, r)
	}
	for _, m := range b.Matrix {
		WriteUint32(buf, pos, uint32(m))
	}
	for _, p := range b.PreDefined {
		WriteUint32(buf, pos, uint32(p))
	}
	WriteUint32(buf, pos, b.NextTrackID)
}

/*************************** tkhd ****************************/

// Tkhd is the ISOBMFF tkhd box (track header).
type Tkhd struct {
	FullBox
	CreationTimeV0     uint32
	ModificationTimeV0 uint32
	CreationTimeV1     uint64
	ModificationTimeV1 uint64
	TrackID            uint32
	Reserved0          uint32
	DurationV0         uint32
	DurationV1         uint64

	Reserved1      [2]uint32
	Layer          int16 // template=0.
	AlternateGroup int16 // template=0.
	Volume         int16 // template={0x0100 if audio else 0}.
	Reserved2      uint16
	Matrix         [9]int32 // template={1,0,0, 0,1,0, 0,0,0x4000}, as 16.16.
	Width          uint32   // 16.16.
	Height         uint32   // 16.16.
}

func (*Tkhd) Type() BoxType { return BoxType{'t', 'k', 'h', 'd'} }

func (b *Tkhd) Size() int {
	if b.Version == 0 {
		return 84
	}
	return 96
}

func (b *Tkhd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	if b.Version == 0 {
		WriteUint32(buf, pos, b.CreationTimeV0)
		WriteUint32(buf, pos, b.ModificationTimeV0)
	} else {
		WriteUint64(buf, pos, b.CreationTimeV1)
		WriteUint64(buf, pos, b.ModificationTimeV1)
	}
	WriteUint32(buf, pos, b.TrackID)
	WriteUint32(buf, pos, b.Reserved0)
	if b.Version == 0 {
		WriteUint32(buf, pos, b.DurationV0)
	} else {
		WriteUint64(buf, pos, b.DurationV1)
	}
	for _, r := range b.Reserved1 {
		WriteUint32(buf, pos, r)
	}
	WriteUint16(buf, pos, uint16(b.Layer))
	WriteUint16(buf, pos, uint16(b.AlternateGroup))
	WriteUint16(buf, pos, uint16(b.Volume))
	WriteUint16(buf, pos, b.Reserved2)
	for _, m := range b.Matrix {
		WriteUint32(buf, pos, uint32(m))
	}
	WriteUint32(buf, pos, b.Width)
	WriteUint32(buf, pos, b.Height)
}

/*************************** vmhd / smhd ****************************/

// Vmhd is the ISOBMFF vmhd box (video media header).
type Vmhd struct {
	FullBox
	Graphicsmode uint16
	Opcolor      [3]uint16
}

func (*Vmhd) Type() BoxType { return BoxType{'v', 'm', 'h', 'd'} }
func (b *Vmhd) Size() int   { return 12 }
func (b *Vmhd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint16(buf, pos, b.Graphicsmode)
	for _, c := range b.Opcolor {
		WriteUint16(buf, pos, c)
	}
}

// Smhd is the ISOBMFF smhd box (sound media header).
type Smhd struct {
	FullBox
	Balance  int16 // 8.8, template=0.
	Reserved uint16
}

func (*Smhd) Type() BoxType { return BoxType{'s', 'm', 'h', 'd'} }
func (b *Smhd) Size() int   { return 8 }
func (b *Smhd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint16(buf, pos, uint16(b.Balance))
	WriteUint16(buf, pos, b.Reserved)
}

/*********************** SampleEntry common header *************************/

// SampleEntryHeader is the 8-byte header shared by every codec-specific
// sample description entry, embedded by value.
type SampleEntryHeader struct {
	Reserved           [6]uint8
	DataReferenceIndex uint16
}

func (b *SampleEntryHeader) marshal(buf []byte, pos *int) {
	for _, r := range b.Reserved {
		WriteByte(buf, pos, r)
	}
	WriteUint16(buf, pos, b.DataReferenceIndex)
}

func (b *SampleEntryHeader) unmarshal(buf []byte, pos *int) {
	for i := range b.Reserved {
		b.Reserved[i] = ReadByte(buf, pos)
	}
	b.DataReferenceIndex = ReadUint16(buf, pos)
}

/*************************** stsd ****************************/

// Stsd is the ISOBMFF stsd box (sample description table header); its
// entries are children in the Boxes tree.
type Stsd struct {
	FullBox
	EntryCount uint32
}

func (*Stsd) Type() BoxType { return BoxType{'s', 't', 's', 'd'} }
func (b *Stsd) Size() int   { return 8 }
func (b *Stsd) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.EntryCount)
}

/*************************** stts / ctts ****************************/

// SttsEntry is one run-length (count, delta) pair.
type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

func (e *SttsEntry) marshal(buf []byte, pos *int) {
	WriteUint32(buf, pos, e.SampleCount)
	WriteUint32(buf, pos, e.SampleDelta)
}

// Stts is the ISOBMFF stts box (decode-time-to-sample).
type Stts struct {
	FullBox
	Entries []SttsEntry
}

func (*Stts) Type() BoxType { return BoxType{'s', 't', 't', 's'} }
func (b *Stts) Size() int   { return 8 + len(b.Entries)*8 }
func (b *Stts) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		e.marshal(buf, pos)
	}
}

// CttsEntry is one run-length (count, offset) composition-offset pair.
// SampleOffsetV0 is unsigned (version 0 wire form); SampleOffsetV1 is the
// signed version 1 form. Exactly one is meaningful, selected by the
// enclosing Ctts.Version.
type CttsEntry struct {
	SampleCount    uint32
	SampleOffsetV0 uint32
	SampleOffsetV1 int32
}

// Ctts is the ISOBMFF ctts box (composition-time-to-sample), absent
// entirely when every sample's composition offset is zero.
type Ctts struct {
	FullBox
	Entries []CttsEntry
}

func (*Ctts) Type() BoxType { return BoxType{'c', 't', 't', 's'} }
func (b *Ctts) Size() int   { return 8 + len(b.Entries)*8 }
func (b *Ctts) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		WriteUint32(buf, pos, e.SampleCount)
		if b.Version == 1 {
			WriteUint32(buf, pos, uint32(e.SampleOffsetV1))
		} else {
			WriteUint32(buf, pos, e.SampleOffsetV0)
		}
	}
}

/*************************** stsc ****************************/

// StscEntry is one "from this chunk onward, use this layout" record.
type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

func (e *StscEntry) marshal(buf []byte, pos *int) {
	WriteUint32(buf, pos, e.FirstChunk)
	WriteUint32(buf, pos, e.SamplesPerChunk)
	WriteUint32(buf, pos, e.SampleDescriptionIndex)
}

// Stsc is the ISOBMFF stsc box (sample-to-chunk).
type Stsc struct {
	FullBox
	Entries []StscEntry
}

func (*Stsc) Type() BoxType { return BoxType{'s', 't', 's', 'c'} }
func (b *Stsc) Size() int   { return 8 + len(b.Entries)*12 }
func (b *Stsc) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, uint32(len(b.Entries)))
	for _, e := range b.Entries {
		e.marshal(buf, pos)
	}
}

/*************************** stsz ****************************/

// Stsz is the ISOBMFF stsz box (sample sizes). If SampleSize != 0, every
// sample has that uniform size and EntrySizes is empty.
type Stsz struct {
	FullBox
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

func (*Stsz) Type() BoxType { return BoxType{'s', 't', 's', 'z'} }
func (b *Stsz) Size() int   { return 12 + len(b.EntrySizes)*4 }
func (b *Stsz) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, b.SampleSize)
	WriteUint32(buf, pos, b.SampleCount)
	for _, s := range b.EntrySizes {
		WriteUint32(buf, pos, s)
	}
}

/*************************** stco / co64 ****************************/

// Stco is the ISOBMFF stco box (32-bit chunk offsets).
type Stco struct {
	FullBox
	ChunkOffsets []uint32
}

func (*Stco) Type() BoxType { return BoxType{'s', 't', 'c', 'o'} }
func (b *Stco) Size() int   { return 8 + len(b.ChunkOffsets)*4 }
func (b *Stco) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, uint32(len(b.ChunkOffsets)))
	for _, o := range b.ChunkOffsets {
		WriteUint32(buf, pos, o)
	}
}

// Co64 is the ISOBMFF co64 box (64-bit chunk offsets), chosen over stco
// when any chunk offset reaches 2^32.
type Co64 struct {
	FullBox
	ChunkOffsets []uint64
}

func (*Co64) Type() BoxType { return BoxType{'c', 'o', '6', '4'} }
func (b *Co64) Size() int   { return 8 + len(b.ChunkOffsets)*8 }
func (b *Co64) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, uint32(len(b.ChunkOffsets)))
	for _, o := range b.ChunkOffsets {
		WriteUint64(buf, pos, o)
	}
}

/*************************** stss ****************************/

// Stss is the ISOBMFF stss box (sync-sample table): sorted 1-based sample
// indices. Absent entirely means every sample in the track is sync.
type Stss struct {
	FullBox
	SampleNumbers []uint32
}

func (*Stss) Type() BoxType { return BoxType{'s', 't', 's', 's'} }
func (b *Stss) Size() int   { return 8 + len(b.SampleNumbers)*4 }
func (b *Stss) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	WriteUint32(buf, pos, uint32(len(b.SampleNumbers)))
	for _, n := range b.SampleNumbers {
		WriteUint32(buf, pos, n)
	}
}

/*************************** btrt ****************************/

// Btrt is the ISOBMFF btrt box (bitrate); optional on any sample entry,
// decoded into SampleEntry.Btrt when present and re-emitted verbatim by
// BuildSampleEntry.
type Btrt struct {
	BufferSizeDB uint32
	MaxBitrate   uint32
	AvgBitrate   uint32
}

func (*Btrt) Type() BoxType { return BoxType{'b', 't', 'r', 't'} }
func (*Btrt) Size() int     { return 12 }
func (b *Btrt) Marshal(buf []byte, pos *int) {
	WriteUint32(buf, pos, b.BufferSizeDB)
	WriteUint32(buf, pos, b.MaxBitrate)
	WriteUint32(buf, pos, b.AvgBitrate)
}

/*************************** esds constants ****************************/

// Descriptor tags (ISO/IEC 14496-1 §8.3).
const (
	ESDescrTag            = 0x03
	DecoderConfigDescrTag = 0x04
	DecSpecificInfoTag    = 0x05
	SLConfigDescrTag      = 0x06
)

/*************************** esds ****************************/

// Esds is the ISOBMFF esds box, wrapping an ESDescriptor tree (descriptor.go).
type Esds struct {
	FullBox
	Descriptor ESDescriptor
}

func (*Esds) Type() BoxType { return BoxType{'e', 's', 'd', 's'} }
func (b *Esds) Size() int   { return 4 + b.Descriptor.Size() }
func (b *Esds) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	b.Descriptor.Marshal(buf, pos)
}

// DecodeEsds parses an esds box body (after the 4-byte FullBox header has
// already been consumed by the caller).
func DecodeEsds(buf []byte, pos *int) (Esds, error) {
	d, err := DecodeESDescriptor(buf, pos)
	if err != nil {
		return Esds{}, mp4err.Wrap(mp4err.InvalidData, err, "decode esds")
	}
	return Esds{Descriptor: d}, nil
}

/*********************** avc1 / avcC *************************/

// AVC profile_indication constants gating the chroma/bit-depth extension
// fields in avcC.
const (
	AVCBaselineProfile uint8 = 66
	AVCMainProfile     uint8 = 77
	AVCExtendedProfile uint8 = 88
	AVCHighProfile     uint8 = 100
	AVCHigh10Profile   uint8 = 110
	AVCHigh422Profile  uint8 = 122
	AVCHigh444Profile  uint8 = 144
)

func avcProfileHasChromaExtension(profile uint8) bool {
	switch profile {
	case AVCHighProfile, AVCHigh10Profile, AVCHigh422Profile, AVCHigh444Profile:
		return true
	default:
		return false
	}
}

// Avc1 is the ISOBMFF avc1 sample entry (AVC/H.264 video).
type Avc1 struct {
	SampleEntryHeader
	PreDefined      uint16
	Reserved        uint16
	PreDefined2     [3]uint32
	Width           uint16
	Height          uint16
	Horizresolution uint32
	Vertresolution  uint32
	Reserved2       uint32
	FrameCount      uint16
	Compressorname  [32]byte
	Depth           uint16
	PreDefined3     int16
}

func (*Avc1) Type() BoxType { return BoxType{'a', 'v', 'c', '1'} }
func (b *Avc1) Size() int   { return 78 }
func (b *Avc1) Marshal(buf []byte, pos *int) {
	b.SampleEntryHeader.marshal(buf, pos)
	WriteUint16(buf, pos, b.PreDefined)
	WriteUint16(buf, pos, b.Reserved)
	for _, p := range b.PreDefined2 {
		WriteUint32(buf, pos, p)
	}
	WriteUint16(buf, pos, b.Width)
	WriteUint16(buf, pos, b.Height)
	WriteUint32(buf, pos, b.Horizresolution)
	WriteUint32(buf, pos, b.Vertresolution)
	WriteUint32(buf, pos, b.Reserved2)
	WriteUint16(buf, pos, b.FrameCount)
	Write(buf, pos, b.Compressorname[:])
	WriteUint16(buf, pos, b.Depth)
	WriteUint16(buf, pos, uint16(b.PreDefined3))
}

// AVCParameterSet is one length-prefixed SPS or PPS NAL unit.
type AVCParameterSet struct {
	NALUnit []byte
}

func (s *AVCParameterSet) size() int { return len(s.NALUnit) + 2 }
func (s *AVCParameterSet) marshal(buf []byte, pos *int) {
	WriteUint16(buf, pos, uint16(len(s.NALUnit)))
	Write(buf, pos, s.NALUnit)
}

// AvcC is the ISOBMFF avcC box (AVCDecoderConfigurationRecord).
//
// Marshal assumes Profile and HasChromaExtension agree; callers that build
// an AvcC (the muxer) run ValidateProfile first, which reports a mismatch
// as a normal mp4err.InvalidInput instead of failing mid-marshal.
type AvcC struct {
	ConfigurationVersion     uint8
	Profile                  uint8
	ProfileCompatibility     uint8
	Level                    uint8
	LengthSizeMinusOne       uint8 // 2 bits.
	SequenceParameterSets    []AVCParameterSet
	PictureParameterSets     []AVCParameterSet
	HasChromaExtension       bool
	ChromaFormat             uint8 // 2 bits.
	BitDepthLumaMinus8       uint8 // 3 bits.
	BitDepthChromaMinus8     uint8 // 3 bits.
	SequenceParameterSetsExt []AVCParameterSet
}

// ValidateProfile reports an InvalidInput error iff HasChromaExtension is
// set for a profile that isn't one of the four that carry the extension.
func (b *AvcC) ValidateProfile() error {
	if b.HasChromaExtension && !avcProfileHasChromaExtension(b.Profile) {
		return mp4err.Newf(mp4err.InvalidInput,
			"avcC: chroma/bit-depth extension set but profile_indication %d doesn't carry one", b.Profile)
	}
	return nil
}

func (*AvcC) Type() BoxType { return BoxType{'a', 'v', 'c', 'C'} }

func (b *AvcC) Size() int {
	total := 7
	for _, s := range b.SequenceParameterSets {
		total += s.size()
	}
	for _, s := range b.PictureParameterSets {
		total += s.size()
	}
	if b.HasChromaExtension {
		total += 4
		for _, s := range b.SequenceParameterSetsExt {
			total += s.size()
		}
	}
	return total
}

func (b *AvcC) Marshal(buf []byte, pos *int) {
	WriteByte(buf, pos, b.ConfigurationVersion)
	WriteByte(buf, pos, b.Profile)
	WriteByte(buf, pos, b.ProfileCompatibility)
	WriteByte(buf, pos, b.Level)
	WriteByte(buf, pos, 0xfc|b.LengthSizeMinusOne&0x3)
	WriteByte(buf, pos, 0xe0|uint8(len(b.SequenceParameterSets))&0x1f)
	for _, s := range b.SequenceParameterSets {
		s.marshal(buf, pos)
	}
	WriteByte(buf, pos, uint8(len(b.PictureParameterSets)))
	for _, s := range b.PictureParameterSets {
		s.marshal(buf, pos)
	}
	if b.HasChromaExtension {
		WriteByte(buf, pos, 0xfc|b.ChromaFormat&0x3)
		WriteByte(buf, pos, 0xf8|b.BitDepthLumaMinus8&0x7)
		WriteByte(buf, pos, 0xf8|b.BitDepthChromaMinus8&0x7)
		WriteByte(buf, pos, uint8(len(b.SequenceParameterSetsExt)))
		for _, s := range b.SequenceParameterSetsExt {
			s.marshal(buf, pos)
		}
	}
}

/*********************** hev1 / hvcC *************************/

// HEVCNaluArray is one NALU-type-keyed array inside hvcC.
type HEVCNaluArray struct {
	NaluType uint8 // 6 bits.
	Nalus    [][]byte
}

// Hev1 is the ISOBMFF hev1 sample entry (HEVC video, inline parameter
// sets). HvccBoxType selects between "hev1" (inline) and "hvc1"
// (out-of-band parameter sets); both share this same in-memory shape.
type Hev1 struct {
	SampleEntryHeader
	Width           uint16
	Height          uint16
	Horizresolution uint32
	Vertresolution  uint32
	FrameCount      uint16
	Compressorname  [32]byte
	Depth           uint16

	// hvcC fields.
	GeneralProfileSpace            uint8 // 2 bits.
	GeneralTierFlag                bool
	GeneralProfileIdc              uint8 // 5 bits.
	GeneralProfileCompatibility    uint32
	GeneralConstraintIndicatorFlag uint64 // 48 bits.
	GeneralLevelIdc                uint8
	ChromaFormatIdc                uint8  // 2 bits.
	BitDepthLumaMinus8             uint8  // 3 bits.
	BitDepthChromaMinus8           uint8  // 3 bits.
	MinSpatialSegmentationIdc      uint16 // 12 bits.
	ParallelismType                uint8  // 2 bits.
	AvgFrameRate                   uint16
	ConstantFrameRate              uint8 // 2 bits.
	NumTemporalLayers              uint8 // 3 bits.
	TemporalIDNested               bool
	LengthSizeMinusOne             uint8 // 2 bits.
	NaluArrays                     []HEVCNaluArray
	HvccBoxType                    BoxType // "hev1" or "hvc1".
}

// Type returns HvccBoxType ("hev1" or "hvc1") so a muxer building one of
// these from HEVCParams.OutOfBand emits the matching fourcc; the zero value
// defaults to "hev1" so callers that never set it (e.g. decode call sites
// that only read hvcC fields off an existing Hev1) keep the inline form.
func (b *Hev1) Type() BoxType {
	if b.HvccBoxType == (BoxType{}) {
		return BoxType{'h', 'e', 'v', '1'}
	}
	return b.HvccBoxType
}

func (b *Hev1) Size() int { return 78 }
func (b *Hev1) Marshal(buf []byte, pos *int) {
	b.SampleEntryHeader.marshal(buf, pos)
	WriteUint16(buf, pos, 0) // pre_defined
	WriteUint16(buf, pos, 0) // reserved
	WriteUint32(buf, pos, 0) // pre_defined[3] (part 1, rest below)
	WriteUint32(buf, pos, 0)
	WriteUint32(buf, pos, 0)
	WriteUint16(buf, pos, b.Width)
	WriteUint16(buf, pos, b.Height)
	WriteUint32(buf, pos, b.Horizresolution)
	WriteUint32(buf, pos, b.Vertresolution)
	WriteUint32(buf, pos, 0) // reserved2
	WriteUint16(buf, pos, b.FrameCount)
	Write(buf, pos, b.Compressorname[:])
	WriteUint16(buf, pos, b.Depth)
	WriteUint16(buf, pos, 0xffff) // pre_defined3 = -1
}

// HvcC is the ISOBMFF hvcC box (HEVCDecoderConfigurationRecord), built from
// the same Hev1 struct's hvcC fields.
type HvcC struct {
	Entry *Hev1
}

func (*HvcC) Type() BoxType { return BoxType{'h', 'v', 'c', 'C'} }

func (b *HvcC) Size() int {
	total := 23
	for _, a := range b.Entry.NaluArrays {
		total += 3
		for _, n := range a.Nalus {
			total += 2 + len(n)
		}
	}
	return total
}

func (b *HvcC) Marshal(buf []byte, pos *int) {
	e := b.Entry
	WriteByte(buf, pos, 1) // configurationVersion
	WriteByte(buf, pos, e.GeneralProfileSpace&0x3<<6|boolBit(e.GeneralTierFlag)<<5|e.GeneralProfileIdc&0x1f)
	WriteUint32(buf, pos, e.GeneralProfileCompatibility)
	// 48-bit constraint indicator flags.
	WriteUint32(buf, pos, uint32(e.GeneralConstraintIndicatorFlag>>16))
	WriteUint16(buf, pos, uint16(e.GeneralConstraintIndicatorFlag))
	WriteByte(buf, pos, e.GeneralLevelIdc)
	WriteUint16(buf, pos, 0xf000|e.MinSpatialSegmentationIdc&0x0fff)
	WriteByte(buf, pos, 0xfc|e.ParallelismType&0x3)
	WriteByte(buf, pos, 0xfc|e.ChromaFormatIdc&0x3)
	WriteByte(buf, pos, 0xf8|e.BitDepthLumaMinus8&0x7)
	WriteByte(buf, pos, 0xf8|e.BitDepthChromaMinus8&0x7)
	WriteUint16(buf, pos, e.AvgFrameRate)
	WriteByte(buf, pos, e.ConstantFrameRate&0x3<<6|e.NumTemporalLayers&0x7<<3|boolBit(e.TemporalIDNested)<<2|e.LengthSizeMinusOne&0x3)
	WriteByte(buf, pos, uint8(len(e.NaluArrays)))
	for _, a := range e.NaluArrays {
		WriteByte(buf, pos, a.NaluType&0x3f)
		WriteUint16(buf, pos, uint16(len(a.Nalus)))
		for _, n := range a.Nalus {
			WriteUint16(buf, pos, uint16(len(n)))
			Write(buf, pos, n)
		}
	}
}

func boolBit(v bool) byte {
	if v {
		return 1
	}
	return 0
}

/*********************** vp08 / vp09 / vpcC *************************/

// vpxCommon is the layout shared by vp08/vp09 sample entries.
type vpxCommon struct {
	SampleEntryHeader
	Width           uint16
	Height          uint16
	Horizresolution uint32
	Vertresolution  uint32
	FrameCount      uint16
	Compressorname  [32]byte
	Depth           uint16
}

func (v *vpxCommon) size() int { return 78 }
func (v *vpxCommon) marshal(buf []byte, pos *int) {
	v.SampleEntryHeader.marshal(buf, pos)
	WriteUint16(buf, pos, 0)
	WriteUint16(buf, pos, 0)
	WriteUint32(buf, pos, 0)
	WriteUint32(buf, pos, 0)
	WriteUint32(buf, pos, 0)
	WriteUint16(buf, pos, v.Width)
	WriteUint16(buf, pos, v.Height)
	WriteUint32(buf, pos, v.Horizresolution)
	WriteUint32(buf, pos, v.Vertresolution)
	WriteUint32(buf, pos, 0)
	WriteUint16(buf, pos, v.FrameCount)
	Write(buf, pos, v.Compressorname[:])
	WriteUint16(buf, pos, v.Depth)
	WriteUint16(buf, pos, 0xffff)
}

// VpxConfig holds the vpcC fields common to VP8 and VP9.
type VpxConfig struct {
	Profile                 uint8 // VP09 only; 0 for VP08.
	Level                   uint8 // VP09 only.
	BitDepth                uint8 // 4 bits.
	ChromaSubsampling       uint8 // 3 bits.
	VideoFullRangeFlag      bool
	ColourPrimaries         uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
	CodecInitializationData []byte // VP09 only; opaque blob.
}

// Vp08 is the ISOBMFF vp08 sample entry (VP8 video).
type Vp08 struct {
	vpxCommon
	Config VpxConfig
}

func (*Vp08) Type() BoxType { return BoxType{'v', 'p', '0', '8'} }
func (b *Vp08) Size() int   { return b.vpxCommon.size() }
func (b *Vp08) Marshal(buf []byte, pos *int) { b.vpxCommon.marshal(buf, pos) }

// Vp09 is the ISOBMFF vp09 sample entry (VP9 video).
type Vp09 struct {
	vpxCommon
	Config VpxConfig
}

func (*Vp09) Type() BoxType { return BoxType{'v', 'p', '0', '9'} }
func (b *Vp09) Size() int   { return b.vpxCommon.size() }
func (b *Vp09) Marshal(buf []byte, pos *int) { b.vpxCommon.marshal(buf, pos) }

// VpcC is the ISOBMFF vpcC box (VPCodecConfigurationBox), shared by vp08
// and vp09 per ISO convention; the profile/level fields are meaningless
// (zero) for VP08 and CodecInitializationData is always empty for VP08.
type VpcC struct {
	FullBox
	Config VpxConfig
}

func (*VpcC) Type() BoxType { return BoxType{'v', 'p', 'c', 'C'} }
func (b *VpcC) Size() int   { return 4 + 8 + len(b.Config.CodecInitializationData) }
func (b *VpcC) Marshal(buf []byte, pos *int) {
	b.FullBox.Marshal(buf, pos)
	c := b.Config
	WriteByte(buf, pos, c.Profile)
	WriteByte(buf, pos, c.Level)
	WriteByte(buf, pos, c.BitDepth&0xf<<4|c.ChromaSubsampling&0x7<<1|boolBit(c.VideoFullRangeFlag))
	WriteByte(buf, pos, c.ColourPrimaries)
	WriteByte(buf, pos, c.TransferCharacteristics)
	WriteByte(buf, pos, c.MatrixCoefficients)
	WriteUint16(buf, pos, uint16(len(c.CodecInitializationData)))
	Write(buf, pos, c.CodecInitializationData)
}

/*********************** av01 / av1C *************************/

// Av1Config holds the av1C fields, with ConfigOBUs carried as a single
// opaque blob, not as a parsed OBU list.
type Av1Config struct {
	SeqProfile                       uint8 // 3 bits.
	SeqLevelIdx0                     uint8 // 5 bits.
	SeqTier0                         bool
	HighBitdepth                     bool
	TwelveBit                        bool
	Monochrome                       bool
	ChromaSubsamplingX               bool
	ChromaSubsamplingY               bool
	ChromaSamplePosition             uint8 // 2 bits.
	InitialPresentationDelayPresent  bool
	InitialPresentationDelayMinusOne uint8 // 4 bits.
	ConfigOBUs                       []byte
}

// Av01 is the ISOBMFF av01 sample entry (AV1 video).
type Av01 struct {
	vpxCommon
	Config Av1Config
}

func (*Av01) Type() BoxType { return BoxType{'a', 'v', '0', '1'} }
func (b *Av01) Size() int   { return b.vpxCommon.size() }
func (b *Av01) Marshal(buf []byte, pos *int) { b.vpxCommon.marshal(buf, pos) }

// Av1C is the ISOBMFF av1C box (AV1CodecConfigurationRecord).
type Av1C struct {
	Config Av1Config
}

func (*Av1C) Type() BoxType { return BoxType{'a', 'v', '1', 'C'} }
func (b *Av1C) Size() int   { return 4 + len(b.Config.ConfigOBUs) }
func (b *Av1C) Marshal(buf []byte, pos *int) {
	c := b.Config
	WriteByte(buf, pos, 0x80|1<<5) // marker=1, version=1
	WriteByte(buf, pos, c.SeqProfile&0x7<<5|c.SeqLevelIdx0&0x1f)
	WriteByte(buf, pos,
		boolBit(c.SeqTier0)<<7|boolBit(c.HighBitdepth)<<6|boolBit(c.TwelveBit)<<5|
			boolBit(c.Monochrome)<<4|boolBit(c.ChromaSubsamplingX)<<3|
			boolBit(c.ChromaSubsamplingY)<<2|c.ChromaSamplePosition&0x3)
	presentBit := byte(0)
	delay := byte(0)
	if c.InitialPresentationDelayPresent {
		presentBit = 1
		delay = c.InitialPresentationDelayMinusOne & 0xf
	}
	WriteByte(buf, pos, presentBit<<4|delay)
	Write(buf, pos, c.ConfigOBUs)
}

/*********************** Opus / dOps *************************/

// Opus is the ISOBMFF Opus sample entry (Opus audio).
type Opus struct {
	SampleEntryHeader
	EntryVersion uint16
	Reserved     [3]uint16
	ChannelCount uint16
	SampleSize   uint16
	PreDefined   uint16
	Reserved2    uint16
	SampleRate   uint32 // 16.16; 48000<<16 by convention.

	DOps DOps
}

func (*Opus) Type() BoxType { return BoxType{'O', 'p', 'u', 's'} }
func (b *Opus) Size() int   { return 28 }
func (b *Opus) Marshal(buf []byte, pos *int) {
	b.SampleEntryHeader.marshal(buf, pos)
	WriteUint16(buf, pos, b.EntryVersion)
	for _, r := range b.Reserved {
		WriteUint16(buf, pos, r)
	}
	WriteUint16(buf, pos, b.ChannelCount)
	WriteUint16(buf, pos, b.SampleSize)
	WriteUint16(buf, pos, b.PreDefined)
	WriteUint16(buf, pos, b.Reserved2)
	WriteUint32(buf, pos, b.SampleRate)
}

// DOps is the ISOBMFF dOps box (OpusSpecificBox): channel count,
// pre-skip, input sample rate and output gain.
type DOps struct {
	ChannelCount     uint8
	PreSkip          uint16
	InputSampleRate  uint32
	OutputGain       int16 // Q7.8.
	ChannelMapFamily uint8
}

func (*DOps) Type() BoxType { return BoxType{'d', 'O', 'p', 's'} }
func (b *DOps) Size() int   { return 11 }
func (b *DOps) Marshal(buf []byte, pos *int) {
	WriteByte(buf, pos, 0) // version
	WriteByte(buf, pos, b.ChannelCount)
	WriteUint16(buf, pos, b.PreSkip)
	WriteUint32(buf, pos, b.InputSampleRate)
	WriteUint16(buf, pos, uint16(b.OutputGain))
	WriteByte(buf, pos, b.ChannelMapFamily)
}

/*********************** mp4a *************************/

// Mp4a is the ISOBMFF mp4a sample entry (AAC/MPEG-4 audio).
type Mp4a struct {
	SampleEntryHeader
	EntryVersion uint16
	Reserved     [3]uint16
	ChannelCount uint16
	SampleSize   uint16
	PreDefined   uint16
	Reserved2    uint16
	SampleRate   uint32 // 16.16, truncated to integer Hz.
}

func (*Mp4a) Type() BoxType { return BoxType{'m', 'p', '4', 'a'} }
func (b *Mp4a) Size() int   { return 28 }
func (b *Mp4a) Marshal(buf []byte, pos *int) {
	b.SampleEntryHeader.marshal(buf, pos)
	WriteUint16(buf, pos, b.EntryVersion)
	for _, r := range b.Reserved {
		WriteUint16(buf, pos, r)
	}
	WriteUint16(buf, pos, b.ChannelCount)
	WriteUint16(buf, pos, b.SampleSize)
	WriteUint16(buf, pos, b.PreDefined)
	WriteUint16(buf, pos, b.Reserved2)
	WriteUint32(buf, pos, b.SampleRate)
}
