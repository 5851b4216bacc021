package mp4

// Header is a parsed box header: size/type, plus the largesize extension
// when present. A uuid-typed box gets no special handling: its 16-byte
// extended type is left at the start of the body.
type Header struct {
	Type        BoxType
	HeaderSize  int64 // bytes consumed by size+type(+largesize).
	BodySize    int64 // payload length; -1 means "runs to end of file" (size==0).
	StartOffset int64 // absolute file offset of the size field.
}

// EndOffset returns the absolute offset one past this box's last byte, or
// -1 if BodySize is -1 (runs to EOF, only legal for the last top-level box).
func (h Header) EndOffset() int64 {
	if h.BodySize < 0 {
		return -1
	}
	return h.StartOffset + h.HeaderSize + h.BodySize
}

// MinHeaderBytes is the smallest slice ParseHeader ever needs: size+type.
const MinHeaderBytes = 8

// PeekHeaderSize inspects the first 4 bytes (already known to be
// available) to report how many total bytes ParseHeader will need: 8
// normally, 16 when a largesize is present. Callers use this to decide how
// many more bytes to request before calling ParseHeader.
func PeekHeaderSize(first4 []byte) int {
	size := beUint32(first4)
	if size == 1 {
		return 16
	}
	return 8
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// ParseHeader parses a complete box header (8 or 16 bytes, as reported by
// PeekHeaderSize) located at absolute offset startOffset within buf (buf
// starts exactly at the header, i.e. buf[0] is the first size byte).
//
// limit is the absolute end offset of the enclosing container (or the
// known file length at top level); a header whose declared extent exceeds
// it is InvalidData.
func ParseHeader(buf []byte, startOffset, limit int64) (Header, error) {
	pos := 0
	size := ReadUint32(buf, &pos)
	typ := BoxType{}
	copy(typ[:], Read(buf, &pos, 4))

	headerSize := int64(8)
	var bodySize int64

	switch size {
	case 0:
		if limit < 0 {
			bodySize = -1
		} else {
			bodySize = limit - startOffset - headerSize
		}
	case 1:
		largesize := ReadUint64(buf, &pos)
		headerSize = 16
		if largesize < uint64(headerSize) {
			return Header{}, newBoxTooSmallError(typ, int(largesize), int(headerSize))
		}
		bodySize = int64(largesize) - headerSize
	default:
		if size < 8 {
			return Header{}, newBoxTooSmallError(typ, int(size), 8)
		}
		bodySize = int64(size) - headerSize
	}

	h := Header{Type: typ, HeaderSize: headerSize, BodySize: bodySize, StartOffset: startOffset}
	if limit >= 0 && bodySize >= 0 {
		if end := h.EndOffset(); end > limit {
			return Header{}, newBoxOverflowsError(typ, end, limit)
		}
	}
	return h, nil
}

// containerTypes are the box types 4.2 says recognise children instead of
// an opaque payload.
var containerTypes = map[BoxType]bool{
	{'m', 'o', 'o', 'v'}: true,
	{'t', 'r', 'a', 'k'}: true,
	{'m', 'd', 'i', 'a'}: true,
	{'m', 'i', 'n', 'f'}: true,
	{'d', 'i', 'n', 'f'}: true,
	{'s', 't', 'b', 'l'}: true,
	{'u', 'd', 't', 'a'}: true,
	{'e', 'd', 't', 's'}: true,
	{'s', 't', 's', 'd'}: true, // special: entry_count header, then entries.
}

// IsContainer reports whether typ is one of the recognised container
// types whose body is itself a sequence of boxes.
func IsContainer(typ BoxType) bool {
	return containerTypes[typ]
}
