package mp4

import (
	"encoding/binary"

	"mp4core/pkg/mp4err"
)

// errTruncated is panicked by the read helpers when the cursor would run
// past the buffer, and converted back into an ordinary InvalidData return
// by recoverInvalidData at each decoder entry point. Keeping the check
// here means every field read is guarded without threading an error
// through the cursor-based reader signatures.
var errTruncated = mp4err.New(mp4err.InvalidData, "truncated box body")

func need(buf []byte, pos, n int) {
	if pos+n > len(buf) {
		panic(errTruncated)
	}
}

// recoverInvalidData converts a truncation panic raised by the read
// helpers into the deferred caller's error return. Any other panic is
// re-raised untouched.
func recoverInvalidData(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(*mp4err.Error); ok {
		*errp = e
		return
	}
	panic(r)
}

// ReadByte reads 1 byte.
func ReadByte(buf []byte, pos *int) byte {
	need(buf, *pos, 1)
	b := buf[*pos]
	*pos++
	return b
}

// ReadUint16 reads 16 bits.
func ReadUint16(buf []byte, pos *int) uint16 {
	need(buf, *pos, 2)
	v := binary.BigEndian.Uint16(buf[*pos:])
	*pos += 2
	return v
}

// ReadUint32 reads 32 bits.
func ReadUint32(buf []byte, pos *int) uint32 {
	need(buf, *pos, 4)
	v := binary.BigEndian.Uint32(buf[*pos:])
	*pos += 4
	return v
}

// ReadUint64 reads 64 bits.
func ReadUint64(buf []byte, pos *int) uint64 {
	need(buf, *pos, 8)
	v := binary.BigEndian.Uint64(buf[*pos:])
	*pos += 8
	return v
}

// Read copies n bytes starting at *pos into a fresh slice and advances pos.
// A zero-length read returns nil so decoded empty fields compare equal to
// their never-set counterparts.
func Read(buf []byte, pos *int, n int) []byte {
	if n == 0 {
		return nil
	}
	need(buf, *pos, n)
	out := make([]byte, n)
	copy(out, buf[*pos:*pos+n])
	*pos += n
	return out
}

// ReadFullBox reads the version/flags header shared by every FullBox.
func ReadFullBox(buf []byte, pos *int) FullBox {
	return FullBox{
		Version: ReadByte(buf, pos),
		Flags:   [3]byte{ReadByte(buf, pos), ReadByte(buf, pos), ReadByte(buf, pos)},
	}
}
