package mp4

import "mp4core/pkg/mp4err"

func newDescriptorLengthError(what string) error {
	return mp4err.Newf(mp4err.InvalidData, "%s: descriptor length exceeds 28-bit continuation encoding", what)
}

func newDescriptorTagError(what string, got byte) error {
	return mp4err.Newf(mp4err.InvalidData, "%s: unexpected descriptor tag 0x%02x", what, got)
}

// newBoxTooSmallError builds the InvalidData error returned when a box
// header declares a size smaller than its own header.
func newBoxTooSmallError(typ BoxType, declared, minimum int) error {
	return mp4err.Newf(mp4err.InvalidData,
		"box %q declares size %d, smaller than minimum header size %d", typeString(typ), declared, minimum)
}

// newBoxOverflowsError builds the InvalidData error returned when a box's
// declared length extends beyond its enclosing container.
func newBoxOverflowsError(typ BoxType, end, limit int64) error {
	return mp4err.Newf(mp4err.InvalidData,
		"box %q ends at %d, beyond enclosing container limit %d", typeString(typ), end, limit)
}

func typeString(t BoxType) string {
	return string(t[:])
}
