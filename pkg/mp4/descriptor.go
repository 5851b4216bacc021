package mp4

// esds descriptor tree (ISO/IEC 14496-1 §8.3): ESDescriptor ->
// DecoderConfigDescriptor -> DecSpecificInfo (raw bytes, opaque) +
// SLConfigDescriptor.
//
// https://developer.apple.com/library/content/documentation/QuickTime/QTFF/QTFFChap3/qtff3.html
const (
	objectTypeIndicatorMPEG4Audio = 0x40
	streamTypeAudioUpstreamFalse  = 0x15
	slConfigDescrFlagsMP4         = 0x02
)

// DecSpecificInfo carries the raw AudioSpecificConfig bytes for MP4A. The
// payload is opaque here; parsing AAC's own bitstream is out of scope.
type DecSpecificInfo struct {
	Data []byte
}

func (d *DecSpecificInfo) size() int {
	return 1 + SizeOfDescriptorLength(len(d.Data)) + len(d.Data)
}

func (d *DecSpecificInfo) marshal(buf []byte, pos *int) {
	WriteByte(buf, pos, DecSpecificInfoTag)
	WriteDescriptorLength(buf, pos, len(d.Data))
	Write(buf, pos, d.Data)
}

func decodeDecSpecificInfo(buf []byte, pos *int) (DecSpecificInfo, error) {
	n, ok := ReadDescriptorLength(buf, pos)
	if !ok {
		return DecSpecificInfo{}, newDescriptorLengthError("DecSpecificInfo")
	}
	return DecSpecificInfo{Data: Read(buf, pos, n)}, nil
}

// DecoderConfigDescriptor carries the mp4a decoder configuration:
// buffer_size_db, max_bitrate, avg_bitrate, and the nested DecSpecificInfo.
type DecoderConfigDescriptor struct {
	BufferSizeDB    uint32 // 24 bits on the wire.
	MaxBitrate      uint32
	AvgBitrate      uint32
	DecSpecificInfo DecSpecificInfo
}

func (d *DecoderConfigDescriptor) bodySize() int {
	return 13 + d.DecSpecificInfo.size()
}

func (d *DecoderConfigDescriptor) size() int {
	n := d.bodySize()
	return 1 + SizeOfDescriptorLength(n) + n
}

func (d *DecoderConfigDescriptor) marshal(buf []byte, pos *int) {
	WriteByte(buf, pos, DecoderConfigDescrTag)
	WriteDescriptorLength(buf, pos, d.bodySize())
	WriteByte(buf, pos, objectTypeIndicatorMPEG4Audio)
	WriteByte(buf, pos, streamTypeAudioUpstreamFalse)
	WriteByte(buf, pos, byte(d.BufferSizeDB>>16))
	WriteByte(buf, pos, byte(d.BufferSizeDB>>8))
	WriteByte(buf, pos, byte(d.BufferSizeDB))
	WriteUint32(buf, pos, d.MaxBitrate)
	WriteUint32(buf, pos, d.AvgBitrate)
	d.DecSpecificInfo.marshal(buf, pos)
}

func decodeDecoderConfigDescriptor(buf []byte, pos *int) (DecoderConfigDescriptor, error) {
	_ = ReadByte(buf, pos) // object type indicator
	_ = ReadByte(buf, pos) // stream type / upstream / reserved
	bufferSizeDB := uint32(ReadByte(buf, pos))<<16 | uint32(ReadByte(buf, pos))<<8 | uint32(ReadByte(buf, pos))
	maxBitrate := ReadUint32(buf, pos)
	avgBitrate := ReadUint32(buf, pos)
	tag := ReadByte(buf, pos)
	if tag != DecSpecificInfoTag {
		return DecoderConfigDescriptor{}, newDescriptorTagError("DecSpecificInfo", tag)
	}
	dsi, err := decodeDecSpecificInfo(buf, pos)
	if err != nil {
		return DecoderConfigDescriptor{}, err
	}
	return DecoderConfigDescriptor{
		BufferSizeDB:    bufferSizeDB,
		MaxBitrate:      maxBitrate,
		AvgBitrate:      avgBitrate,
		DecSpecificInfo: dsi,
	}, nil
}

// slConfigDescriptor is fixed to the single MP4-file-format flag byte; no
// field of it is exposed since nothing downstream needs it.
func slConfigDescriptorSize() int { return 1 + 1 + 1 }

func marshalSLConfigDescriptor(buf []byte, pos *int) {
	WriteByte(buf, pos, SLConfigDescrTag)
	WriteDescriptorLength(buf, pos, 1)
	WriteByte(buf, pos, slConfigDescrFlagsMP4)
}

// ESDescriptor is the esds box body: an ES_ID, a DecoderConfigDescriptor and
// an SLConfigDescriptor (fixed form).
type ESDescriptor struct {
	ESID           uint16
	DecoderConfig  DecoderConfigDescriptor
	StreamPriority uint8
}

func (d *ESDescriptor) bodySize() int {
	return 3 + d.DecoderConfig.size() + slConfigDescriptorSize()
}

// Size returns the esds box's FullBox-relative payload size.
func (d *ESDescriptor) Size() int {
	n := d.bodySize()
	return 1 + SizeOfDescriptorLength(n) + n
}

// Marshal writes the descriptor tree.
func (d *ESDescriptor) Marshal(buf []byte, pos *int) {
	WriteByte(buf, pos, ESDescrTag)
	WriteDescriptorLength(buf, pos, d.bodySize())
	WriteUint16(buf, pos, d.ESID)
	WriteByte(buf, pos, d.StreamPriority)
	d.DecoderConfig.marshal(buf, pos)
	marshalSLConfigDescriptor(buf, pos)
}

// DecodeESDescriptor parses the esds box body starting at *pos.
func DecodeESDescriptor(buf []byte, pos *int) (_ ESDescriptor, err error) {
	defer recoverInvalidData(&err)
	tag := ReadByte(buf, pos)
	if tag != ESDescrTag {
		return ESDescriptor{}, newDescriptorTagError("ESDescriptor", tag)
	}
	if _, ok := ReadDescriptorLength(buf, pos); !ok {
		return ESDescriptor{}, newDescriptorLengthError("ESDescriptor")
	}
	esID := ReadUint16(buf, pos)
	streamPriority := ReadByte(buf, pos)
	tag = ReadByte(buf, pos)
	if tag != DecoderConfigDescrTag {
		return ESDescriptor{}, newDescriptorTagError("DecoderConfigDescriptor", tag)
	}
	if _, ok := ReadDescriptorLength(buf, pos); !ok {
		return ESDescriptor{}, newDescriptorLengthError("DecoderConfigDescriptor")
	}
	dc, err := decodeDecoderConfigDescriptor(buf, pos)
	if err != nil {
		return ESDescriptor{}, err
	}
	// SLConfigDescriptor: tag + length + flags byte, value not retained.
	tag = ReadByte(buf, pos)
	if tag == SLConfigDescrTag {
		if n, ok := ReadDescriptorLength(buf, pos); ok {
			*pos += n
		}
	}
	return ESDescriptor{ESID: esID, StreamPriority: streamPriority, DecoderConfig: dc}, nil
}
