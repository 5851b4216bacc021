package mp4

import "mp4core/pkg/mp4err"

// visualFixed is the common 78-byte fixed-size prefix shared by
// avc1/hev1/hvc1/vp08/vp09/av01 sample entries (SampleEntry header plus the
// VisualSampleEntry fields every one of these codecs writes identically).
type visualFixed struct {
	DataReferenceIndex uint16
	Width, Height      uint16
	Horizresolution    uint32
	Vertresolution     uint32
	FrameCount         uint16
	Compressorname     [32]byte
	Depth              uint16
}

const visualFixedSize = 78

func decodeVisualFixed(body []byte) (visualFixed, error) {
	if len(body) < visualFixedSize {
		return visualFixed{}, mp4err.New(mp4err.InvalidData, "visual sample entry: body too short")
	}
	pos := 0
	var se SampleEntryHeader
	se.unmarshal(body, &pos)
	pos += 2 + 2 + 12 // pre_defined, reserved, pre_defined2[3]
	var v visualFixed
	v.DataReferenceIndex = se.DataReferenceIndex
	v.Width = ReadUint16(body, &pos)
	v.Height = ReadUint16(body, &pos)
	v.Horizresolution = ReadUint32(body, &pos)
	v.Vertresolution = ReadUint32(body, &pos)
	pos += 4 // reserved2
	v.FrameCount = ReadUint16(body, &pos)
	copy(v.Compressorname[:], Read(body, &pos, 32))
	v.Depth = ReadUint16(body, &pos)
	return v, nil
}

// audioFixed is the common 28-byte fixed-size prefix shared by Opus/mp4a.
type audioFixed struct {
	ChannelCount uint16
	SampleSize   uint16
	SampleRate   uint32
}

const audioFixedSize = 28

func decodeAudioFixed(body []byte) (audioFixed, error) {
	if len(body) < audioFixedSize {
		return audioFixed{}, mp4err.New(mp4err.InvalidData, "audio sample entry: body too short")
	}
	pos := 0
	var se SampleEntryHeader
	se.unmarshal(body, &pos)
	pos += 2 + 2*3 // entry_version, reserved[3]
	var a audioFixed
	a.ChannelCount = ReadUint16(body, &pos)
	a.SampleSize = ReadUint16(body, &pos)
	pos += 2 + 2 // pre_defined, reserved2
	a.SampleRate = ReadUint32(body, &pos)
	return a, nil
}

// DecodeAvcC parses an avcC box body: SPS/PPS lists plus the
// chroma/bit-depth extension, present iff bytes remain after the PPS list.
func DecodeAvcC(body []byte) (_ *AvcC, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	b := &AvcC{}
	b.ConfigurationVersion = ReadByte(body, &pos)
	b.Profile = ReadByte(body, &pos)
	b.ProfileCompatibility = ReadByte(body, &pos)
	b.Level = ReadByte(body, &pos)
	b.LengthSizeMinusOne = ReadByte(body, &pos) & 0x3
	numSPS := ReadByte(body, &pos) & 0x1f
	for i := byte(0); i < numSPS; i++ {
		n := int(ReadUint16(body, &pos))
		b.SequenceParameterSets = append(b.SequenceParameterSets, AVCParameterSet{NALUnit: Read(body, &pos, n)})
	}
	numPPS := ReadByte(body, &pos)
	for i := byte(0); i < numPPS; i++ {
		n := int(ReadUint16(body, &pos))
		b.PictureParameterSets = append(b.PictureParameterSets, AVCParameterSet{NALUnit: Read(body, &pos, n)})
	}
	if pos < len(body) {
		b.HasChromaExtension = true
		b.ChromaFormat = ReadByte(body, &pos) & 0x3
		b.BitDepthLumaMinus8 = ReadByte(body, &pos) & 0x7
		b.BitDepthChromaMinus8 = ReadByte(body, &pos) & 0x7
		numSPSExt := ReadByte(body, &pos)
		for i := byte(0); i < numSPSExt; i++ {
			n := int(ReadUint16(body, &pos))
			b.SequenceParameterSetsExt = append(b.SequenceParameterSetsExt, AVCParameterSet{NALUnit: Read(body, &pos, n)})
		}
	}
	return b, nil
}

// DecodeHvcC parses an hvcC box body into the Hev1 struct's hvcC fields.
func DecodeHvcC(body []byte) (_ *Hev1, err error) {
	defer recoverInvalidData(&err)
	e := &Hev1{}
	pos := 0
	_ = ReadByte(body, &pos) // configurationVersion
	b := ReadByte(body, &pos)
	e.GeneralProfileSpace = (b >> 6) & 0x3
	e.GeneralTierFlag = (b>>5)&0x1 != 0
	e.GeneralProfileIdc = b & 0x1f
	e.GeneralProfileCompatibility = ReadUint32(body, &pos)
	hi := ReadUint32(body, &pos)
	lo := ReadUint16(body, &pos)
	e.GeneralConstraintIndicatorFlag = uint64(hi)<<16 | uint64(lo)
	e.GeneralLevelIdc = ReadByte(body, &pos)
	e.MinSpatialSegmentationIdc = ReadUint16(body, &pos) & 0x0fff
	e.ParallelismType = ReadByte(body, &pos) & 0x3
	e.ChromaFormatIdc = ReadByte(body, &pos) & 0x3
	e.BitDepthLumaMinus8 = ReadByte(body, &pos) & 0x7
	e.BitDepthChromaMinus8 = ReadByte(body, &pos) & 0x7
	e.AvgFrameRate = ReadUint16(body, &pos)
	b2 := ReadByte(body, &pos)
	e.ConstantFrameRate = (b2 >> 6) & 0x3
	e.NumTemporalLayers = (b2 >> 3) & 0x7
	e.TemporalIDNested = (b2>>2)&0x1 != 0
	e.LengthSizeMinusOne = b2 & 0x3
	numArrays := ReadByte(body, &pos)
	for i := byte(0); i < numArrays; i++ {
		naluType := ReadByte(body, &pos) & 0x3f
		count := ReadUint16(body, &pos)
		arr := HEVCNaluArray{NaluType: naluType}
		for j := uint16(0); j < count; j++ {
			n := int(ReadUint16(body, &pos))
			arr.Nalus = append(arr.Nalus, Read(body, &pos, n))
		}
		e.NaluArrays = append(e.NaluArrays, arr)
	}
	return e, nil
}

// DecodeVpcC parses a vpcC box body.
func DecodeVpcC(body []byte) (_ *VpcC, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	c := VpxConfig{}
	c.Profile = ReadByte(body, &pos)
	c.Level = ReadByte(body, &pos)
	b := ReadByte(body, &pos)
	c.BitDepth = (b >> 4) & 0xf
	c.ChromaSubsampling = (b >> 1) & 0x7
	c.VideoFullRangeFlag = b&0x1 != 0
	c.ColourPrimaries = ReadByte(body, &pos)
	c.TransferCharacteristics = ReadByte(body, &pos)
	c.MatrixCoefficients = ReadByte(body, &pos)
	n := int(ReadUint16(body, &pos))
	c.CodecInitializationData = Read(body, &pos, n)
	return &VpcC{FullBox: fb, Config: c}, nil
}

// DecodeAv1C parses an av1C box body.
func DecodeAv1C(body []byte) (_ *Av1C, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	_ = ReadByte(body, &pos) // marker/version
	b1 := ReadByte(body, &pos)
	c := Av1Config{}
	c.SeqProfile = (b1 >> 5) & 0x7
	c.SeqLevelIdx0 = b1 & 0x1f
	b2 := ReadByte(body, &pos)
	c.SeqTier0 = (b2>>7)&0x1 != 0
	c.HighBitdepth = (b2>>6)&0x1 != 0
	c.TwelveBit = (b2>>5)&0x1 != 0
	c.Monochrome = (b2>>4)&0x1 != 0
	c.ChromaSubsamplingX = (b2>>3)&0x1 != 0
	c.ChromaSubsamplingY = (b2>>2)&0x1 != 0
	c.ChromaSamplePosition = b2 & 0x3
	b3 := ReadByte(body, &pos)
	c.InitialPresentationDelayPresent = (b3>>4)&0x1 != 0
	c.InitialPresentationDelayMinusOne = b3 & 0xf
	c.ConfigOBUs = Read(body, &pos, len(body)-pos)
	return &Av1C{Config: c}, nil
}

// DecodeDOps parses a dOps box body.
func DecodeDOps(body []byte) (_ *DOps, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	_ = ReadByte(body, &pos) // version
	b := &DOps{}
	b.ChannelCount = ReadByte(body, &pos)
	b.PreSkip = ReadUint16(body, &pos)
	b.InputSampleRate = ReadUint32(body, &pos)
	b.OutputGain = int16(ReadUint16(body, &pos))
	b.ChannelMapFamily = ReadByte(body, &pos)
	return b, nil
}

// DecodeEsdsBox parses an esds box body (FullBox header included).
func DecodeEsdsBox(body []byte) (_ *Esds, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	fb := ReadFullBox(body, &pos)
	esds, err := DecodeEsds(body, &pos)
	if err != nil {
		return nil, err
	}
	esds.FullBox = fb
	return &esds, nil
}

// DecodeBtrt parses a btrt box body.
func DecodeBtrt(body []byte) (_ *Btrt, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	b := &Btrt{}
	b.BufferSizeDB = ReadUint32(body, &pos)
	b.MaxBitrate = ReadUint32(body, &pos)
	b.AvgBitrate = ReadUint32(body, &pos)
	return b, nil
}

// decodeOptionalBtrt returns the entry's btrt child if one is present,
// nil otherwise.
func decodeOptionalBtrt(children []ChildBox) (*Btrt, error) {
	body, ok := FindChild(children, fourCC("btrt"))
	if !ok {
		return nil, nil
	}
	return DecodeBtrt(body)
}

// DecodeStsdEntries parses an stsd box body into the tagged-union
// SampleEntry model, dispatching on each entry's fourcc. Unknown codec
// fourccs are reported as mp4err.InvalidData.
func DecodeStsdEntries(body []byte, offset int64) (_ []SampleEntry, err error) {
	defer recoverInvalidData(&err)
	pos := 0
	_ = ReadFullBox(body, &pos)
	count := ReadUint32(body, &pos)
	children, err := IterateChildren(body[pos:], offset+int64(pos))
	if err != nil {
		return nil, err
	}
	if uint32(len(children)) != count {
		return nil, mp4err.Newf(mp4err.InvalidData, "stsd declares %d entries, found %d", count, len(children))
	}
	entries := make([]SampleEntry, 0, len(children))
	for _, c := range children {
		e, err := decodeSampleEntry(c.Type, c.Body)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeSampleEntry(typ BoxType, body []byte) (SampleEntry, error) {
	switch typ {
	case fourCC("avc1"):
		return decodeAVC1(body)
	case fourCC("hev1"), fourCC("hvc1"):
		return decodeHEVC(typ, body)
	case fourCC("vp08"):
		return decodeVPX(body, false)
	case fourCC("vp09"):
		return decodeVPX(body, true)
	case fourCC("av01"):
		return decodeAV01(body)
	case fourCC("Opus"):
		return decodeOpus(body)
	case fourCC("mp4a"):
		return decodeMP4A(body)
	default:
		return SampleEntry{}, mp4err.Newf(mp4err.InvalidData, "unsupported sample entry %q", typeString(typ))
	}
}

func decodeAVC1(body []byte) (SampleEntry, error) {
	v, err := decodeVisualFixed(body)
	if err != nil {
		return SampleEntry{}, err
	}
	children, err := IterateChildren(body[visualFixedSize:], 0)
	if err != nil {
		return SampleEntry{}, err
	}
	btrt, err := decodeOptionalBtrt(children)
	if err != nil {
		return SampleEntry{}, err
	}
	avcCBody, ok := FindChild(children, fourCC("avcC"))
	if !ok {
		return SampleEntry{}, mp4err.New(mp4err.InvalidData, "avc1: missing avcC")
	}
	avcC, err := DecodeAvcC(avcCBody)
	if err != nil {
		return SampleEntry{}, err
	}
	sps := make([][]byte, len(avcC.SequenceParameterSets))
	for i, s := range avcC.SequenceParameterSets {
		sps[i] = s.NALUnit
	}
	pps := make([][]byte, len(avcC.PictureParameterSets))
	for i, s := range avcC.PictureParameterSets {
		pps[i] = s.NALUnit
	}
	return SampleEntry{
		Kind: KindAVC1,
		Btrt: btrt,
		AVC1: &AVCParams{
			Width: v.Width, Height: v.Height,
			ProfileIndication:    avcC.Profile,
			ProfileCompatibility: avcC.ProfileCompatibility,
			LevelIndication:      avcC.Level,
			LengthSizeMinusOne:   avcC.LengthSizeMinusOne,
			SPS:                  sps,
			PPS:                  pps,
			HasChromaExtension:   avcC.HasChromaExtension,
			ChromaFormat:         avcC.ChromaFormat,
			BitDepthLumaMinus8:   avcC.BitDepthLumaMinus8,
			BitDepthChromaMinus8: avcC.BitDepthChromaMinus8,
		},
	}, nil
}

func decodeHEVC(typ BoxType, body []byte) (SampleEntry, error) {
	v, err := decodeVisualFixed(body)
	if err != nil {
		return SampleEntry{}, err
	}
	children, err := IterateChildren(body[visualFixedSize:], 0)
	if err != nil {
		return SampleEntry{}, err
	}
	btrt, err := decodeOptionalBtrt(children)
	if err != nil {
		return SampleEntry{}, err
	}
	hvcCBody, ok := FindChild(children, fourCC("hvcC"))
	if !ok {
		return SampleEntry{}, mp4err.New(mp4err.InvalidData, "hev1/hvc1: missing hvcC")
	}
	e, err := DecodeHvcC(hvcCBody)
	if err != nil {
		return SampleEntry{}, err
	}
	arrays := make([]HEVCNaluEntry, len(e.NaluArrays))
	for i, a := range e.NaluArrays {
		arrays[i] = HEVCNaluEntry{NaluType: a.NaluType, Nalus: a.Nalus}
	}
	return SampleEntry{
		Kind: KindHEV1,
		Btrt: btrt,
		HEV1: &HEVCParams{
			Width: v.Width, Height: v.Height,
			GeneralProfileSpace:              e.GeneralProfileSpace,
			GeneralTierFlag:                  e.GeneralTierFlag,
			GeneralProfileIdc:                e.GeneralProfileIdc,
			GeneralProfileCompatibilityFlags: e.GeneralProfileCompatibility,
			GeneralConstraintIndicatorFlags:  e.GeneralConstraintIndicatorFlag,
			GeneralLevelIdc:                  e.GeneralLevelIdc,
			ChromaFormatIdc:                  e.ChromaFormatIdc,
			BitDepthLumaMinus8:               e.BitDepthLumaMinus8,
			BitDepthChromaMinus8:             e.BitDepthChromaMinus8,
			MinSpatialSegmentationIdc:        e.MinSpatialSegmentationIdc,
			ParallelismType:                  e.ParallelismType,
			AvgFrameRate:                     e.AvgFrameRate,
			ConstantFrameRate:                e.ConstantFrameRate,
			NumTemporalLayers:                e.NumTemporalLayers,
			TemporalIDNested:                 e.TemporalIDNested,
			LengthSizeMinusOne:               e.LengthSizeMinusOne,
			NaluArrays:                       arrays,
			OutOfBand:                        typ == fourCC("hvc1"),
		},
	}, nil
}

func decodeVPX(body []byte, isVP09 bool) (SampleEntry, error) {
	v, err := decodeVisualFixed(body)
	if err != nil {
		return SampleEntry{}, err
	}
	children, err := IterateChildren(body[visualFixedSize:], 0)
	if err != nil {
		return SampleEntry{}, err
	}
	btrt, err := decodeOptionalBtrt(children)
	if err != nil {
		return SampleEntry{}, err
	}
	vpcCBody, ok := FindChild(children, fourCC("vpcC"))
	if !ok {
		return SampleEntry{}, mp4err.New(mp4err.InvalidData, "vp08/vp09: missing vpcC")
	}
	vpcC, err := DecodeVpcC(vpcCBody)
	if err != nil {
		return SampleEntry{}, err
	}
	params := &VPXParams{
		Width: v.Width, Height: v.Height,
		BitDepth:                vpcC.Config.BitDepth,
		ChromaSubsampling:       vpcC.Config.ChromaSubsampling,
		VideoFullRangeFlag:      vpcC.Config.VideoFullRangeFlag,
		ColourPrimaries:         vpcC.Config.ColourPrimaries,
		TransferCharacteristics: vpcC.Config.TransferCharacteristics,
		MatrixCoefficients:      vpcC.Config.MatrixCoefficients,
		Profile:                 vpcC.Config.Profile,
		Level:                   vpcC.Config.Level,
		CodecInitializationData: vpcC.Config.CodecInitializationData,
		IsVP09:                  isVP09,
	}
	if isVP09 {
		return SampleEntry{Kind: KindVP09, VP09: params, Btrt: btrt}, nil
	}
	return SampleEntry{Kind: KindVP08, VP08: params, Btrt: btrt}, nil
}

func decodeAV01(body []byte) (SampleEntry, error) {
	v, err := decodeVisualFixed(body)
	if err != nil {
		return SampleEntry{}, err
	}
	children, err := IterateChildren(body[visualFixedSize:], 0)
	if err != nil {
		return SampleEntry{}, err
	}
	btrt, err := decodeOptionalBtrt(children)
	if err != nil {
		return SampleEntry{}, err
	}
	av1CBody, ok := FindChild(children, fourCC("av1C"))
	if !ok {
		return SampleEntry{}, mp4err.New(mp4err.InvalidData, "av01: missing av1C")
	}
	av1C, err := DecodeAv1C(av1CBody)
	if err != nil {
		return SampleEntry{}, err
	}
	c := av1C.Config
	return SampleEntry{
		Kind: KindAV01,
		Btrt: btrt,
		AV01: &AV1Params{
			Width: v.Width, Height: v.Height,
			SeqProfile:                       c.SeqProfile,
			SeqLevelIdx0:                     c.SeqLevelIdx0,
			SeqTier0:                         c.SeqTier0,
			HighBitdepth:                     c.HighBitdepth,
			TwelveBit:                        c.TwelveBit,
			Monochrome:                       c.Monochrome,
			ChromaSubsamplingX:               c.ChromaSubsamplingX,
			ChromaSubsamplingY:               c.ChromaSubsamplingY,
			ChromaSamplePosition:             c.ChromaSamplePosition,
			InitialPresentationDelayPresent:  c.InitialPresentationDelayPresent,
			InitialPresentationDelayMinusOne: c.InitialPresentationDelayMinusOne,
			ConfigOBUs:                       c.ConfigOBUs,
		},
	}, nil
}

func decodeOpus(body []byte) (SampleEntry, error) {
	a, err := decodeAudioFixed(body)
	if err != nil {
		return SampleEntry{}, err
	}
	children, err := IterateChildren(body[audioFixedSize:], 0)
	if err != nil {
		return SampleEntry{}, err
	}
	btrt, err := decodeOptionalBtrt(children)
	if err != nil {
		return SampleEntry{}, err
	}
	dOpsBody, ok := FindChild(children, fourCC("dOps"))
	if !ok {
		return SampleEntry{}, mp4err.New(mp4err.InvalidData, "Opus: missing dOps")
	}
	d, err := DecodeDOps(dOpsBody)
	if err != nil {
		return SampleEntry{}, err
	}
	return SampleEntry{
		Kind: KindOPUS,
		Btrt: btrt,
		OPUS: &OpusParams{
			ChannelCount:    d.ChannelCount,
			SampleRate:      uint16(a.SampleRate >> 16),
			SampleSize:      a.SampleSize,
			PreSkip:         d.PreSkip,
			InputSampleRate: d.InputSampleRate,
			OutputGain:      d.OutputGain,
		},
	}, nil
}

func decodeMP4A(body []byte) (SampleEntry, error) {
	a, err := decodeAudioFixed(body)
	if err != nil {
		return SampleEntry{}, err
	}
	children, err := IterateChildren(body[audioFixedSize:], 0)
	if err != nil {
		return SampleEntry{}, err
	}
	btrt, err := decodeOptionalBtrt(children)
	if err != nil {
		return SampleEntry{}, err
	}
	esdsBody, ok := FindChild(children, fourCC("esds"))
	if !ok {
		return SampleEntry{}, mp4err.New(mp4err.InvalidData, "mp4a: missing esds")
	}
	esds, err := DecodeEsdsBox(esdsBody)
	if err != nil {
		return SampleEntry{}, err
	}
	dc := esds.Descriptor.DecoderConfig
	return SampleEntry{
		Kind: KindMP4A,
		Btrt: btrt,
		MP4A: &MP4AParams{
			ChannelCount:    uint8(a.ChannelCount),
			SampleRate:      a.SampleRate >> 16,
			SampleSize:      a.SampleSize,
			BufferSizeDB:    dc.BufferSizeDB,
			MaxBitrate:      dc.MaxBitrate,
			AvgBitrate:      dc.AvgBitrate,
			DecSpecificInfo: dc.DecSpecificInfo.Data,
		},
	}, nil
}
