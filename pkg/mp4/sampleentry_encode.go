package mp4

import "mp4core/pkg/mp4err"

// BuildSampleEntry turns the tagged-union, in-memory SampleEntry model back
// into its stsd child box tree, the mirror image of decodeSampleEntry. The
// muxer calls this once per interned entry per track.
func BuildSampleEntry(e SampleEntry) (Boxes, error) {
	var b Boxes
	var err error
	switch e.Kind {
	case KindAVC1:
		b, err = buildAVC1(e.AVC1)
	case KindHEV1:
		b, err = buildHEVC(e.HEV1)
	case KindVP08:
		b, err = buildVPX(e.VP08, false)
	case KindVP09:
		b, err = buildVPX(e.VP09, true)
	case KindAV01:
		b, err = buildAV01(e.AV01)
	case KindOPUS:
		b, err = buildOpus(e.OPUS)
	case KindMP4A:
		b, err = buildMP4A(e.MP4A)
	default:
		return Boxes{}, mp4err.Newf(mp4err.InvalidInput, "unsupported sample entry kind %v", e.Kind)
	}
	if err != nil {
		return Boxes{}, err
	}
	if e.Btrt != nil {
		b.Children = append(b.Children, Boxes{Box: e.Btrt})
	}
	return b, nil
}

func avcParameterSets(nalus [][]byte) []AVCParameterSet {
	out := make([]AVCParameterSet, len(nalus))
	for i, n := range nalus {
		out[i] = AVCParameterSet{NALUnit: n}
	}
	return out
}

func buildAVC1(p *AVCParams) (Boxes, error) {
	avcC := &AvcC{
		ConfigurationVersion:     1,
		Profile:                  p.ProfileIndication,
		ProfileCompatibility:     p.ProfileCompatibility,
		Level:                    p.LevelIndication,
		LengthSizeMinusOne:       p.LengthSizeMinusOne,
		SequenceParameterSets:    avcParameterSets(p.SPS),
		PictureParameterSets:     avcParameterSets(p.PPS),
		HasChromaExtension:       p.HasChromaExtension,
		ChromaFormat:             p.ChromaFormat,
		BitDepthLumaMinus8:       p.BitDepthLumaMinus8,
		BitDepthChromaMinus8:     p.BitDepthChromaMinus8,
	}
	if err := avcC.ValidateProfile(); err != nil {
		return Boxes{}, err
	}
	avc1 := &Avc1{
		SampleEntryHeader: SampleEntryHeader{DataReferenceIndex: 1},
		Width:             p.Width,
		Height:            p.Height,
		Horizresolution:   0x00480000,
		Vertresolution:    0x00480000,
		FrameCount:        1,
		Depth:             0x0018,
		PreDefined3:       -1,
	}
	return Boxes{
		Box:      avc1,
		Children: []Boxes{{Box: avcC}},
	}, nil
}

func buildHEVC(p *HEVCParams) (Boxes, error) {
	hev1 := &Hev1{
		SampleEntryHeader:               SampleEntryHeader{DataReferenceIndex: 1},
		Width:                           p.Width,
		Height:                          p.Height,
		Depth:                           0x0018,
		GeneralProfileSpace:             p.GeneralProfileSpace,
		GeneralTierFlag:                 p.GeneralTierFlag,
		GeneralProfileIdc:               p.GeneralProfileIdc,
		GeneralProfileCompatibility:     p.GeneralProfileCompatibilityFlags,
		GeneralConstraintIndicatorFlag:  p.GeneralConstraintIndicatorFlags,
		GeneralLevelIdc:                 p.GeneralLevelIdc,
		ChromaFormatIdc:                 p.ChromaFormatIdc,
		BitDepthLumaMinus8:              p.BitDepthLumaMinus8,
		BitDepthChromaMinus8:            p.BitDepthChromaMinus8,
		MinSpatialSegmentationIdc:       p.MinSpatialSegmentationIdc,
		ParallelismType:                 p.ParallelismType,
		AvgFrameRate:                    p.AvgFrameRate,
		ConstantFrameRate:               p.ConstantFrameRate,
		NumTemporalLayers:               p.NumTemporalLayers,
		TemporalIDNested:                p.TemporalIDNested,
		LengthSizeMinusOne:              p.LengthSizeMinusOne,
		HvccBoxType:                     BoxType{'h', 'e', 'v', '1'},
	}
	if p.OutOfBand {
		hev1.HvccBoxType = BoxType{'h', 'v', 'c', '1'}
	}
	hev1.NaluArrays = make([]HEVCNaluArray, len(p.NaluArrays))
	for i, a := range p.NaluArrays {
		hev1.NaluArrays[i] = HEVCNaluArray{NaluType: a.NaluType, Nalus: a.Nalus}
	}
	hvcC := &HvcC{Entry: hev1}
	return Boxes{
		Box:      hev1,
		Children: []Boxes{{Box: hvcC}},
	}, nil
}

func buildVPX(p *VPXParams, isVP09 bool) (Boxes, error) {
	config := VpxConfig{
		Profile:                 p.Profile,
		Level:                   p.Level,
		BitDepth:                p.BitDepth,
		ChromaSubsampling:       p.ChromaSubsampling,
		VideoFullRangeFlag:      p.VideoFullRangeFlag,
		ColourPrimaries:         p.ColourPrimaries,
		TransferCharacteristics: p.TransferCharacteristics,
		MatrixCoefficients:      p.MatrixCoefficients,
		CodecInitializationData: p.CodecInitializationData,
	}
	vpcC := &VpcC{Config: config}
	common := vpxCommon{
		SampleEntryHeader: SampleEntryHeader{DataReferenceIndex: 1},
		Width:             p.Width,
		Height:            p.Height,
		Horizresolution:   0x00480000,
		Vertresolution:    0x00480000,
		FrameCount:        1,
		Depth:             0x0018,
	}
	if isVP09 {
		return Boxes{
			Box:      &Vp09{vpxCommon: common, Config: config},
			Children: []Boxes{{Box: vpcC}},
		}, nil
	}
	return Boxes{
		Box:      &Vp08{vpxCommon: common, Config: config},
		Children: []Boxes{{Box: vpcC}},
	}, nil
}

func buildAV01(p *AV1Params) (Boxes, error) {
	config := Av1Config{
		SeqProfile:                       p.SeqProfile,
		SeqLevelIdx0:                     p.SeqLevelIdx0,
		SeqTier0:                         p.SeqTier0,
		HighBitdepth:                     p.HighBitdepth,
		TwelveBit:                        p.TwelveBit,
		Monochrome:                       p.Monochrome,
		ChromaSubsamplingX:               p.ChromaSubsamplingX,
		ChromaSubsamplingY:               p.ChromaSubsamplingY,
		ChromaSamplePosition:             p.ChromaSamplePosition,
		InitialPresentationDelayPresent:  p.InitialPresentationDelayPresent,
		InitialPresentationDelayMinusOne: p.InitialPresentationDelayMinusOne,
		ConfigOBUs:                       p.ConfigOBUs,
	}
	av01 := &Av01{
		vpxCommon: vpxCommon{
			SampleEntryHeader: SampleEntryHeader{DataReferenceIndex: 1},
			Width:             p.Width,
			Height:            p.Height,
			Horizresolution:   0x00480000,
			Vertresolution:    0x00480000,
			FrameCount:        1,
			Depth:             0x0018,
		},
		Config: config,
	}
	return Boxes{
		Box:      av01,
		Children: []Boxes{{Box: &Av1C{Config: config}}},
	}, nil
}

func buildOpus(p *OpusParams) (Boxes, error) {
	opus := &Opus{
		SampleEntryHeader: SampleEntryHeader{DataReferenceIndex: 1},
		ChannelCount:      uint16(p.ChannelCount),
		SampleSize:        p.SampleSize,
		SampleRate:        uint32(p.SampleRate) << 16,
	}
	dOps := &DOps{
		ChannelCount:     p.ChannelCount,
		PreSkip:          p.PreSkip,
		InputSampleRate:  p.InputSampleRate,
		OutputGain:       p.OutputGain,
		ChannelMapFamily: 0,
	}
	return Boxes{
		Box:      opus,
		Children: []Boxes{{Box: dOps}},
	}, nil
}

func buildMP4A(p *MP4AParams) (Boxes, error) {
	mp4a := &Mp4a{
		SampleEntryHeader: SampleEntryHeader{DataReferenceIndex: 1},
		ChannelCount:      uint16(p.ChannelCount),
		SampleSize:        p.SampleSize,
		SampleRate:        p.SampleRate << 16,
	}
	esds := &Esds{
		Descriptor: ESDescriptor{
			ESID: 0,
			DecoderConfig: DecoderConfigDescriptor{
				BufferSizeDB: p.BufferSizeDB,
				MaxBitrate:   p.MaxBitrate,
				AvgBitrate:   p.AvgBitrate,
				DecSpecificInfo: DecSpecificInfo{
					Data: p.DecSpecificInfo,
				},
			},
		},
	}
	return Boxes{
		Box:      mp4a,
		Children: []Boxes{{Box: esds}},
	}, nil
}
