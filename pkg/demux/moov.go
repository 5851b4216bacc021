package demux

import (
	"mp4core/pkg/cache"
	"mp4core/pkg/mp4"
	"mp4core/pkg/mp4err"
)

var (
	typeTrak = mp4.BoxType{'t', 'r', 'a', 'k'}
	typeTkhd = mp4.BoxType{'t', 'k', 'h', 'd'}
	typeMdia = mp4.BoxType{'m', 'd', 'i', 'a'}
	typeMdhd = mp4.BoxType{'m', 'd', 'h', 'd'}
	typeHdlr = mp4.BoxType{'h', 'd', 'l', 'r'}
	typeMinf = mp4.BoxType{'m', 'i', 'n', 'f'}
	typeStbl = mp4.BoxType{'s', 't', 'b', 'l'}
	typeStsd = mp4.BoxType{'s', 't', 's', 'd'}
	typeStts = mp4.BoxType{'s', 't', 't', 's'}
	typeCtts = mp4.BoxType{'c', 't', 't', 's'}
	typeStsc = mp4.BoxType{'s', 't', 's', 'c'}
	typeStsz = mp4.BoxType{'s', 't', 's', 'z'}
	typeStco = mp4.BoxType{'s', 't', 'c', 'o'}
	typeCo64 = mp4.BoxType{'c', 'o', '6', '4'}
	typeStss = mp4.BoxType{'s', 't', 's', 's'}

	handlerVideo = [4]byte{'v', 'i', 'd', 'e'}
	handlerAudio = [4]byte{'s', 'o', 'u', 'n'}
)

// buildTracks parses a moov body (bytes right after the moov header) into
// the demuxer's Track list: walk every trak, decode its headers and stsd,
// then expand stbl into the flat sample index. stblCache,
// if non-nil, is consulted and populated so repeated demuxes of an
// identical stbl skip the stsc/stts/ctts expansion.
func buildTracks(moovBody []byte, offset int64, stblCache *cache.Cache) ([]*Track, error) {
	children, err := mp4.IterateChildren(moovBody, offset)
	if err != nil {
		return nil, err
	}

	var tracks []*Track
	for _, c := range children {
		if c.Type != typeTrak {
			continue
		}
		t, err := buildTrack(c.Body, stblCache)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func buildTrack(trakBody []byte, stblCache *cache.Cache) (*Track, error) {
	children, err := mp4.IterateChildren(trakBody, 0)
	if err != nil {
		return nil, err
	}

	tkhdBody, ok := mp4.FindChild(children, typeTkhd)
	if !ok {
		return nil, mp4err.New(mp4err.InvalidData, "trak: missing tkhd")
	}
	tkhd, err := mp4.DecodeTkhd(tkhdBody)
	if err != nil {
		return nil, err
	}

	mdiaBody, ok := mp4.FindChild(children, typeMdia)
	if !ok {
		return nil, mp4err.New(mp4err.InvalidData, "trak: missing mdia")
	}
	mdiaChildren, err := mp4.IterateChildren(mdiaBody, 0)
	if err != nil {
		return nil, err
	}

	mdhdBody, ok := mp4.FindChild(mdiaChildren, typeMdhd)
	if !ok {
		return nil, mp4err.New(mp4err.InvalidData, "mdia: missing mdhd")
	}
	mdhd, err := mp4.DecodeMdhd(mdhdBody)
	if err != nil {
		return nil, err
	}

	hdlrBody, ok := mp4.FindChild(mdiaChildren, typeHdlr)
	if !ok {
		return nil, mp4err.New(mp4err.InvalidData, "mdia: missing hdlr")
	}
	hdlr, err := mp4.DecodeHdlr(hdlrBody)
	if err != nil {
		return nil, err
	}

	minfBody, ok := mp4.FindChild(mdiaChildren, typeMinf)
	if !ok {
		return nil, mp4err.New(mp4err.InvalidData, "mdia: missing minf")
	}
	minfChildren, err := mp4.IterateChildren(minfBody, 0)
	if err != nil {
		return nil, err
	}

	stblBody, ok := mp4.FindChild(minfChildren, typeStbl)
	if !ok {
		return nil, mp4err.New(mp4err.InvalidData, "minf: missing stbl")
	}
	entries, samples, err := decodeStbl(stblBody, stblCache)
	if err != nil {
		return nil, err
	}

	kind := KindVideo
	switch hdlr.HandlerType {
	case handlerVideo:
		kind = KindVideo
	case handlerAudio:
		kind = KindAudio
	default:
		return nil, mp4err.Newf(mp4err.Unsupported, "hdlr: unsupported handler_type %q", string(hdlr.HandlerType[:]))
	}

	duration := uint64(mdhd.DurationV0)
	if mdhd.Version == 1 {
		duration = mdhd.DurationV1
	}

	var sampleDur uint64
	for _, smp := range samples {
		sampleDur += uint64(smp.Duration)
	}
	if sampleDur != duration {
		return nil, mp4err.Newf(mp4err.InvalidData,
			"trak %d: mdhd duration %d does not match the sample duration sum %d",
			tkhd.TrackID, duration, sampleDur)
	}

	return &Track{
		ID:        tkhd.TrackID,
		Kind:      kind,
		Timescale: mdhd.Timescale,
		Duration:  duration,
		Entries:   entries,
		Samples:   samples,
	}, nil
}

func decodeStbl(stblBody []byte, stblCache *cache.Cache) ([]mp4.SampleEntry, []mp4.Sample, error) {
	children, err := mp4.IterateChildren(stblBody, 0)
	if err != nil {
		return nil, nil, err
	}

	stsdBody, ok := mp4.FindChild(children, typeStsd)
	if !ok {
		return nil, nil, mp4err.New(mp4err.InvalidData, "stbl: missing stsd")
	}
	entries, err := mp4.DecodeStsdEntries(stsdBody, 0)
	if err != nil {
		return nil, nil, err
	}

	var cacheKey cache.Key
	if stblCache != nil {
		cacheKey = cache.DigestStbl(stblBody)
		if samples, hit, err := stblCache.Get(cacheKey); err == nil && hit {
			if err := checkEntryIndexes(entries, samples); err != nil {
				return nil, nil, err
			}
			return entries, samples, nil
		}
	}

	sttsBody, ok := mp4.FindChild(children, typeStts)
	if !ok {
		return nil, nil, mp4err.New(mp4err.InvalidData, "stbl: missing stts")
	}
	stts, err := mp4.DecodeStts(sttsBody)
	if err != nil {
		return nil, nil, err
	}

	var cttsEntries []mp4.CttsEntry
	var cttsVersion uint8
	if cttsBody, ok := mp4.FindChild(children, typeCtts); ok {
		ctts, err := mp4.DecodeCtts(cttsBody)
		if err != nil {
			return nil, nil, err
		}
		cttsEntries = ctts.Entries
		cttsVersion = ctts.Version
	}

	stscBody, ok := mp4.FindChild(children, typeStsc)
	if !ok {
		return nil, nil, mp4err.New(mp4err.InvalidData, "stbl: missing stsc")
	}
	stsc, err := mp4.DecodeStsc(stscBody)
	if err != nil {
		return nil, nil, err
	}

	stszBody, ok := mp4.FindChild(children, typeStsz)
	if !ok {
		return nil, nil, mp4err.New(mp4err.InvalidData, "stbl: missing stsz")
	}
	stsz, err := mp4.DecodeStsz(stszBody)
	if err != nil {
		return nil, nil, err
	}

	var chunkOffsets []uint64
	if co64Body, ok := mp4.FindChild(children, typeCo64); ok {
		co64, err := mp4.DecodeCo64(co64Body)
		if err != nil {
			return nil, nil, err
		}
		chunkOffsets = co64.ChunkOffsets
	} else {
		stcoBody, ok := mp4.FindChild(children, typeStco)
		if !ok {
			return nil, nil, mp4err.New(mp4err.InvalidData, "stbl: missing stco/co64")
		}
		stco, err := mp4.DecodeStco(stcoBody)
		if err != nil {
			return nil, nil, err
		}
		chunkOffsets = make([]uint64, len(stco.ChunkOffsets))
		for i, v := range stco.ChunkOffsets {
			chunkOffsets[i] = uint64(v)
		}
	}

	var syncSamples []uint32
	if stssBody, ok := mp4.FindChild(children, typeStss); ok {
		stss, err := mp4.DecodeStss(stssBody)
		if err != nil {
			return nil, nil, err
		}
		syncSamples = stss.SampleNumbers
	}

	raw := mp4.RawSampleTable{
		SttsEntries:  stts.Entries,
		CttsEntries:  cttsEntries,
		CttsVersion:  cttsVersion,
		StscEntries:  stsc.Entries,
		SampleSize:   stsz.SampleSize,
		SampleSizes:  stsz.EntrySizes,
		SampleCount:  stsz.SampleCount,
		ChunkOffsets: chunkOffsets,
		SyncSamples:  syncSamples,
	}
	samples, err := mp4.DecodeSampleTable(raw)
	if err != nil {
		return nil, nil, err
	}
	if err := checkEntryIndexes(entries, samples); err != nil {
		return nil, nil, err
	}
	if stblCache != nil {
		_ = stblCache.Put(cacheKey, samples)
	}
	return entries, samples, nil
}

// checkEntryIndexes verifies every sample references a declared stsd entry.
// stsc carries the 1-based index straight off the wire, so a crafted
// sample_description_index would otherwise survive decode and blow up the
// first caller that dereferences the entry.
func checkEntryIndexes(entries []mp4.SampleEntry, samples []mp4.Sample) error {
	for _, smp := range samples {
		if smp.EntryIndex < 0 || smp.EntryIndex >= len(entries) {
			return mp4err.Newf(mp4err.InvalidData,
				"sample references stsd entry %d, stsd declares %d", smp.EntryIndex+1, len(entries))
		}
	}
	return nil
}
