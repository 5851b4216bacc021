package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mp4core/pkg/cache"
	"mp4core/pkg/demux"
	"mp4core/pkg/log"
	"mp4core/pkg/mp4"
	"mp4core/pkg/mux"
)

var remuxCmd = &cobra.Command{
	Use:   "remux <in.mp4> <out.mp4>",
	Short: "Demux a file and mux it back out, rebuilding moov from scratch",
	Args:  cobra.ExactArgs(2),
	RunE:  runRemux,
}

func runRemux(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	logger, closeLogger, err := openLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogger()

	sessionID := log.NewSessionID()
	logger.Info().Src("mp4tool").Session(sessionID).Msgf("remuxing %v -> %v", args[0], args[1])

	in, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("could not open %v: %w", args[0], err)
	}
	defer in.Close()

	var stblCache *cache.Cache
	if cacheFlag != "" {
		stblCache, err = cache.Open(cacheFlag)
		if err != nil {
			return err
		}
		defer stblCache.Close()
	}

	tracks, err := demuxFile(in, stblCache)
	if err != nil {
		logger.Error().Src("mp4tool").Session(sessionID).Msgf("demux failed: %v", err)
		return err
	}

	out, err := os.Create(args[1])
	if err != nil {
		return fmt.Errorf("could not create %v: %w", args[1], err)
	}
	defer out.Close()

	reservedMoov := cfg.ReservedMoovSize
	if reservedMoovOpt != 0 {
		reservedMoov = uint64(reservedMoovOpt)
	}
	if !cfg.Faststart {
		reservedMoov = 0
	}
	m := mux.NewMuxer(mux.Config{
		ReservedMoovSize:        reservedMoov,
		CreationTimestampMicros: cfg.CreationTimestampMicros,
	})

	if err := remuxTracks(m, tracks, in, out); err != nil {
		logger.Error().Src("mp4tool").Session(sessionID).Msgf("remux failed: %v", err)
		return err
	}

	logger.Info().Src("mp4tool").Session(sessionID).Msg("remux complete")
	return nil
}

// remuxTracks reads each sample's payload out of the source file's mdat
// and re-appends it to m, draining m's pending output to dst after every
// call.
func remuxTracks(m *mux.Muxer, tracks []*demux.Track, src *os.File, dst *os.File) error {
	if err := m.Initialize(); err != nil {
		return err
	}
	if err := drain(m, dst); err != nil {
		return err
	}

	cursors := make([]int, len(tracks))
	for {
		trackIdx := -1
		var bestDTS uint64
		for i, t := range tracks {
			if cursors[i] >= len(t.Samples) {
				continue
			}
			dts := t.Samples[cursors[i]].DTS * 1_000_000 / uint64(t.Timescale)
			if trackIdx == -1 || dts < bestDTS {
				trackIdx, bestDTS = i, dts
			}
		}
		if trackIdx == -1 {
			break
		}

		t := tracks[trackIdx]
		idx := cursors[trackIdx]
		s := t.Samples[idx]
		cursors[trackIdx]++

		payload := make([]byte, s.Size)
		if _, err := src.ReadAt(payload, int64(s.FileOffset)); err != nil {
			return fmt.Errorf("read sample payload: %w", err)
		}

		// AppendSample only records metadata; the muxer leaves writing the
		// sample payload itself to the caller, so it never copies large
		// buffers through its own pending-output queue.
		dataOffset := m.NextDataOffset()
		if _, err := dst.WriteAt(payload, int64(dataOffset)); err != nil {
			return fmt.Errorf("write sample payload: %w", err)
		}
		if err := appendRemuxedSample(m, t, s, dataOffset); err != nil {
			return err
		}
		if err := drain(m, dst); err != nil {
			return err
		}
	}

	if err := m.Finalize(); err != nil {
		return err
	}
	return drain(m, dst)
}

// appendRemuxedSample re-appends one decoded sample's payload, passing its
// interned SampleEntry on every call; Muxer's internEntry dedups entries
// by structural equality, so no "first sample of a track" bookkeeping is
// needed here.
func appendRemuxedSample(m *mux.Muxer, t *demux.Track, s mp4.Sample, dataOffset uint64) error {
	entry := t.Entries[s.EntryIndex]
	durationMicros := uint64(s.Duration) * 1_000_000 / uint64(t.Timescale)
	return m.AppendSample(mux.Sample{
		TrackID:        t.ID,
		SampleEntry:    &entry,
		DataOffset:     dataOffset,
		DataSize:       s.Size,
		DurationMicros: durationMicros,
		IsSync:         s.IsSync,
	})
}

func drain(m *mux.Muxer, dst *os.File) error {
	for {
		offset, data := m.NextOutput()
		if data == nil {
			return nil
		}
		if _, err := dst.WriteAt(data, int64(offset)); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}
