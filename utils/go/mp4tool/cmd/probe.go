package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"mp4core/pkg/cache"
	"mp4core/pkg/demux"
	"mp4core/pkg/log"
	"mp4core/pkg/mp4"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file.mp4>",
	Short: "Print each track and sample-entry's codec parameters",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func runProbe(c *cobra.Command, args []string) error {
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
	logger.Info().Src("mp4tool").Session(sessionID).Msgf("probing %v", args[0])

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("could not open %v: %w", args[0], err)
	}
	defer f.Close()

	var stblCache *cache.Cache
	if cacheFlag != "" {
		stblCache, err = cache.Open(cacheFlag)
		if err != nil {
			return err
		}
		defer stblCache.Close()
	}

	tracks, err := demuxFile(f, stblCache)
	if err != nil {
		logger.Error().Src("mp4tool").Session(sessionID).Msgf("demux failed: %v", err)
		return err
	}

	for _, t := range tracks {
		fmt.Fprintf(c.OutOrStdout(), "Track %d: %v, timescale=%d, duration=%d, samples=%d\n",
			t.ID, t.Kind, t.Timescale, t.Duration, len(t.Samples))
		for i, e := range t.Entries {
			fmt.Fprintf(c.OutOrStdout(), "  entry %d: %v\n", i, describeEntry(e))
		}
	}
	return nil
}

func describeEntry(e mp4.SampleEntry) string {
	switch e.Kind {
	case mp4.KindAVC1:
		p := e.AVC1
		return fmt.Sprintf("%v %dx%d profile=%d level=%d", e.Kind, p.Width, p.Height, p.ProfileIndication, p.LevelIndication)
	case mp4.KindHEV1:
		p := e.HEV1
		return fmt.Sprintf("%v %dx%d profile=%d level=%d", e.Kind, p.Width, p.Height, p.GeneralProfileIdc, p.GeneralLevelIdc)
	case mp4.KindVP08:
		p := e.VP08
		return fmt.Sprintf("%v %dx%d profile=%d", e.Kind, p.Width, p.Height, p.Profile)
	case mp4.KindVP09:
		p := e.VP09
		return fmt.Sprintf("%v %dx%d profile=%d", e.Kind, p.Width, p.Height, p.Profile)
	case mp4.KindAV01:
		p := e.AV01
		return fmt.Sprintf("%v %dx%d profile=%d", e.Kind, p.Width, p.Height, p.SeqProfile)
	case mp4.KindOPUS:
		p := e.OPUS
		return fmt.Sprintf("%v %d channels @ %d Hz", e.Kind, p.ChannelCount, p.InputSampleRate)
	case mp4.KindMP4A:
		p := e.MP4A
		return fmt.Sprintf("%v %d channels @ %d Hz", e.Kind, p.ChannelCount, p.SampleRate)
	default:
		return e.Kind.String()
	}
}

// demuxFile drives a demux.Session's pull-I/O protocol against an
// *os.File, honouring GetRequiredInput's size==-1 ("read to EOF") and
// size==0 ("done") sentinels.
func demuxFile(f *os.File, stblCache *cache.Cache) ([]*demux.Track, error) {
	s := demux.NewSession()
	s.SetCache(stblCache)

	for {
		pos, size := s.GetRequiredInput()
		if size == 0 {
			break
		}
		var buf []byte
		if size < 0 {
			rest, err := io.ReadAll(io.NewSectionReader(f, pos, 1<<62))
			if err != nil {
				return nil, fmt.Errorf("read tail at %d: %w", pos, err)
			}
			buf = rest
		} else {
			buf = make([]byte, size)
			if _, err := f.ReadAt(buf, pos); err != nil {
				return nil, fmt.Errorf("read %d bytes at %d: %w", size, pos, err)
			}
		}
		if err := s.HandleInput(pos, buf); err != nil {
			return nil, err
		}
	}
	return s.GetTracks()
}

// openLogger starts a Logger writing to cfg.LogDBPath (overridden by
// --log-db), or an unpersisted mock logger printing straight to stdout
// when neither is set. The returned func cancels the background feed
// goroutine and waits for it to exit.
func openLogger(cfg config) (*log.Logger, func(), error) {
	dbPath := cfg.LogDBPath
	if logFlag != "" {
		dbPath = logFlag
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	var logger *log.Logger
	if dbPath == "" {
		logger = log.NewMockLogger()
	} else {
		l, err := log.NewLogger(dbPath, wg)
		if err != nil {
			cancel()
			return nil, nil, err
		}
		logger = l
	}
	if err := logger.Start(ctx); err != nil {
		cancel()
		return nil, nil, err
	}
	go logger.LogToStdout(ctx)

	return logger, func() {
		cancel()
		wg.Wait()
	}, nil
}
