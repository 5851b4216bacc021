// Command mp4tool probes and remuxes MP4 files using mp4core's demux/mux
// engines directly, without shelling out to ffmpeg.
package main

import (
	"fmt"
	"os"

	"mp4core/utils/go/mp4tool/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
