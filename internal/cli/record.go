package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dgnsrekt/flowcapture/internal/recording"
)

var recordReq recording.Request

var recordCmd = &cobra.Command{
	Use:   "record <url>",
	Short: "Record one prototype and exit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		eng, err := buildEngine(cfg)
		if err != nil {
			return err
		}
		defer eng.manager.Shutdown()

		recordReq.URL = args[0]
		if recordReq.FrameRate == 0 {
			recordReq.FrameRate = cfg.DefaultFrameRate
		}

		job := eng.recorder.NewJob(recordReq)

		// Ctrl-C stops capture cleanly instead of killing the process with
		// a half-written recording on disk.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			slog.Info("interrupt received, stopping capture")
			job.Stop(cmd.Context())
		}()

		result := job.Run(cmd.Context())
		signal.Stop(sigCh)

		if !result.Success {
			return fmt.Errorf("recording failed: %s", result.Error)
		}
		fmt.Printf("recorded %s\n", result.OutputPath)
		fmt.Printf("elapsed: %.1fs", result.ElapsedSeconds)
		if result.SampleCount > 0 {
			fmt.Printf(", frames: %d", result.SampleCount)
		}
		fmt.Printf(", resolution: %dx%d\n",
			result.AchievedResolution.Width, result.AchievedResolution.Height)
		return nil
	},
}

func init() {
	f := recordCmd.Flags()
	f.StringVar(&recordReq.Mode, "mode", recording.ModeContinuous, "capture mode: continuous or sampled")
	f.StringVar(&recordReq.StopPolicy, "stop", recording.StopTimer, "stop policy: timer, manual or heuristic-auto-detect")
	f.Float64Var(&recordReq.Duration, "duration", 10, "recording duration in seconds (timer policy)")
	f.IntVar(&recordReq.FrameRate, "fps", 0, "frames per second (sampled mode)")
	f.IntVar(&recordReq.Width, "width", 0, "output width (0 = auto)")
	f.IntVar(&recordReq.Height, "height", 0, "output height (0 = auto)")
	f.StringVar(&recordReq.Format, "format", recording.FormatMP4, "output format: mp4 or webm")
	f.StringVar(&recordReq.Quality, "quality", recording.QualityMedium, "encode quality: high, medium or low")
	f.BoolVar(&recordReq.WaitForCanvas, "wait-for-canvas", false, "wait for a render surface before capturing")
	f.StringToStringVar(&recordReq.Scaling, "scaling", nil, "display-scaling query parameters appended to the URL")
}
