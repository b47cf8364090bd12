package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"avatarreel/internal/device"
	"avatarreel/internal/history"
	"avatarreel/internal/logging"
	"avatarreel/internal/notifications"
	"avatarreel/internal/pipeline"
	"avatarreel/internal/services"
	"avatarreel/internal/stage"
)

const defaultRecordSeconds = 25

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts pipeline.Options
	var durationSeconds int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a vertical talking-head video",
		Long: "Animate a portrait with a voice clip, replace its background, and encode a\n" +
			"1080x1920 H.264/AAC video ready for vertical feeds.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			opts.DurationSet = cmd.Flags().Changed("duration")
			opts.Duration = time.Duration(durationSeconds) * time.Second

			pc, err := pipeline.Resolve(cmd.Context(), opts, cfg, device.NewSystemProber())
			if err != nil {
				return formatRunError(err)
			}

			progress := newProgressReporter(cmd.ErrOrStderr())
			runOpts := []pipeline.Option{
				pipeline.WithNotifier(notifications.NewService(cfg)),
				pipeline.WithProgress(progress.update),
				pipeline.WithStageObserver(progress.observe),
			}
			store, err := history.Open(cfg)
			if err != nil {
				logger.Warn("run history unavailable", logging.Error(err))
			} else {
				defer store.Close()
				runOpts = append(runOpts, pipeline.WithRecorder(store))
			}

			result, err := pipeline.New(cfg, logger, runOpts...).Run(cmd.Context(), pc)
			progress.finish()
			if err != nil {
				if result.Workdir != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Intermediate files kept in %s\n", result.Workdir)
				}
				return formatRunError(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Video ready: %s\n", result.OutputPath)
			fmt.Fprintf(out, "  %d frames @ %.2f fps, %s, %s (took %s)\n",
				result.Frames,
				result.FPS,
				result.MediaDuration.Round(time.Millisecond),
				humanize.Bytes(uint64(max(result.SizeBytes, 0))),
				result.Duration.Round(time.Second),
			)
			if pc.KeepWorkdir {
				fmt.Fprintf(out, "  workdir kept at %s\n", result.Workdir)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Avatar, "avatar", "", "Portrait image (PNG or JPEG)")
	flags.StringVar(&opts.Audio, "audio", "", "Voice clip (WAV or MP3)")
	flags.BoolVar(&opts.RecordAudio, "record-audio", false, "Record the voice from the default microphone")
	flags.StringVar(&opts.Driving, "driving", "", "Driving video for liveportrait")
	flags.BoolVar(&opts.RecordWebcam, "record-webcam", false, "Record the driving video from the webcam (liveportrait)")
	flags.IntVar(&durationSeconds, "duration", defaultRecordSeconds, "Recording length in seconds (default from recording.default_duration; a webcam take beside --audio matches the voice clip)")
	flags.StringVar(&opts.Background, "bg", "", "Background image or video")
	flags.StringVar(&opts.Engine, "engine", "", "Animation engine: sadtalker or liveportrait")
	flags.StringVar(&opts.BgColor, "bg-color", "", "Hex key color for chroma-key background removal, e.g. 00ff00")
	flags.BoolVar(&opts.NoBgRemoval, "no-bg-removal", false, "Keep the animated frames unmasked")
	flags.StringVar(&opts.Device, "device", "", "Compute device: mps, cuda, or cpu (auto-detect when empty)")
	flags.StringVarP(&opts.Output, "output", "o", "", "Output video path")
	flags.BoolVar(&opts.KeepWorkdir, "keep-workdir", false, "Keep intermediate files after a successful run")
	flags.BoolVar(&opts.Overwrite, "overwrite", false, "Replace the output file if it exists")
	flags.StringVar(&opts.SadTalkerDir, "sadtalker-dir", "", "SadTalker checkout directory")
	flags.StringVar(&opts.LivePortraitDir, "liveportrait-dir", "", "LivePortrait checkout directory")

	return cmd
}

// formatRunError renders a pipeline failure as "stage <name> failed
// (<kind>): <message>: <cause>".
func formatRunError(err error) error {
	var stageErr *services.StageError
	if !errors.As(err, &stageErr) {
		return err
	}
	name := stageErr.Stage
	if name == "" {
		name = string(stage.Config)
	}
	parts := make([]string, 0, 2)
	if stageErr.Message != "" {
		parts = append(parts, stageErr.Message)
	}
	if stageErr.Cause != nil {
		parts = append(parts, stageErr.Cause.Error())
	}
	detail := strings.Join(parts, ": ")
	if detail == "" {
		detail = stageErr.Operation
	}
	return fmt.Errorf("stage %s failed (%s): %s", name, services.KindName(err), detail)
}

func displayPath(path string) string {
	if path == "" {
		return "-"
	}
	return filepath.Base(path)
}
