package control

import (
	"encoding/json"
	"fmt"
	"runtime"

	"murmur/internal/capture"
	"murmur/internal/config"

	"github.com/spf13/cobra"
)

// NewMicCmd groups mic subcommands.
func NewMicCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mic",
		Aliases: []string{"microphone", "mics"},
		Short:   "Microphone management",
	}
	cmd.AddCommand(newMicListCmd(cfgPath))
	cmd.AddCommand(newMicSetCmd(cfgPath))
	return cmd
}

func newMicListCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available microphones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			devs, err := capture.ListInputDevices()
			if err != nil {
				// ffmpeg enumerates devices itself; point at the right invocation.
				_, _ = fmt.Fprintf(out, "%v\n", err)
				_, _ = fmt.Fprintf(out, "ffmpeg devices: %s\n", ffmpegListHint(cfg))
				return nil
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(out).Encode(devs)
			}
			for _, m := range devs {
				defMark := ""
				if m.Default {
					defMark = " (default)"
				}
				_, _ = fmt.Fprintf(out, "[%d] %s%s (in %d ch, latency %.2fms)\n", m.Index, m.Name, defMark, m.Channels, m.LatencyMs)
			}
			if runtime.GOOS == "darwin" && len(devs) == 0 {
				_, _ = fmt.Fprintln(out, "tip: if no devices appear, install PortAudio: brew install portaudio")
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func ffmpegListHint(cfg *config.Config) string {
	switch cfg.Capture.InputFormat {
	case "avfoundation":
		return cfg.Capture.FFmpegPath + ` -f avfoundation -list_devices true -i ""`
	case "dshow":
		return cfg.Capture.FFmpegPath + " -list_devices true -f dshow -i dummy"
	case "pulse":
		return "pactl list short sources"
	case "alsa":
		return "arecord -l"
	default:
		return cfg.Capture.FFmpegPath + " -sources " + cfg.Capture.InputFormat
	}
}

func newMicSetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Set microphone device name in config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			cfg.Capture.DeviceName = args[0]
			if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
				return err
			}
			cmd.Printf("mic set to %q in %s\n", args[0], cfg.Paths.ConfigPath)
			return nil
		},
	}
}
