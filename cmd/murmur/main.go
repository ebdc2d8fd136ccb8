package main

import (
	"fmt"
	"os"

	"murmur/internal/control"
	"murmur/internal/daemon"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root := &cobra.Command{
		Use:   "murmur",
		Short: "Murmur — record a voice memo, upload it, get the transcript",
		Long: `Murmur records your mic, packages the audio as one file, uploads it to a
transcription endpoint (default: http://localhost:8000/api/upload) and prints
the transcript. Run it once in the foreground, or as a daemon you toggle
from a hotkey.

Key commands:
  record [--save f]         Record until Enter, upload, print transcript
  upload <file>             Upload an existing recording
  start|stop|restart        Daemon lifecycle
  toggle                    Start/stop a daemon recording
  status [--json]           State, last error, recent transcripts
  history                   Transcript history
  mic list|set              Select microphone (alias: microphone, mics)
  doctor                    Check ffmpeg/portaudio, endpoint, hook
  service install|uninstall|status   launchd helper (macOS)

Notable flags/env:
  --endpoint <url>          Upload endpoint for this run
  --metrics-addr <addr>     Enable /metrics (Prometheus text)
  Env overrides: MURMUR_ENDPOINT, MURMUR_UPLOAD_PROVIDER,
                 MURMUR_CAPTURE_BACKEND, MURMUR_METRICS_ADDR,
                 MURMUR_LOG_LEVEL/FORMAT, MURMUR_TRANSCRIPTS_ENABLED,
                 MURMUR_REDACT_PII, OPENAI_API_KEY`,
		Example: `  murmur record
  murmur record --max-duration 2m --save memo.webm
  murmur upload memo.webm --json
  murmur start --metrics-addr 127.0.0.1:9318
  murmur toggle
  murmur mic set "MacBook Pro Microphone"
  murmur service install --env MURMUR_ENDPOINT=http://localhost:8000/api/upload`,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		SilenceErrors:         true,
	}

	root.Version = version
	root.SetVersionTemplate("Murmur v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/murmur/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(control.NewRecordCmd(cfgPath))
	root.AddCommand(control.NewUploadCmd(cfgPath))
	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(control.NewToggleCmd(cfgPath))
	root.AddCommand(control.NewStartRecordingCmd(cfgPath))
	root.AddCommand(control.NewStopRecordingCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewHealthCmd(cfgPath))
	root.AddCommand(control.NewHistoryCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewMicCmd(cfgPath))
	root.AddCommand(control.NewTestHookCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewServiceCmd(cfgPath))

	// Hidden internal serve command used by start and launchd.
	root.AddCommand(daemon.NewServeCmd(cfgPath))

	applyColorHelp(root)

	if err := root.Execute(); err != nil {
		return err
	}
	return nil
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldBlue = "\033[1;34m"
		green    = "\033[32m"
		bold     = "\033[1m"
		dim      = "\033[2m"
		reset    = "\033[0m"
	)
	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			defaultHelp(cmd, args)
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%sMurmur%s — voice memo recorder and transcript uploader %s(v%s)%s\n", boldBlue, reset, dim, version, reset)
		write("%sRecords the mic, uploads one audio file, prints the transcript.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  murmur [command] [flags]\n\n")

		write("%sKey commands%s\n", bold, reset)
		writeln("  record [--save f]           record until Enter, upload, print transcript")
		writeln("  upload <file>               upload an existing recording")
		writeln("  start|stop|restart          daemon lifecycle")
		writeln("  toggle                      start/stop a daemon recording (hotkey)")
		writeln("  status [--json]             state, last error, recent transcripts")
		writeln("  history                     transcript history")
		writeln("  mic list|set                select input device (alias: microphone, mics)")
		writeln("  doctor                      check ffmpeg/portaudio, endpoint, hook")
		writeln("  service install|uninstall|status manage launchd plist (macOS)")
		writeln("")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --endpoint <url>        upload endpoint for this run")
		writeln("  --metrics-addr <addr>   enable /metrics (Prometheus)")
		writeln("  -c, --config <path>     config file (default ~/.config/murmur/config.toml)")
		writeln("  Env: MURMUR_ENDPOINT=url, MURMUR_CAPTURE_BACKEND=ffmpeg|portaudio,")
		writeln("       MURMUR_UPLOAD_PROVIDER=endpoint|openai, OPENAI_API_KEY=...,")
		writeln("       MURMUR_LOG_LEVEL=debug, MURMUR_LOG_FORMAT=json, MURMUR_REDACT_PII=1")
		writeln("")

		write("%sExamples%s\n", bold, reset)
		writeln("  murmur record")
		writeln("  murmur record --max-duration 2m --save memo.webm")
		writeln("  murmur upload memo.webm --json")
		writeln("  murmur start --metrics-addr 127.0.0.1:9318")
		writeln("  murmur toggle")
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-16s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}
