package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"murmur/internal/capture"
	"murmur/internal/config"
	"murmur/internal/hook"
	"murmur/internal/logging"
	"murmur/internal/recorder"
	"murmur/internal/transcripts"
	"murmur/internal/upload"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRecordCmd records one memo in the foreground, uploads it and prints
// the transcript.
func NewRecordCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the mic until Enter, upload, print the transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadWithEndpoint(cmd, *cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			dev, err := capture.New(cfg, logger)
			if err != nil {
				return err
			}
			up, err := upload.New(cfg, logger)
			if err != nil {
				return err
			}
			opts := recordOptions{stopTimeout: cfg.StopTimeout()}
			opts.save, _ = cmd.Flags().GetString("save")
			opts.maxDuration, _ = cmd.Flags().GetDuration("max-duration")

			// First Enter or signal stops the recording; a second signal
			// abandons the upload.
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			stopReq := make(chan struct{})
			var once sync.Once
			requestStop := func() { once.Do(func() { close(stopReq) }) }
			sigCh := make(chan os.Signal, 2)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
				case <-ctx.Done():
					return
				}
				requestStop()
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()
			go func() {
				// stdin at EOF (no terminal) leaves stopping to signals and --max-duration
				if _, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n'); err == nil {
					requestStop()
				}
			}()

			stderr := cmd.ErrOrStderr()
			ctl := recorder.New(dev, logger)
			rec, err := recordOnce(ctx, ctl, stopReq, opts, func() {
				_, _ = fmt.Fprintf(stderr, "recording from %s... press Enter to stop\n", dev.Name())
			})
			if err != nil {
				return err
			}
			if opts.save != "" {
				_, _ = fmt.Fprintf(stderr, "saved %s\n", opts.save)
			}
			_, _ = fmt.Fprintf(stderr, "uploading %s (%d bytes)...\n", rec.Filename(), rec.Len())
			res, err := up.Upload(ctx, rec)
			if err != nil {
				return err
			}
			wantHook, _ := cmd.Flags().GetBool("hook")
			jsonOut, _ := cmd.Flags().GetBool("json")
			return finishTranscript(ctx, cmd.OutOrStdout(), cfg, logger, rec.ID(), res, jsonOut, wantHook)
		},
	}
	cmd.Flags().String("save", "", "also write the recorded audio to this path")
	cmd.Flags().Duration("max-duration", 0, "stop automatically after this long (e.g. 2m)")
	cmd.Flags().String("endpoint", "", "upload endpoint (overrides config)")
	cmd.Flags().Bool("json", false, "print the full JSON result")
	cmd.Flags().Bool("hook", false, "also send the transcript through hook.command")
	return cmd
}

type recordOptions struct {
	save        string
	maxDuration time.Duration
	stopTimeout time.Duration
}

type outcome struct {
	rec *recorder.Recording
	err error
}

// recordOnce runs a single session on ctl. It stops on stopReq, on
// maxDuration, or when ctx ends; a device that ends on its own (silence
// auto-stop, unplugged mic) completes the session early.
func recordOnce(ctx context.Context, ctl *recorder.Controller, stopReq <-chan struct{}, opts recordOptions, started func()) (*recorder.Recording, error) {
	results := make(chan outcome, 1)
	ctl.OnComplete(func(rec *recorder.Recording, err error) {
		results <- outcome{rec: rec, err: err}
	})
	if err := ctl.Start(ctx); err != nil {
		return nil, err
	}
	if started != nil {
		started()
	}

	var limit <-chan time.Time
	if opts.maxDuration > 0 {
		timer := time.NewTimer(opts.maxDuration)
		defer timer.Stop()
		limit = timer.C
	}

	var res outcome
	finished := false
	select {
	case <-stopReq:
	case <-limit:
	case <-ctx.Done():
	case res = <-results:
		finished = true
	}
	if !finished {
		if err := ctl.Stop(); err != nil && !errors.Is(err, recorder.ErrInvalidState) {
			return nil, err
		}
		// the device flushes its last chunk before the session completes
		wait := opts.stopTimeout + time.Second
		select {
		case res = <-results:
		case <-time.After(wait):
			return nil, fmt.Errorf("recording did not finalize within %s", wait)
		}
	}
	if res.err != nil {
		return nil, res.err
	}
	if opts.save != "" {
		if err := res.rec.Save(opts.save); err != nil {
			return nil, fmt.Errorf("save recording: %w", err)
		}
	}
	return res.rec, nil
}

// finishTranscript prints the result, appends it to the history file and
// optionally runs the hook.
func finishTranscript(ctx context.Context, w io.Writer, cfg *config.Config, logger *logrus.Logger, sessionID string, res *upload.Result, jsonOut, wantHook bool) error {
	text := strings.TrimSpace(res.Transcript)
	if jsonOut {
		if err := json.NewEncoder(w).Encode(res); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintln(w, text)
	}
	if cfg.Transcripts.Enabled {
		if err := transcripts.Append(cfg.Paths.TranscriptPath, transcripts.Entry{
			SessionID: sessionID,
			Text:      text,
			Timestamp: time.Now(),
		}); err != nil {
			logger.Warnf("write transcript: %v", err)
		}
	}
	if !wantHook {
		return nil
	}
	return hook.NewRunner(cfg, logger).Run(ctx, hook.Job{SessionID: sessionID, Text: text, Timestamp: time.Now()})
}

func loadWithEndpoint(cmd *cobra.Command, cfgPath string) (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if ep, _ := cmd.Flags().GetString("endpoint"); ep != "" {
		cfg.Upload.Provider = "endpoint"
		cfg.Upload.Endpoint = ep
	}
	return cfg, nil
}
