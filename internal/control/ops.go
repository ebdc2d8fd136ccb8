package control

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"murmur/internal/config"

	"github.com/spf13/cobra"
)

const dialTimeout = 2 * time.Second

// Call sends one request to the daemon socket and decodes the reply into out.
func Call(socketPath, op string, out any) error {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return fmt.Errorf("cannot connect to daemon (is it running? try: murmur start): %w", err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(Request{Op: op}); err != nil {
		return err
	}
	if err := json.NewDecoder(conn).Decode(out); err != nil {
		return fmt.Errorf("read daemon reply: %w", err)
	}
	return nil
}

// newOpCmd wraps a daemon op that answers with a SimpleResponse.
func newOpCmd(cfgPath *string, use, op, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var resp SimpleResponse
			if err := Call(cfg.Paths.SocketPath, op, &resp); err != nil {
				return err
			}
			if !resp.OK {
				return fmt.Errorf("%s failed: %s", op, resp.Message)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return nil
		},
	}
}

// NewToggleCmd starts a recording in the daemon, or stops the active one.
func NewToggleCmd(cfgPath *string) *cobra.Command {
	return newOpCmd(cfgPath, "toggle", "toggle", "Start or stop a daemon recording (bind to a hotkey)")
}

// NewStartRecordingCmd starts a daemon recording.
func NewStartRecordingCmd(cfgPath *string) *cobra.Command {
	return newOpCmd(cfgPath, "start-recording", "start", "Start a daemon recording")
}

// NewStopRecordingCmd stops the daemon recording and uploads it.
func NewStopRecordingCmd(cfgPath *string) *cobra.Command {
	return newOpCmd(cfgPath, "stop-recording", "stop", "Stop the daemon recording and upload it")
}

// NewHealthCmd pings the control socket.
func NewHealthCmd(cfgPath *string) *cobra.Command {
	return newOpCmd(cfgPath, "health", "health", "Control-socket liveness ping")
}
