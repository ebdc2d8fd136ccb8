package control

import (
	"fmt"

	"murmur/internal/logging"
	"murmur/internal/upload"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// NewUploadCmd uploads an existing audio file and prints the transcript.
func NewUploadCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload an existing recording and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadWithEndpoint(cmd, *cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			f, err := upload.OpenFile(args[0])
			if err != nil {
				return err
			}
			if len(f.Bytes()) == 0 {
				return fmt.Errorf("%s is empty", args[0])
			}
			up, err := upload.New(cfg, logger)
			if err != nil {
				return err
			}
			res, err := up.Upload(cmd.Context(), f)
			if err != nil {
				return err
			}
			wantHook, _ := cmd.Flags().GetBool("hook")
			jsonOut, _ := cmd.Flags().GetBool("json")
			return finishTranscript(cmd.Context(), cmd.OutOrStdout(), cfg, logger, uuid.NewString(), res, jsonOut, wantHook)
		},
	}
	cmd.Flags().String("endpoint", "", "upload endpoint (overrides config)")
	cmd.Flags().Bool("json", false, "print the full JSON result")
	cmd.Flags().Bool("hook", false, "also send the transcript through hook.command")
	return cmd
}
