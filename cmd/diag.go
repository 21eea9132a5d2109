package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/config"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/logging"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/remote"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/sshkey"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

var diagOutput string

// diagCmd represents the diag command
var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Fetch the inference service log from the instance",
	Long: `Download the inference service log file from the managed instance
over SFTP for local inspection. Requires a recorded instance with a
public address; run status first if unsure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("%w: %v", errSetup, err)
		}
		store, err := state.NewStore(cfg.StateDir)
		if err != nil {
			return fmt.Errorf("%w: %v", errSetup, err)
		}

		rec, err := store.Instance()
		if err != nil {
			return err
		}
		if !rec.Exists() || rec.PublicAddress == "" {
			return fmt.Errorf("%w with a reachable address", errNoInstance)
		}

		out := diagOutput
		if out == "" {
			out = filepath.Base(cfg.ServiceLogPath)
		}

		logging.Logger().Info("downloading service log",
			zap.String("host", rec.PublicAddress),
			zap.String("remote_path", cfg.ServiceLogPath),
			zap.String("local_path", out))

		ctl, err := remote.Dial(remote.Config{
			Host:           rec.PublicAddress,
			User:           cfg.SSHUser,
			PrivateKeyPath: sshkey.PrivatePath(cfg.SSHKeyDir),
			DialTimeout:    15 * time.Second,
		})
		if err != nil {
			return err
		}
		defer ctl.Close()

		if err := ctl.Download(cfg.ServiceLogPath, out); err != nil {
			return err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Saved %s\n", out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(diagCmd)

	diagCmd.Flags().StringVarP(&diagOutput, "output", "o", "", "Local path for the downloaded log")
}
