package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cloud"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/config"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/health"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/lifecycle"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/lock"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/logging"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/retry"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/sshkey"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// Command-local outcomes with their own exit codes
var (
	errSetup          = errors.New("setup failed")
	errAborted        = errors.New("aborted by user")
	errNoInstance     = errors.New("no managed instance")
	errAlreadyRunning = errors.New("instance is already running")
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gpuctl",
	Short: "Manage the GPU inference instance lifecycle",
	Long: `gpuctl manages exactly one GPU cloud instance hosting the speech
recognition stack: deploy it, start and stop it between work sessions,
inspect its reconciled state, and track what it has cost so far.

Milestone events are written to stdout as JSON lines; human-readable
logs go to stderr.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and translates operation outcomes into
// process exit codes:
//
//	0  success or idempotent no-op
//	1  conflict, unmet precondition, no instance, or setup failure
//	2  start --strict found the instance already running
//	3  another operation holds the lifecycle lock
//	4  the instance runs but failed its health checks
//	5  the instance stayed in a transitional state past the ceiling
//	6  provider request failed
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	logging.Logger().Error("operation failed", zap.Error(err))
	_ = logging.Sync()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errAlreadyRunning):
		return 2
	case errors.Is(err, lock.ErrBusy):
		return 3
	case errors.Is(err, lifecycle.ErrHealthCheck):
		return 4
	case errors.Is(err, lifecycle.ErrTransientState):
		return 5
	case errors.Is(err, lifecycle.ErrConflict),
		errors.Is(err, lifecycle.ErrPreconditionNotMet),
		errors.Is(err, errNoInstance),
		errors.Is(err, errAborted),
		errors.Is(err, errSetup):
		return 1
	default:
		return 6
	}
}

// newManager assembles the lifecycle manager from configuration. Setup
// failures never touch the lock or the provider.
func newManager(ctx context.Context) (*lifecycle.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errSetup, err)
	}

	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errSetup, err)
	}

	client, err := cloud.New(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errSetup, err)
	}

	grace := retry.Policy{BaseDelay: 5 * time.Second, MaxDelay: 20 * time.Second}
	grace.MaxAttempts = int(cfg.HealthCeiling() / grace.MaxDelay)
	if grace.MaxAttempts < 3 {
		grace.MaxAttempts = 3
	}
	checker := health.New(health.Config{
		User:           cfg.SSHUser,
		PrivateKeyPath: sshkey.PrivatePath(cfg.SSHKeyDir),
		Grace:          grace,
		ServicePort:    cfg.ServicePort,
	})

	mgr := lifecycle.New(lifecycle.Deps{
		Config: cfg,
		Store:  store,
		Cloud:  client,
		Prober: checker,
	})
	return mgr, cfg, nil
}

// confirm asks the operator before a state-mutating operation unless the
// command was invoked with --yes
func confirm(cmd *cobra.Command, skip bool, prompt string) error {
	if skip {
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return errAborted
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return nil
	}
	return errAborted
}

// summarize prints the operation outcome for a human on stderr; stdout
// stays reserved for the event stream
func summarize(cmd *cobra.Command, res lifecycle.Result) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "State: %s\n", res.State)
	if res.Instance.Exists() {
		fmt.Fprintf(w, "Instance: %s (%s, %s)\n",
			res.Instance.InstanceID, res.Instance.InstanceType, res.Instance.Region)
		if res.Instance.PublicAddress != "" {
			fmt.Fprintf(w, "Address: %s\n", res.Instance.PublicAddress)
		}
	}
	if res.Health != nil {
		fmt.Fprintf(w, "Health: ssh=%t runtime=%t gpu=%t",
			res.Health.SSHReachable, res.Health.RuntimeReady, res.Health.AcceleratorDetected)
		if res.Health.ServiceReady != nil {
			fmt.Fprintf(w, " service=%t", *res.Health.ServiceReady)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Estimated cost: $%.2f (%.1fh at $%.3f/h)\n",
		res.Cost.EstimatedCost,
		float64(res.Cost.AccumulatedSeconds)/3600,
		res.Cost.HourlyRate)
}
