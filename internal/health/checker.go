// Package health probes a freshly running instance for readiness: SSH
// reachability, container-runtime liveness and GPU presence, plus an
// optional HTTPS check of the inference service itself. Boot and daemon
// start-up lag behind instance-running status, so failures inside the
// grace period are retried with backoff, not surfaced.
package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/remote"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/retry"
)

// Probe names reported on failure so the operator knows which layer broke
const (
	ProbeSSH         = "ssh"
	ProbeRuntime     = "runtime"
	ProbeAccelerator = "accelerator"
)

// Snapshot is a point-in-time readiness result. ServiceReady is nil when
// the service probe is disabled.
type Snapshot struct {
	SSHReachable        bool      `json:"ssh_reachable"`
	RuntimeReady        bool      `json:"runtime_ready"`
	AcceleratorDetected bool      `json:"accelerator_detected"`
	ServiceReady        *bool     `json:"service_ready,omitempty"`
	CheckedAt           time.Time `json:"checked_at"`
}

// Healthy reports whether the three core probes all passed
func (s Snapshot) Healthy() bool {
	return s.SSHReachable && s.RuntimeReady && s.AcceleratorDetected
}

// ProbeError reports which probe failed and why
type ProbeError struct {
	Probe string
	Err   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("health probe %q failed: %v", e.Probe, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Runner executes probe commands on the instance
type Runner interface {
	Output(command string) (string, error)
	Close() error
}

// Config parameterizes a Checker
type Config struct {
	User           string
	PrivateKeyPath string
	DialTimeout    time.Duration

	// Grace bounds the retry loop; instance boot can take minutes.
	Grace retry.Policy

	// ServicePort enables the HTTPS readiness probe of the inference
	// service when non-zero.
	ServicePort int
}

// Checker performs readiness probes against an instance address
type Checker struct {
	cfg  Config
	dial func(remote.Config) (Runner, error)
	http *retryablehttp.Client
}

// New creates a Checker
func New(cfg Config) *Checker {
	if cfg.Grace.MaxAttempts == 0 {
		cfg.Grace = retry.Policy{MaxAttempts: 20, BaseDelay: 5 * time.Second, MaxDelay: 20 * time.Second}
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 15 * time.Second
	}

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 2
	httpClient.HTTPClient.Timeout = 10 * time.Second
	// The inference service serves a self-signed certificate.
	httpClient.HTTPClient.Transport = &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	httpClient.Logger = nil

	return &Checker{
		cfg: cfg,
		dial: func(rc remote.Config) (Runner, error) {
			return remote.Dial(rc)
		},
		http: httpClient,
	}
}

// Probe runs the full probe sequence against addr, retrying failures with
// backoff until the grace ceiling. The returned snapshot is the last
// attempt's; on failure the error identifies the failing probe.
func (c *Checker) Probe(ctx context.Context, addr string) (Snapshot, error) {
	return c.probe(ctx, addr, c.cfg.Grace)
}

// ProbeOnce runs a single probe attempt with no grace retries; used by
// read-only status reporting where minutes-long waits are unacceptable.
func (c *Checker) ProbeOnce(ctx context.Context, addr string) (Snapshot, error) {
	return c.probe(ctx, addr, retry.Policy{MaxAttempts: 1})
}

func (c *Checker) probe(ctx context.Context, addr string, policy retry.Policy) (Snapshot, error) {
	var snap Snapshot
	var probeErr *ProbeError

	err := policy.Do(ctx, func(ctx context.Context) (bool, error) {
		snap, probeErr = c.attempt(addr)
		if probeErr != nil {
			return false, probeErr
		}
		return true, nil
	})
	if err != nil {
		if probeErr != nil {
			return snap, fmt.Errorf("health check did not pass within grace period: %w", probeErr)
		}
		return snap, err
	}

	if c.cfg.ServicePort > 0 {
		ready := c.serviceReady(ctx, addr)
		snap.ServiceReady = &ready
	}
	return snap, nil
}

// attempt runs the three core probes sequentially, short-circuiting on the
// first failure. Each remote command carries its own bounded timeout.
func (c *Checker) attempt(addr string) (Snapshot, *ProbeError) {
	snap := Snapshot{CheckedAt: time.Now().UTC()}

	runner, err := c.dial(remote.Config{
		Host:           addr,
		User:           c.cfg.User,
		PrivateKeyPath: c.cfg.PrivateKeyPath,
		DialTimeout:    c.cfg.DialTimeout,
	})
	if err != nil {
		return snap, &ProbeError{Probe: ProbeSSH, Err: err}
	}
	defer runner.Close()

	out, err := runner.Output("echo ok")
	if err != nil || !strings.Contains(out, "ok") {
		if err == nil {
			err = fmt.Errorf("unexpected echo output %q", out)
		}
		return snap, &ProbeError{Probe: ProbeSSH, Err: err}
	}
	snap.SSHReachable = true

	if _, err := runner.Output("timeout 10 docker info --format '{{.ServerVersion}}'"); err != nil {
		return snap, &ProbeError{Probe: ProbeRuntime, Err: err}
	}
	snap.RuntimeReady = true

	out, err = runner.Output("timeout 10 nvidia-smi -L")
	if err != nil {
		return snap, &ProbeError{Probe: ProbeAccelerator, Err: err}
	}
	if !strings.Contains(out, "GPU ") {
		return snap, &ProbeError{
			Probe: ProbeAccelerator,
			Err:   fmt.Errorf("no GPU devices reported: %s", strings.TrimSpace(out)),
		}
	}
	snap.AcceleratorDetected = true

	return snap, nil
}

// serviceReady checks the inference service health endpoint. The service
// loads its model asynchronously after boot, so a negative answer is
// recorded, not fatal.
func (c *Checker) serviceReady(ctx context.Context, addr string) bool {
	url := fmt.Sprintf("https://%s:%d/health", addr, c.cfg.ServicePort)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
