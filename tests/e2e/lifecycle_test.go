package e2e_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/cloud"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/config"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/health"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/lifecycle"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/lock"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/state"
)

// StubProber implements lifecycle.Prober with a fixed answer
type StubProber struct {
	Snapshot health.Snapshot
	Err      error
}

func (p *StubProber) Probe(ctx context.Context, addr string) (health.Snapshot, error) {
	return p.Snapshot, p.Err
}

func (p *StubProber) ProbeOnce(ctx context.Context, addr string) (health.Snapshot, error) {
	return p.Snapshot, p.Err
}

func healthyProber() *StubProber {
	return &StubProber{Snapshot: health.Snapshot{
		SSHReachable:        true,
		RuntimeReady:        true,
		AcceleratorDetected: true,
		CheckedAt:           time.Now().UTC(),
	}}
}

var _ = Describe("GPU instance lifecycle", func() {
	var (
		ctx    context.Context
		dir    string
		cfg    *config.Config
		store  *state.Store
		fake   *cloud.Fake
		prober *StubProber
		mgr    *lifecycle.Manager
	)

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()

		cfg = &config.Config{
			Provider:       config.ProviderAWS,
			AWS:            &config.AWSConfig{Region: "us-west-2"},
			NamePrefix:     "rnnt",
			InstanceType:   "g4dn.xlarge",
			ImageID:        "ami-0abc",
			SSHUser:        "ubuntu",
			SSHKeyDir:      dir + "/keys",
			HourlyRate:     0.526,
			StateDir:       dir,
			LockTimeoutS:   2,
			HealthCeilingS: 30,
			PollCeilingS:   30,
		}

		var err error
		store, err = state.NewStore(dir)
		Expect(err).NotTo(HaveOccurred())

		fake = cloud.NewFake()
		prober = healthyProber()
		mgr = lifecycle.New(lifecycle.Deps{
			Config: cfg,
			Store:  store,
			Cloud:  fake,
			Prober: prober,
		})
	})

	Context("deploying from nothing", func() {
		It("provisions a healthy running instance and records it", func() {
			res, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(res.State).To(Equal(state.StateRunning))
			Expect(res.Instance.InstanceID).NotTo(BeEmpty())
			Expect(res.Instance.PublicAddress).NotTo(BeEmpty())
			Expect(res.Health).NotTo(BeNil())
			Expect(res.Health.Healthy()).To(BeTrue())
			Expect(fake.RunCalls).To(Equal(1))

			snap, err := store.Lifecycle()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(state.StateRunning))

			cost, err := store.Cost()
			Expect(err).NotTo(HaveOccurred())
			Expect(cost.IntervalOpen()).To(BeTrue())
			Expect(cost.HourlyRate).To(Equal(0.526))
		})

		It("refuses a second deploy while the instance lives", func() {
			_, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = mgr.Deploy(ctx)
			Expect(err).To(MatchError(lifecycle.ErrConflict))
			Expect(fake.RunCalls).To(Equal(1))
		})

		It("reports the health failure but keeps the instance billing", func() {
			prober.Snapshot = health.Snapshot{SSHReachable: true}
			prober.Err = &health.ProbeError{Probe: health.ProbeAccelerator,
				Err: context.DeadlineExceeded}

			res, err := mgr.Deploy(ctx)
			Expect(err).To(MatchError(lifecycle.ErrHealthCheck))
			Expect(res.State).To(Equal(state.StateRunning))

			cost, err := store.Cost()
			Expect(err).NotTo(HaveOccurred())
			Expect(cost.IntervalOpen()).To(BeTrue())
		})
	})

	Context("pausing work with stop and resuming with start", func() {
		BeforeEach(func() {
			_, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("stops billing on stop and resumes on start", func() {
			stopRes, err := mgr.Stop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stopRes.State).To(Equal(state.StateStopped))
			Expect(stopRes.Instance.PublicAddress).To(BeEmpty())

			cost, err := store.Cost()
			Expect(err).NotTo(HaveOccurred())
			Expect(cost.IntervalOpen()).To(BeFalse())

			startRes, err := mgr.Start(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(startRes.State).To(Equal(state.StateRunning))
			Expect(startRes.Instance.PublicAddress).NotTo(BeEmpty())
			Expect(startRes.NoOp).To(BeFalse())

			cost, err = store.Cost()
			Expect(err).NotTo(HaveOccurred())
			Expect(cost.IntervalOpen()).To(BeTrue())
		})

		It("treats stop of a stopped instance as a no-op", func() {
			_, err := mgr.Stop(ctx)
			Expect(err).NotTo(HaveOccurred())

			res, err := mgr.Stop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.NoOp).To(BeTrue())
			Expect(fake.StopCalls).To(Equal(1))
		})

		It("treats start of a running instance as a no-op that reports health", func() {
			res, err := mgr.Start(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.NoOp).To(BeTrue())
			Expect(res.Health).NotTo(BeNil())
			Expect(fake.StartCalls).To(BeZero())
		})
	})

	Context("when the instance disappears behind our back", func() {
		BeforeEach(func() {
			_, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			fake.TerminateOutOfBand()
		})

		It("surfaces DRIFT from status instead of trusting the store", func() {
			res, err := mgr.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(state.StateDrift))

			snap, err := store.Lifecycle()
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.State).To(Equal(state.StateDrift))
		})

		It("allows a clean redeploy", func() {
			res, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(state.StateRunning))
			Expect(fake.RunCalls).To(Equal(2))
		})

		It("refuses to start what no longer exists", func() {
			_, err := mgr.Start(ctx)
			Expect(err).To(MatchError(lifecycle.ErrPreconditionNotMet))
			Expect(fake.StartCalls).To(BeZero())
		})
	})

	Context("auto", func() {
		It("deploys when nothing exists", func() {
			res, err := mgr.Auto(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(state.StateRunning))
			Expect(fake.RunCalls).To(Equal(1))
		})

		It("starts a stopped instance", func() {
			_, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			_, err = mgr.Stop(ctx)
			Expect(err).NotTo(HaveOccurred())

			res, err := mgr.Auto(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(state.StateRunning))
			Expect(fake.StartCalls).To(Equal(1))
			Expect(fake.RunCalls).To(Equal(1))
		})

		It("redeploys after an out-of-band termination", func() {
			_, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			fake.TerminateOutOfBand()

			res, err := mgr.Auto(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(state.StateRunning))
			Expect(fake.RunCalls).To(Equal(2))
		})

		It("only reports when the instance already runs", func() {
			_, err := mgr.Auto(ctx)
			Expect(err).NotTo(HaveOccurred())

			res, err := mgr.Auto(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(state.StateRunning))
			Expect(fake.RunCalls).To(Equal(1))
			Expect(fake.StartCalls).To(BeZero())
		})
	})

	Context("concurrent invocations", func() {
		It("refuses to run while another operation holds the lock", func() {
			cfg.LockTimeoutS = 0

			lease, err := lock.NewManager(store.Dir()).Acquire(time.Second)
			Expect(err).NotTo(HaveOccurred())
			defer lease.Release()

			_, err = mgr.Deploy(ctx)
			Expect(err).To(MatchError(lock.ErrBusy))
			Expect(fake.RunCalls).To(BeZero())
		})

		It("proceeds once the lock is released", func() {
			lease, err := lock.NewManager(store.Dir()).Acquire(time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(lease.Release()).To(Succeed())

			_, err = mgr.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Context("terminating", func() {
		It("destroys the instance and allows a fresh deploy", func() {
			_, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())

			res, err := mgr.Terminate(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(state.StateTerminated))
			Expect(fake.Instance()).To(BeNil())

			res, err = mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.State).To(Equal(state.StateRunning))
			Expect(fake.RunCalls).To(Equal(2))
		})

		It("is a no-op with nothing deployed", func() {
			res, err := mgr.Terminate(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.NoOp).To(BeTrue())
			Expect(fake.TerminateCalls).To(BeZero())
		})
	})

	Context("state file recovery", func() {
		It("adopts a live instance the store has no record of", func() {
			res, err := mgr.Deploy(ctx)
			Expect(err).NotTo(HaveOccurred())
			id := res.Instance.InstanceID

			Expect(store.ClearInstance()).To(Succeed())

			recovered, err := mgr.Status(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(recovered.Instance.InstanceID).To(Equal(id))
			Expect(recovered.State).To(Equal(state.StateRunning))
		})
	})
})
