package comparator_test

import (
	"context"
	"encoding/json"
	"time"

	"github.com/weasel/comparator/internal/comparator"
	"github.com/weasel/comparator/internal/config"
	"github.com/weasel/comparator/internal/platform"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func job(id, srcBatch, srcMessage, dstBatch, dstMessage string) platform.ComparisonJob {
	return platform.ComparisonJob{
		ID:         id,
		SrcBatch:   srcBatch,
		SrcMessage: srcMessage,
		DstBatch:   dstBatch,
		DstMessage: dstMessage,
	}
}

var _ = Describe("Service", func() {
	var (
		cfg      config.Config
		client   *fakePlatform
		loader   *fakeLoader
		logs     *observer.ObservedLogs
		undoLogs func()
	)

	BeforeEach(func() {
		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)
		undoLogs = zap.ReplaceGlobals(zap.New(core))

		cfg = config.NewDefault()
		cfg.MaxFailures = 1
		cfg.SleepInterval = 0
		cfg.StartupAttemptInterval = 20
		cfg.StartupMaxAttempts = 3

		client = newFakePlatform()
		loader = newFakeLoader()
		loader.add("b1", "m1", "alice")
		loader.add("b1", "m2", "bob")
		loader.add("b2", "m3", "carol")
	})

	AfterEach(func() {
		undoLogs()
	})

	Context("start-up", func() {
		It("succeeds on the first successful handshake", func() {
			client.handshakeFailures = 1
			srv := comparator.New(cfg, client, loader)

			Expect(srv.Start(context.TODO())).To(Succeed())
			Expect(client.handshakeCalls).To(HaveLen(2))
			Expect(srv.State()).To(Equal(comparator.StateRunning))
		})

		It("gives up after exactly the configured number of attempts", func() {
			client.handshakeFailures = -1
			srv := comparator.New(cfg, client, loader)

			err := srv.Start(context.TODO())
			Expect(err).To(MatchError(comparator.ErrHandshakeFailed))
			Expect(client.handshakeCalls).To(HaveLen(3))
			Expect(srv.State()).To(Equal(comparator.StateTerminated))

			for i := 1; i < len(client.handshakeCalls); i++ {
				gap := client.handshakeCalls[i].Sub(client.handshakeCalls[i-1])
				Expect(gap).To(BeNumerically(">=", 20*time.Millisecond))
			}
			Expect(logs.FilterMessageSnippet("attempt (3/3)").Len()).To(Equal(1))
		})

		It("makes a single attempt when only one is allowed", func() {
			client.handshakeFailures = -1
			cfg.StartupMaxAttempts = 1
			srv := comparator.New(cfg, client, loader)

			Expect(srv.Start(context.TODO())).To(MatchError(comparator.ErrHandshakeFailed))
			Expect(client.handshakeCalls).To(HaveLen(1))
		})

		It("stops waiting when the context is cancelled", func() {
			client.handshakeFailures = -1
			cfg.StartupAttemptInterval = 60000
			srv := comparator.New(cfg, client, loader)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			Expect(srv.Start(ctx)).To(MatchError(context.DeadlineExceeded))
			Expect(client.handshakeCalls).To(HaveLen(1))
			Expect(srv.State()).To(Equal(comparator.StateTerminated))
		})

		It("cannot be started twice", func() {
			srv := comparator.New(cfg, client, loader)
			Expect(srv.Start(context.TODO())).To(Succeed())
			Expect(srv.Start(context.TODO())).ToNot(Succeed())
		})
	})

	Context("single job attempt", func() {
		It("publishes both sides and the comparison", func() {
			srv := comparator.New(cfg, client, loader)

			err := srv.ProcessJobAttempt(context.TODO(), job("j1", "b1", "m1", "b1", "m2"))
			Expect(err).To(BeNil())
			Expect(client.publishedArtifactIDs()).To(Equal([]string{"m2", "m1"}))
			Expect(client.publishedComparisonIDs()).To(Equal([]string{"j1"}))

			count, avg := srv.Stats()
			Expect(count).To(Equal(uint(1)))
			Expect(avg).To(BeNumerically(">=", 0))
		})

		It("publishes an artifact once when both sides are the same message", func() {
			srv := comparator.New(cfg, client, loader)

			Expect(srv.ProcessJobAttempt(context.TODO(), job("j1", "b1", "m1", "b1", "m1"))).To(Succeed())
			Expect(client.publishedArtifactIDs()).To(Equal([]string{"m1"}))

			var reply struct {
				Overview struct {
					KeysScore float64 `json:"keysScore"`
					Identical bool    `json:"identical"`
				} `json:"overview"`
				Body json.RawMessage `json:"body"`
			}
			Expect(json.Unmarshal(client.comparisons[0].Payload, &reply)).To(Succeed())
			Expect(reply.Overview.KeysScore).To(Equal(1.0))
			Expect(reply.Overview.Identical).To(BeTrue())
			Expect(reply.Body).ToNot(BeEmpty())
		})

		It("skips sides that were already processed", func() {
			srv := comparator.New(cfg, client, loader)
			j := job("j1", "b1", "m1", "b1", "m2")
			j.SrcProcessed = true
			j.DstProcessed = true

			Expect(srv.ProcessJobAttempt(context.TODO(), j)).To(Succeed())
			Expect(client.publishedArtifactIDs()).To(BeEmpty())
			Expect(client.publishedComparisonIDs()).To(Equal([]string{"j1"}))
		})

		It("sends artifact payloads with an overview and a body", func() {
			srv := comparator.New(cfg, client, loader)
			Expect(srv.ProcessJobAttempt(context.TODO(), job("j1", "b1", "m1", "b1", "m1"))).To(Succeed())

			var reply map[string]json.RawMessage
			Expect(json.Unmarshal(client.artifacts[0].Payload, &reply)).To(Succeed())
			Expect(reply).To(HaveKey("overview"))
			Expect(reply).To(HaveKey("body"))
		})

		It("reports an orphaned job without publishing anything", func() {
			srv := comparator.New(cfg, client, loader)

			err := srv.ProcessJobAttempt(context.TODO(), job("j1", "b1", "m1", "b9", "missing"))
			Expect(err).To(MatchError(comparator.ErrOrphanedJob))
			Expect(client.publishedArtifactIDs()).To(BeEmpty())
			Expect(client.publishedComparisonIDs()).To(BeEmpty())
			Expect(logs.FilterMessageSnippet("orphaned").Len()).To(Equal(1))

			count, _ := srv.Stats()
			Expect(count).To(BeZero())
		})

		It("stops at the first failed artifact publication", func() {
			client.failArtifacts["m2"] = true
			srv := comparator.New(cfg, client, loader)

			err := srv.ProcessJobAttempt(context.TODO(), job("j1", "b1", "m1", "b1", "m2"))
			Expect(err).To(MatchError(comparator.ErrPublishArtifact))
			Expect(client.publishedArtifactIDs()).To(BeEmpty())
			Expect(client.publishedComparisonIDs()).To(BeEmpty())
		})

		It("fails when the comparison cannot be published", func() {
			client.failComparisons["j1"] = true
			srv := comparator.New(cfg, client, loader)

			err := srv.ProcessJobAttempt(context.TODO(), job("j1", "b1", "m1", "b1", "m2"))
			Expect(err).To(MatchError(comparator.ErrPublishComparison))
			count, _ := srv.Stats()
			Expect(count).To(BeZero())
		})
	})

	Context("cycle", func() {
		It("aborts before the next job once consecutive failures exceed the threshold", func() {
			srv := comparator.New(cfg, client, loader)
			jobs := []platform.ComparisonJob{
				job("j1", "b1", "m1", "b9", "gone-1"),
				job("j2", "b1", "m1", "b9", "gone-2"),
				job("j3", "b1", "m1", "b1", "m2"),
			}

			Expect(srv.RunCycle(context.TODO(), jobs)).To(MatchError(comparator.ErrCircuitBreakerTripped))
			Expect(loader.wasRequested("b9/gone-2")).To(BeTrue())
			Expect(loader.wasRequested("b1/m2")).To(BeFalse())
			Expect(client.publishedComparisonIDs()).To(BeEmpty())
			Expect(srv.State()).To(Equal(comparator.StateTerminated))
		})

		It("resets the failure count after a successful job", func() {
			srv := comparator.New(cfg, client, loader)
			jobs := []platform.ComparisonJob{
				job("j1", "b1", "m1", "b9", "gone-1"),
				job("j2", "b1", "m1", "b1", "m2"),
				job("j3", "b1", "m1", "b9", "gone-3"),
			}

			Expect(srv.RunCycle(context.TODO(), jobs)).To(Succeed())
			Expect(loader.wasRequested("b9/gone-3")).To(BeTrue())
			Expect(client.publishedComparisonIDs()).To(Equal([]string{"j2"}))
		})

		It("caps the threshold at the number of jobs", func() {
			cfg.MaxFailures = 10
			srv := comparator.New(cfg, client, loader)
			jobs := []platform.ComparisonJob{
				job("j1", "b1", "m1", "b9", "gone-1"),
				job("j2", "b1", "m1", "b9", "gone-2"),
				job("j3", "b1", "m1", "b9", "gone-3"),
			}

			Expect(srv.RunCycle(context.TODO(), jobs)).To(Succeed())
			Expect(loader.wasRequested("b9/gone-3")).To(BeTrue())
			Expect(logs.FilterMessageSnippet("orphaned").Len()).To(Equal(3))
		})

		It("trips on the second job when no failure is tolerated", func() {
			cfg.MaxFailures = 0
			srv := comparator.New(cfg, client, loader)
			jobs := []platform.ComparisonJob{
				job("j1", "b1", "m1", "b9", "gone-1"),
				job("j2", "b1", "m1", "b1", "m2"),
			}

			Expect(srv.RunCycle(context.TODO(), jobs)).To(MatchError(comparator.ErrCircuitBreakerTripped))
			Expect(loader.wasRequested("b1/m2")).To(BeFalse())
		})

		It("records statistics for every successful job", func() {
			srv := comparator.New(cfg, client, loader)
			jobs := []platform.ComparisonJob{
				job("j1", "b1", "m1", "b1", "m2"),
				job("j2", "b1", "m2", "b2", "m3"),
				job("j3", "b2", "m3", "b1", "m1"),
			}

			Expect(srv.RunCycle(context.TODO(), jobs)).To(Succeed())
			count, _ := srv.Stats()
			Expect(count).To(Equal(uint(3)))
			Expect(client.publishedComparisonIDs()).To(Equal([]string{"j1", "j2", "j3"}))
		})
	})

	Context("poll loop", func() {
		It("refuses to run before a successful start", func() {
			srv := comparator.New(cfg, client, loader)
			Expect(srv.Run(context.TODO())).ToNot(Succeed())
		})

		It("terminates when a cycle trips the circuit breaker", func() {
			client.pending = [][]platform.ComparisonJob{
				{},
				{
					job("j1", "b1", "m1", "b9", "gone-1"),
					job("j2", "b1", "m1", "b9", "gone-2"),
					job("j3", "b1", "m1", "b1", "m2"),
				},
			}
			srv := comparator.New(cfg, client, loader)
			Expect(srv.Start(context.TODO())).To(Succeed())

			Expect(srv.Run(context.TODO())).To(MatchError(comparator.ErrCircuitBreakerTripped))
			Expect(srv.State()).To(Equal(comparator.StateTerminated))
			Expect(client.listCalls).To(HaveLen(2))
			Expect(srv.Run(context.TODO())).To(MatchError(comparator.ErrTerminated))
		})

		It("keeps polling until the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			client.pending = [][]platform.ComparisonJob{
				{job("j1", "b1", "m1", "b1", "m2")},
			}
			client.onList = func(call int) {
				if call == 3 {
					cancel()
				}
			}
			srv := comparator.New(cfg, client, loader)
			Expect(srv.Start(ctx)).To(Succeed())

			Expect(srv.Run(ctx)).To(MatchError(context.Canceled))
			Expect(client.publishedComparisonIDs()).To(Equal([]string{"j1"}))
			Expect(client.listCalls).To(HaveLen(3))
		})

		It("treats a failed poll as an empty list and polls again after sleeping", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			cfg.SleepInterval = 1
			client.listFailures = 1
			client.pending = [][]platform.ComparisonJob{
				{job("j1", "b1", "m1", "b1", "m2")},
			}

			srv := comparator.New(cfg, client, loader)
			states := []comparator.State{}
			client.onList = func(call int) {
				states = append(states, srv.State())
				if call == 3 {
					cancel()
				}
			}
			Expect(srv.Start(ctx)).To(Succeed())

			Expect(srv.Run(ctx)).To(MatchError(context.Canceled))
			Expect(client.listCalls).To(HaveLen(3))
			Expect(client.listCalls[1].Sub(client.listCalls[0])).To(BeNumerically(">=", time.Second))
			Expect(states).To(Equal([]comparator.State{
				comparator.StateRunning,
				comparator.StateRunning,
				comparator.StateRunning,
			}))
			Expect(client.publishedComparisonIDs()).To(Equal([]string{"j1"}))
			Expect(logs.FilterMessageSnippet("failed to fetch comparison jobs").Len()).To(Equal(1))
		})
	})
})
