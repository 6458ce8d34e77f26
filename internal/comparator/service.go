package comparator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/weasel/comparator/internal/artifact"
	"github.com/weasel/comparator/internal/config"
	"github.com/weasel/comparator/internal/platform"
	"github.com/weasel/comparator/internal/stats"
	"github.com/weasel/comparator/pkg/metrics"
	"github.com/weasel/comparator/pkg/requestid"
	"go.uber.org/zap"
)

// ArtifactLoader resolves a batch and message id pair to a decoded artifact.
// A missing or undecodable artifact is reported as absent.
type ArtifactLoader interface {
	Load(ctx context.Context, batchID, messageID string) (*artifact.Artifact, bool)
}

// Service polls the platform for comparison jobs and processes them one at
// a time. A run of consecutive job failures stops the service.
type Service struct {
	cfg    config.Config
	client platform.Client
	loader ArtifactLoader
	stats  *stats.Running
	state  atomic.Int32
}

func New(cfg config.Config, client platform.Client, loader ArtifactLoader) *Service {
	return &Service{
		cfg:    cfg,
		client: client,
		loader: loader,
		stats:  stats.New(),
	}
}

func (s *Service) State() State {
	return State(s.state.Load())
}

// Stats returns the number of processed jobs and their average duration in milliseconds.
func (s *Service) Stats() (uint, float64) {
	return s.stats.Count(), s.stats.Avg()
}

func (s *Service) log() *zap.SugaredLogger {
	return zap.S().Named("comparator")
}

// Start performs the start-up handshake with the platform. It makes at most
// StartupMaxAttempts attempts, waiting StartupAttemptInterval between two of
// them, and returns ErrHandshakeFailed once every attempt failed. Run must not
// be called when Start failed.
func (s *Service) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateStarting)) {
		return fmt.Errorf("cannot start service in state %s", s.State())
	}

	maxAttempts := s.cfg.StartupMaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	s.log().Info("running start-up stage")

	var attempt uint
	operation := func() error {
		attempt++
		if err := s.client.Handshake(ctx); err != nil {
			metrics.IncreaseHandshakeAttemptsMetric(metrics.ResultFailure)
			s.log().Warnf("running start-up stage: attempt (%d/%d): %v", attempt, maxAttempts, err)
			return err
		}
		metrics.IncreaseHandshakeAttemptsMetric(metrics.ResultSuccess)
		return nil
	}

	if err := backoff.Retry(operation, s.startupBackOff(ctx, maxAttempts)); err != nil {
		s.state.Store(int32(StateTerminated))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.log().Errorf("failed during start-up stage after %d attempts", attempt)
		return fmt.Errorf("%w: %d attempts: %v", ErrHandshakeFailed, attempt, err)
	}

	s.state.Store(int32(StateRunning))
	s.log().Info("start-up phase completed")
	return nil
}

// startupBackOff waits a constant interval between attempts and allows
// maxAttempts-1 retries.
func (s *Service) startupBackOff(ctx context.Context, maxAttempts uint) backoff.BackOff {
	var b backoff.BackOff = &backoff.StopBackOff{}
	// WithMaxRetries treats 0 as unlimited
	if maxAttempts > 1 {
		b = backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.StartupAttemptIntervalDuration()), uint64(maxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Run polls the platform until a cycle trips the circuit breaker, which is
// reported as ErrCircuitBreakerTripped, or until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if state := s.State(); state != StateRunning {
		if state == StateTerminated {
			return ErrTerminated
		}
		return fmt.Errorf("cannot run service in state %s", state)
	}

	s.log().Info("starting to run comparator in service mode")

	for {
		if err := ctx.Err(); err != nil {
			s.state.Store(int32(StateTerminated))
			return err
		}

		jobs, err := s.client.ListPendingJobs(ctx)
		if err != nil && ctx.Err() == nil {
			s.log().Warnf("failed to fetch comparison jobs: %v", err)
		}

		if len(jobs) == 0 {
			if err := s.sleep(ctx, s.cfg.SleepIntervalDuration()); err != nil {
				s.state.Store(int32(StateTerminated))
				return err
			}
			continue
		}

		if err := s.RunCycle(ctx, jobs); err != nil {
			s.state.Store(int32(StateTerminated))
			if errors.Is(err, ErrCircuitBreakerTripped) {
				s.log().Warn("failed to perform periodic operation")
			}
			return err
		}
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RunCycle processes jobs in order. Before each job it aborts with
// ErrCircuitBreakerTripped when the number of consecutive failures exceeds
// min(len(jobs), MaxFailures); the remaining jobs are left for a later poll.
// Any successful job resets the count.
func (s *Service) RunCycle(ctx context.Context, jobs []platform.ComparisonJob) error {
	tic := time.Now()
	s.log().Infof("processing %d comparison jobs", len(jobs))

	maxFailures := min(uint(len(jobs)), s.cfg.MaxFailures)

	var failures uint
	defer metrics.UpdateConsecutiveFailuresMetric(0)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if failures > maxFailures {
			s.log().Errorf("exceeded maximum consecutive failures (%d > %d): aborting", failures, maxFailures)
			metrics.IncreaseBreakerTripsMetric()
			s.state.Store(int32(StateTerminated))
			return ErrCircuitBreakerTripped
		}
		if err := s.ProcessJobAttempt(ctx, job); err != nil {
			s.log().Errorf("%s: failed to process comparison job: %v", job.ID, err)
			failures++
			metrics.UpdateConsecutiveFailuresMetric(int(failures))
			continue
		}
		failures = 0
		metrics.UpdateConsecutiveFailuresMetric(0)
	}

	s.log().Infof("processed %d comparison jobs: (%d ms)", len(jobs), time.Since(tic).Milliseconds())
	s.log().Infof("average processing time: %.2f ms per job", s.stats.Avg())
	metrics.IncreaseCyclesTotalMetric()
	return nil
}

// ProcessJobAttempt makes a single attempt at a comparison job: it loads
// both artifacts, publishes the sides the platform has not seen yet, then
// compares them and publishes the comparison. The first failing step ends
// the attempt.
func (s *Service) ProcessJobAttempt(ctx context.Context, job platform.ComparisonJob) error {
	tic := time.Now()
	ctx = requestid.ToContext(ctx, requestid.Generate())
	s.log().Debugf("%s: processing comparison job", job.ID)

	dst, dstFound := s.loader.Load(ctx, job.DstBatch, job.DstMessage)
	src, srcFound := s.loader.Load(ctx, job.SrcBatch, job.SrcMessage)
	if !dstFound || !srcFound {
		s.log().Warnf("%s: comparison job is orphaned", job.ID)
		metrics.IncreaseJobsTotalMetric(metrics.ResultOrphaned)
		return ErrOrphanedJob
	}

	dstName := dst.Describe()
	srcName := src.Describe()

	if !job.DstProcessed {
		if err := s.publishArtifact(ctx, dst, job.DstMessage); err != nil {
			s.log().Errorf("%s: failed to process message: %v", dstName, err)
			metrics.IncreaseJobsTotalMetric(metrics.ResultPublishArtifactFailed)
			return err
		}
	}

	if job.DstMessage != job.SrcMessage && !job.SrcProcessed {
		if err := s.publishArtifact(ctx, src, job.SrcMessage); err != nil {
			s.log().Errorf("%s: failed to process message: %v", srcName, err)
			metrics.IncreaseJobsTotalMetric(metrics.ResultPublishArtifactFailed)
			return err
		}
	}

	result := src.Compare(dst)
	if err := s.publishComparison(ctx, job.ID, result); err != nil {
		s.log().Errorf("%s: failed to compare with %s: %v", dstName, srcName, err)
		metrics.IncreaseJobsTotalMetric(metrics.ResultPublishComparisonFailed)
		return err
	}

	dur := time.Since(tic)
	s.log().Infof("%s: compared with %s (%d ms)", dstName, srcName, dur.Milliseconds())
	durationMs := float64(dur) / float64(time.Millisecond)
	s.stats.Update(durationMs)
	metrics.ObserveJobDurationMetric(durationMs)
	metrics.IncreaseJobsTotalMetric(metrics.ResultSuccess)
	return nil
}

func (s *Service) publishArtifact(ctx context.Context, a *artifact.Artifact, messageID string) error {
	desc := a.Describe()
	s.log().Debugf("%s: processing message", desc)

	body, err := artifactPayload(a)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %v", ErrPublishArtifact, err)
	}
	if err := s.client.PublishArtifact(ctx, messageID, body); err != nil {
		s.log().Warnf("%s: failed to submit message", desc)
		return fmt.Errorf("%w: %v", ErrPublishArtifact, err)
	}

	s.log().Debugf("%s: processed message", desc)
	return nil
}

func (s *Service) publishComparison(ctx context.Context, jobID string, result artifact.ComparisonResult) error {
	body, err := comparisonPayload(result)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %v", ErrPublishComparison, err)
	}
	if err := s.client.PublishComparison(ctx, jobID, body); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishComparison, err)
	}
	s.log().Debugf("%s: processed comparison job", jobID)
	return nil
}
