package platform

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// Status describes the outcome of the latest call made to the platform.
type Status struct {
	Connected   bool      `json:"connected"`
	LastContact time.Time `json:"lastContact,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Interceptor wraps a Client and records platform connectivity.
type Interceptor struct {
	client Client
	status Status
	l      sync.Mutex
}

var _ Client = (*Interceptor)(nil)

func NewInterceptor(client Client) *Interceptor {
	return &Interceptor{
		client: client,
		status: Status{Connected: false},
	}
}

func (i *Interceptor) GetStatus() Status {
	i.l.Lock()
	defer i.l.Unlock()
	return i.status
}

func (i *Interceptor) Handshake(ctx context.Context) error {
	return i.record(i.client.Handshake(ctx))
}

func (i *Interceptor) ListPendingJobs(ctx context.Context) ([]ComparisonJob, error) {
	jobs, err := i.client.ListPendingJobs(ctx)
	return jobs, i.record(err)
}

func (i *Interceptor) PublishArtifact(ctx context.Context, messageID string, payload []byte) error {
	return i.record(i.client.PublishArtifact(ctx, messageID, payload))
}

func (i *Interceptor) PublishComparison(ctx context.Context, jobID string, payload []byte) error {
	return i.record(i.client.PublishComparison(ctx, jobID, payload))
}

func (i *Interceptor) record(err error) error {
	i.l.Lock()
	defer i.l.Unlock()

	if err == nil {
		i.status = Status{Connected: true, LastContact: time.Now()}
		return nil
	}

	i.status.LastError = err.Error()
	var netOpErr *net.OpError
	if errors.As(err, &netOpErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		i.status.Connected = false
		return err
	}
	// the platform answered, even if it rejected the call
	i.status.Connected = true
	i.status.LastContact = time.Now()
	return err
}
