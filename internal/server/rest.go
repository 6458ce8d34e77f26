package server

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/weasel/comparator/internal/comparator"
)

type HealthReply struct {
	State string `json:"state"`
}

type PlatformReply struct {
	Connected   bool       `json:"connected"`
	LastContact *time.Time `json:"lastContact,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

type StatusReply struct {
	State             string         `json:"state"`
	ProcessedJobs     uint           `json:"processedJobs"`
	AverageDurationMs float64        `json:"averageDurationMs"`
	Platform          *PlatformReply `json:"platform,omitempty"`
}

func (h HealthReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (s StatusReply) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	state := s.service.State()
	if state == comparator.StateTerminated {
		render.Status(r, http.StatusServiceUnavailable)
	}
	_ = render.Render(w, r, HealthReply{State: state.String()})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	count, avg := s.service.Stats()
	reply := StatusReply{
		State:             s.service.State().String(),
		ProcessedJobs:     count,
		AverageDurationMs: avg,
	}

	if s.connectivity != nil {
		status := s.connectivity.GetStatus()
		reply.Platform = &PlatformReply{
			Connected: status.Connected,
			LastError: status.LastError,
		}
		if !status.LastContact.IsZero() {
			lastContact := status.LastContact
			reply.Platform.LastContact = &lastContact
		}
	}

	_ = render.Render(w, r, reply)
}
