package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/weasel/comparator/internal/comparator"
	"github.com/weasel/comparator/internal/platform"
	"github.com/weasel/comparator/internal/server"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type serviceStub struct {
	state comparator.State
	count uint
	avg   float64
}

func (s *serviceStub) State() comparator.State { return s.state }

func (s *serviceStub) Stats() (uint, float64) { return s.count, s.avg }

type connectivityStub struct {
	status platform.Status
}

func (c *connectivityStub) GetStatus() platform.Status { return c.status }

var _ = Describe("Status server", func() {
	var (
		service        *serviceStub
		connectivity   *connectivityStub
		testHttpServer *httptest.Server
	)

	BeforeEach(func() {
		service = &serviceStub{state: comparator.StateRunning, count: 3, avg: 200}
		connectivity = &connectivityStub{status: platform.Status{Connected: true, LastContact: time.Now()}}
		testHttpServer = httptest.NewServer(server.New("", service, connectivity).Router())
	})

	AfterEach(func() {
		testHttpServer.Close()
	})

	get := func(path string) (int, []byte) {
		resp, err := http.Get(testHttpServer.URL + path)
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).To(BeNil())
		return resp.StatusCode, body
	}

	Context("health", func() {
		It("is healthy while the service runs", func() {
			code, body := get("/health")
			Expect(code).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"state":"running"`))
		})

		It("echoes the caller request id", func() {
			req, err := http.NewRequest(http.MethodGet, testHttpServer.URL+"/health", nil)
			Expect(err).To(BeNil())
			req.Header.Set("X-Request-Id", "req-1")

			resp, err := http.DefaultClient.Do(req)
			Expect(err).To(BeNil())
			defer resp.Body.Close()
			Expect(resp.Header.Get("X-Request-Id")).To(Equal("req-1"))
		})

		It("is unavailable once the service is terminated", func() {
			service.state = comparator.StateTerminated
			code, _ := get("/health")
			Expect(code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Context("status", func() {
		It("reports statistics and platform connectivity", func() {
			code, body := get("/api/v1/status")
			Expect(code).To(Equal(http.StatusOK))

			var reply server.StatusReply
			Expect(json.Unmarshal(body, &reply)).To(Succeed())
			Expect(reply.State).To(Equal("running"))
			Expect(reply.ProcessedJobs).To(Equal(uint(3)))
			Expect(reply.AverageDurationMs).To(Equal(200.0))
			Expect(reply.Platform).NotTo(BeNil())
			Expect(reply.Platform.Connected).To(BeTrue())
			Expect(reply.Platform.LastContact).NotTo(BeNil())
		})

		It("omits connectivity when it is not tracked", func() {
			noPlatform := httptest.NewServer(server.New("", service, nil).Router())
			defer noPlatform.Close()

			resp, err := http.Get(noPlatform.URL + "/api/v1/status")
			Expect(err).To(BeNil())
			defer resp.Body.Close()

			var reply map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&reply)).To(Succeed())
			Expect(reply).NotTo(HaveKey("platform"))
		})
	})

	Context("metrics", func() {
		It("exposes the comparator metrics", func() {
			_, _ = get("/health")
			code, body := get("/metrics")
			Expect(code).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring("comparator_http_requests_total"))
		})
	})

	Context("lifecycle", func() {
		It("stops serving when the context is cancelled", func() {
			listener, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).To(BeNil())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- server.New("", service, nil).Serve(ctx, listener)
			}()

			Eventually(func() error {
				resp, err := http.Get("http://" + listener.Addr().String() + "/health")
				if err == nil {
					resp.Body.Close()
				}
				return err
			}).Should(Succeed())

			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})
	})
})
