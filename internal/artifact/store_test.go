package artifact_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"time"

	"github.com/weasel/comparator/internal/artifact"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const noSuchKeyReply = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>results/b1/m2</Key><BucketName>artifacts</BucketName><RequestId>1</RequestId></Error>`

const locationReply = `<?xml version="1.0" encoding="UTF-8"?>
<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`

var _ = Describe("Object store", func() {
	var (
		testHttpServer *httptest.Server
		store          *artifact.ObjectStore
		data           []byte
		logs           *observer.ObservedLogs
		undoLogs       func()
	)

	BeforeEach(func() {
		var core zapcore.Core
		core, logs = observer.New(zapcore.DebugLevel)
		undoLogs = zap.ReplaceGlobals(zap.New(core))

		var err error
		data, err = artifact.Encode(testDocument("alice"), true)
		Expect(err).To(BeNil())

		testHttpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Has("location") {
				w.Header().Set("Content-Type", "application/xml")
				_, _ = w.Write([]byte(locationReply))
				return
			}

			switch r.URL.Path {
			case "/artifacts/results/b1/m1":
				w.Header().Set("Content-Length", strconv.Itoa(len(data)))
				w.Header().Set("Content-Type", "application/octet-stream")
				w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
				w.Header().Set("ETag", `"0123456789abcdef"`)
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(data)
			default:
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(noSuchKeyReply))
			}
		}))

		store, err = artifact.NewObjectStore(
			artifact.WithEndpoint(strings.TrimPrefix(testHttpServer.URL, "http://")),
			artifact.WithBucket("artifacts"),
			artifact.WithPrefix("results"),
			artifact.WithAccessKey("access"),
			artifact.WithSecretKey("secret"),
			artifact.WithSSL(false),
		)
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		testHttpServer.Close()
		undoLogs()
	})

	It("requires an endpoint and a bucket", func() {
		_, err := artifact.NewObjectStore(artifact.WithBucket("artifacts"))
		Expect(err).NotTo(BeNil())
	})

	It("reads an object under the prefix", func() {
		raw, err := store.Read(context.TODO(), "b1/m1")
		Expect(err).To(BeNil())
		Expect(raw).To(Equal(data))
		Expect(store.Location("b1/m1")).To(Equal("s3://artifacts/results/b1/m1"))
	})

	It("maps a missing key to ErrNotFound", func() {
		_, err := store.Read(context.TODO(), "b1/m2")
		Expect(err).To(MatchError(artifact.ErrNotFound))
	})

	It("serves the loader", func() {
		loader := artifact.NewLoader(store)

		a, ok := loader.Load(context.TODO(), "b1", "m1")
		Expect(ok).To(BeTrue())
		Expect(a.Describe()).To(Equal("acme/students/v1.0/alice"))
		Expect(a.Digest()).To(Equal(artifact.Digest(data)))

		a, ok = loader.Load(context.TODO(), "b1", "m2")
		Expect(ok).To(BeFalse())
		Expect(a).To(BeNil())

		missing := logs.FilterMessageSnippet("result file is missing")
		Expect(missing.Len()).To(Equal(1))
		Expect(missing.All()[0].Message).To(ContainSubstring("s3://artifacts/results/b1/m2"))
	})
})
