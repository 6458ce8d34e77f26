package artifact

import (
	"fmt"
	"time"
)

// Metadata identifies the test execution an artifact was captured from.
type Metadata struct {
	Team     string    `cbor:"team" json:"teamslug"`
	Suite    string    `cbor:"suite" json:"testsuite"`
	Version  string    `cbor:"version" json:"version"`
	Testcase string    `cbor:"testcase" json:"testcase"`
	BuiltAt  time.Time `cbor:"builtAt" json:"builtAt"`
}

// Describe returns the human readable name of the test execution.
func (m Metadata) Describe() string {
	return fmt.Sprintf("%s/%s/%s/%s", m.Team, m.Suite, m.Version, m.Testcase)
}

// Entry is one captured value. Value holds any CBOR value: bool, number,
// string, array or map.
type Entry struct {
	Key   string `cbor:"key" json:"key"`
	Value any    `cbor:"value" json:"value"`
}

// Metric is one captured performance measurement.
type Metric struct {
	Key        string `cbor:"key" json:"key"`
	DurationMs int64  `cbor:"durationMs" json:"value"`
}

// Document is the stored form of an artifact.
type Document struct {
	Metadata   Metadata `cbor:"metadata" json:"metadata"`
	Results    []Entry  `cbor:"results" json:"results"`
	Assertions []Entry  `cbor:"assertions" json:"assertions"`
	Metrics    []Metric `cbor:"metrics" json:"metrics"`
}

// Overview summarizes an artifact.
type Overview struct {
	KeysCount       int   `json:"keysCount"`
	MetricsCount    int   `json:"metricsCount"`
	MetricsDuration int64 `json:"metricsDuration"`
}

// Body is the full serializable representation of an artifact.
type Body struct {
	Metadata   Metadata `json:"metadata"`
	Digest     string   `json:"digest"`
	Results    []Entry  `json:"results"`
	Assertions []Entry  `json:"assertions"`
	Metrics    []Metric `json:"metrics"`
}

// Artifact is the decoded output of one captured test execution, identified
// by its batch and message ids.
type Artifact struct {
	batchID   string
	messageID string
	digest    string
	doc       Document
}

// New decodes raw stored bytes into an artifact.
func New(batchID, messageID string, raw []byte) (*Artifact, error) {
	doc, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		batchID:   batchID,
		messageID: messageID,
		digest:    Digest(raw),
		doc:       *doc,
	}, nil
}

func (a *Artifact) BatchID() string {
	return a.batchID
}

func (a *Artifact) MessageID() string {
	return a.messageID
}

// Digest returns the hex encoded blake3 digest of the stored bytes.
func (a *Artifact) Digest() string {
	return a.digest
}

func (a *Artifact) Metadata() Metadata {
	return a.doc.Metadata
}

func (a *Artifact) Describe() string {
	return a.doc.Metadata.Describe()
}

func (a *Artifact) Overview() Overview {
	o := Overview{
		KeysCount:    len(a.doc.Results),
		MetricsCount: len(a.doc.Metrics),
	}
	for _, m := range a.doc.Metrics {
		o.MetricsDuration += m.DurationMs
	}
	return o
}

func (a *Artifact) Body() Body {
	return Body{
		Metadata:   a.doc.Metadata,
		Digest:     a.digest,
		Results:    a.doc.Results,
		Assertions: a.doc.Assertions,
		Metrics:    a.doc.Metrics,
	}
}
