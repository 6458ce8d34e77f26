package comparator

import (
	"encoding/json"

	"github.com/weasel/comparator/internal/artifact"
)

// payload is the document published to the platform for messages and
// comparison jobs.
type payload struct {
	Overview any `json:"overview"`
	Body     any `json:"body"`
}

func artifactPayload(a *artifact.Artifact) ([]byte, error) {
	return json.Marshal(payload{Overview: a.Overview(), Body: a.Body()})
}

func comparisonPayload(r artifact.ComparisonResult) ([]byte, error) {
	return json.Marshal(payload{Overview: r.Overview(), Body: r.Body()})
}
