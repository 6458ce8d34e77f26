package artifact

import (
	"context"
	"errors"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Loader resolves a batch and message id pair to a decoded artifact.
type Loader struct {
	store Store
}

func NewLoader(store Store) *Loader {
	return &Loader{store: store}
}

// Load returns the artifact stored at <root>/<batchID>/<messageID>. It
// reports false when the artifact is missing or cannot be decoded; both are
// logged and never returned as errors.
func (l *Loader) Load(ctx context.Context, batchID, messageID string) (*Artifact, bool) {
	log := zap.S().Named("loader")

	if !validID(batchID) || !validID(messageID) {
		log.Errorf("%s/%s: invalid result file identifier", batchID, messageID)
		return nil, false
	}

	key := path.Join(batchID, messageID)
	location := l.store.Location(key)

	raw, err := l.store.Read(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Errorf("%s: result file is missing", location)
		} else {
			log.Errorf("%s: failed to read result file: %v", location, err)
		}
		return nil, false
	}

	a, err := New(batchID, messageID, raw)
	if err != nil {
		log.Errorf("%s: failed to parse result: %v", location, err)
		return nil, false
	}
	return a, true
}

// validID rejects identifiers that would escape the storage root.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}
