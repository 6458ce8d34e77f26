package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/weasel/comparator/internal/fileio"
)

// ErrNotFound is returned by a Store when no regular object exists at a key.
var ErrNotFound = errors.New("artifact not found")

// Store gives read access to stored artifacts. Keys are slash separated
// paths relative to the storage root.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, error)
	// Location returns a human readable location of the key, for logging.
	Location(key string) string
}

// FileStore reads artifacts from a local directory.
type FileStore struct {
	reader *fileio.Reader
}

var _ Store = (*FileStore)(nil)

func NewFileStore(root string) *FileStore {
	reader := fileio.NewReader()
	reader.SetRootdir(root)
	return &FileStore{reader: reader}
}

func (s *FileStore) Read(_ context.Context, key string) ([]byte, error) {
	if !s.reader.IsRegularFile(key) {
		return nil, ErrNotFound
	}
	return s.reader.ReadFile(key)
}

func (s *FileStore) Location(key string) string {
	return s.reader.PathFor(key)
}

type ObjectStoreOpts func(c *objectStoreConfig)

type objectStoreConfig struct {
	endpoint        string
	bucket          string
	prefix          string
	accessKey       string
	secretAccessKey string
	useSSL          bool
}

// ObjectStore reads artifacts from an S3 compatible bucket.
type ObjectStore struct {
	cfg    *objectStoreConfig
	client *minio.Client
}

var _ Store = (*ObjectStore)(nil)

func NewObjectStore(opts ...ObjectStoreOpts) (*ObjectStore, error) {
	cfg := &objectStoreConfig{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.endpoint == "" || cfg.bucket == "" {
		return nil, errors.New("object store requires an endpoint and a bucket")
	}

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &ObjectStore{cfg: cfg, client: client}, nil
}

func (s *ObjectStore) objectName(key string) string {
	return path.Join(s.cfg.prefix, key)
}

func (s *ObjectStore) Read(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.cfg.bucket, s.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(err)
	}
	defer object.Close()

	// GetObject is lazy, a missing object only shows up on the first read
	if _, err := object.Stat(); err != nil {
		return nil, s.mapError(err)
	}

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, s.mapError(err)
	}
	return data, nil
}

func (s *ObjectStore) Location(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.cfg.bucket, s.objectName(key))
}

func (s *ObjectStore) mapError(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

func WithEndpoint(endpoint string) ObjectStoreOpts {
	return func(c *objectStoreConfig) {
		c.endpoint = endpoint
	}
}

func WithBucket(bucket string) ObjectStoreOpts {
	return func(c *objectStoreConfig) {
		c.bucket = bucket
	}
}

// WithPrefix sets the object name prefix that plays the role of the storage root.
func WithPrefix(prefix string) ObjectStoreOpts {
	return func(c *objectStoreConfig) {
		c.prefix = prefix
	}
}

func WithAccessKey(accessKey string) ObjectStoreOpts {
	return func(c *objectStoreConfig) {
		c.accessKey = accessKey
	}
}

func WithSecretKey(secretKey string) ObjectStoreOpts {
	return func(c *objectStoreConfig) {
		c.secretAccessKey = secretKey
	}
}

func WithSSL(useSSL bool) ObjectStoreOpts {
	return func(c *objectStoreConfig) {
		c.useSSL = useSSL
	}
}
