// Package modelstore opens model and weight files from local disk or
// Google Cloud Storage.
package modelstore

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/itlab-ai/infer/internal/tensor"
)

const gcsScheme = "gs://"

// Location is a parsed model URI.
type Location struct {
	// Path is set for local files.
	Path string
	// Bucket and Object are set for gs:// URIs.
	Bucket, Object string
}

// IsGCS reports whether the location names a GCS object.
func (l Location) IsGCS() bool {
	return l.Bucket != ""
}

func (l Location) String() string {
	if l.IsGCS() {
		return gcsScheme + l.Bucket + "/" + l.Object
	}
	return l.Path
}

// Parse splits uri into a Location. Anything without the gs:// prefix is
// a local path.
func Parse(uri string) (Location, error) {
	if uri == "" {
		return Location{}, errors.Wrap(tensor.ErrInvalidArgument, "empty model location")
	}
	if !strings.HasPrefix(uri, gcsScheme) {
		return Location{Path: uri}, nil
	}
	bucket, object, ok := strings.Cut(strings.TrimPrefix(uri, gcsScheme), "/")
	if !ok || bucket == "" || object == "" {
		return Location{}, errors.Wrapf(tensor.ErrInvalidArgument, "%q is not of the form gs://bucket/object", uri)
	}
	return Location{Bucket: bucket, Object: object}, nil
}

// Store opens model sources.
type Store struct {
	log logrus.FieldLogger
}

// New returns a store logging through log. A nil log discards output.
func New(log logrus.FieldLogger) *Store {
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = quiet
	}
	return &Store{log: log}
}

// Open returns a reader for uri. The caller closes it.
func (s *Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	if !loc.IsGCS() {
		f, err := os.Open(loc.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", loc.Path)
		}
		s.log.WithField("path", loc.Path).Debug("opened local model")
		return f, nil
	}
	return s.openGCS(ctx, loc)
}

// Open is a shorthand for New(nil).Open.
func Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	return New(nil).Open(ctx, uri)
}

func (s *Store) openGCS(ctx context.Context, loc Location) (io.ReadCloser, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "creating GCS storage client")
	}

	startedAt := time.Now()
	r, err := client.Bucket(loc.Bucket).Object(loc.Object).NewReader(ctx)
	if err != nil {
		client.Close()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrapf(os.ErrNotExist, "opening object from GCS %q", loc)
		}
		return nil, errors.Wrapf(err, "opening object from GCS %q", loc)
	}
	s.log.WithFields(logrus.Fields{
		"url":      loc.String(),
		"bytes":    r.Attrs.Size,
		"duration": time.Since(startedAt),
	}).Info("opened model from GCS")
	return &gcsReader{Reader: r, client: client}, nil
}

// gcsReader closes the client together with the object reader.
type gcsReader struct {
	*storage.Reader
	client *storage.Client
}

func (r *gcsReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}
