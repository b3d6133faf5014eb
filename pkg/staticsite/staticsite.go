// Package staticsite serves the storefront's static pages, either from the
// copy embedded in the binary or from a Cloud Storage bucket.
package staticsite

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"tourmaline.app/pkg/logger"
)

//go:embed public
var embedded embed.FS

// ErrNotFound is returned by a Backend for a missing object
var ErrNotFound = errors.New("staticsite: not found")

// Object is an opened static file
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	ModTime     time.Time
}

// Backend fetches static objects by slash-separated name
type Backend interface {
	Fetch(ctx context.Context, name string) (*Object, error)
}

// FSBackend serves files from an fs.FS
type FSBackend struct {
	fsys fs.FS
}

// Embedded returns the pages compiled into the binary
func Embedded() *FSBackend {
	sub, err := fs.Sub(embedded, "public")
	if err != nil {
		panic(err)
	}
	return &FSBackend{fsys: sub}
}

// NewFSBackend serves files from fsys
func NewFSBackend(fsys fs.FS) *FSBackend {
	return &FSBackend{fsys: fsys}
}

// Fetch opens name. Directories count as missing.
func (b *FSBackend) Fetch(_ context.Context, name string) (*Object, error) {
	f, err := b.fsys.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}
	return &Object{Body: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// GCSConfig selects a bucket
type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsJSON string // JSON key as string
	// Endpoint points at an emulator; it disables authentication
	Endpoint string
}

// GCSBackend serves objects from a Cloud Storage bucket
type GCSBackend struct {
	client    *storage.Client
	bucket    string
	projectID string
}

// NewGCSBackend creates a bucket-backed source
func NewGCSBackend(ctx context.Context, config GCSConfig) (*GCSBackend, error) {
	if config.Bucket == "" {
		return nil, errors.New("staticsite: bucket name is required")
	}
	var opts []option.ClientOption
	if config.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSBackend{client: client, bucket: config.Bucket, projectID: config.ProjectID}, nil
}

// Fetch opens the object called name
func (b *GCSBackend) Fetch(ctx context.Context, name string) (*Object, error) {
	r, err := b.client.Bucket(b.bucket).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read gs://%s/%s: %w", b.bucket, name, err)
	}
	return &Object{
		Body:        r,
		ContentType: r.Attrs.ContentType,
		Size:        r.Attrs.Size,
		ModTime:     r.Attrs.LastModified,
	}, nil
}

// Close releases the storage client
func (b *GCSBackend) Close() error {
	return b.client.Close()
}

// Options tune the Handler
type Options struct {
	// PublishableKey is written into data-publishable-key attributes of HTML pages
	PublishableKey string
}

// Handler serves GET and HEAD requests from a Backend
type Handler struct {
	backend Backend
	opts    Options
}

// NewHandler creates a Handler over backend
func NewHandler(backend Backend, opts Options) *Handler {
	return &Handler{backend: backend, opts: opts}
}

// candidates maps a request path to object names, most specific first
func candidates(urlPath string) []string {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		return []string{"index.html"}
	}
	if path.Ext(name) != "" {
		return []string{name}
	}
	return []string{name, name + ".html", name + "/index.html"}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var (
		obj  *Object
		name string
		err  error
	)
	for _, name = range candidates(r.URL.Path) {
		obj, err = h.backend.Fetch(r.Context(), name)
		if !errors.Is(err, ErrNotFound) {
			break
		}
	}
	if errors.Is(err, ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		logger.LogError(r.Context(), err, "static fetch failed", logger.Fields{"path": r.URL.Path})
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	defer obj.Body.Close()

	ext := path.Ext(name)
	contentType := obj.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if ext == ".html" {
		w.Header().Set("Cache-Control", "no-cache")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	if !obj.ModTime.IsZero() {
		w.Header().Set("Last-Modified", obj.ModTime.UTC().Format(http.TimeFormat))
	}

	if ext == ".html" && h.opts.PublishableKey != "" {
		body, err := io.ReadAll(obj.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
		body = bytes.ReplaceAll(body, []byte(`data-publishable-key=""`),
			[]byte(`data-publishable-key="`+html.EscapeString(h.opts.PublishableKey)+`"`))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
		return
	}

	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = io.Copy(w, obj.Body)
	}
}
