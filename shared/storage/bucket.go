// Package storage implements the tenant-namespaced file bucket: sanitized,
// traversal-checked paths under tenants/{tenantId}, quota pre-checks, and
// HMAC-signed time-limited URLs. Bytes land on a pluggable backend (local
// filesystem or S3).
package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/buildgrid/platform/shared/apperrors"
	"github.com/buildgrid/platform/shared/utils"
)

// Backend stores and retrieves file bytes by relative logical path.
// Implementations must not apply any tenant logic; scoping happens here.
type Backend interface {
	Write(relPath string, content []byte) error
	Read(relPath string) ([]byte, error)
	Delete(relPath string) error
	List(prefix string) ([]string, error)
}

// QuotaChecker is consulted before any bytes are written. Returning an
// error (typically apperrors.ErrQuotaExceeded) aborts the upload.
type QuotaChecker func(tenantID uuid.UUID, size int64) error

// Options selects the optional project and category path segments.
type Options struct {
	ProjectID *uuid.UUID
	Category  string
}

// UploadResult reports where an upload landed.
type UploadResult struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Bucket is the tenant-scoped file namespace.
type Bucket struct {
	backend Backend
	secret  string
	quota   QuotaChecker
}

// NewBucket creates a bucket over the given backend. quota may be nil when
// enforcement is handled elsewhere.
func NewBucket(backend Backend, secret string, quota QuotaChecker) *Bucket {
	return &Bucket{backend: backend, secret: secret, quota: quota}
}

var filenamePattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// SanitizeFilename strips everything except alphanumerics, dot, dash and
// underscore. This runs independently of the later traversal check.
func SanitizeFilename(name string) string {
	return filenamePattern.ReplaceAllString(name, "")
}

func tenantRoot(tenantID uuid.UUID) string {
	return "tenants/" + tenantID.String()
}

// Path builds and validates the logical path for a file:
// tenants/{tenantId}[/projects/{projectId}][/{category}]/{filename}.
// The normalized result must stay under the tenant root or the call fails
// with ErrForbidden. This runs before every backend call.
func (b *Bucket) Path(tenantID uuid.UUID, filename string, opts Options) (string, error) {
	clean := SanitizeFilename(filename)
	if clean == "" || strings.Trim(clean, ".") == "" {
		return "", fmt.Errorf("%w: empty filename after sanitization", apperrors.ErrValidation)
	}

	segments := []string{tenantRoot(tenantID)}
	if opts.ProjectID != nil {
		segments = append(segments, "projects", opts.ProjectID.String())
	}
	if opts.Category != "" {
		category := SanitizeFilename(opts.Category)
		if category == "" {
			return "", fmt.Errorf("%w: invalid category", apperrors.ErrValidation)
		}
		segments = append(segments, category)
	}
	segments = append(segments, clean)

	joined := path.Join(segments...)
	if err := b.validate(tenantID, joined); err != nil {
		return "", err
	}
	return joined, nil
}

// validate re-normalizes a path and requires the tenant-root prefix. It
// catches traversal sequences that survive sanitization via encoding tricks.
func (b *Bucket) validate(tenantID uuid.UUID, relPath string) error {
	decoded, err := url.PathUnescape(relPath)
	if err != nil {
		decoded = relPath
	}
	normalized := path.Clean("/" + decoded)
	prefix := "/" + tenantRoot(tenantID) + "/"
	if !strings.HasPrefix(normalized, prefix) {
		return fmt.Errorf("%w: path escapes tenant namespace", apperrors.ErrForbidden)
	}
	return nil
}

// Upload writes content under the tenant namespace. The quota hook runs
// before any bytes reach the backend; quota overruns abort the write.
func (b *Bucket) Upload(tenantID uuid.UUID, filename string, content []byte, opts Options) (*UploadResult, error) {
	relPath, err := b.Path(tenantID, filename, opts)
	if err != nil {
		return nil, err
	}

	if b.quota != nil {
		if err := b.quota(tenantID, int64(len(content))); err != nil {
			return nil, err
		}
	}

	if err := b.backend.Write(relPath, content); err != nil {
		return nil, err
	}
	return &UploadResult{Path: relPath, URL: "/files/" + relPath}, nil
}

// Download returns the file bytes, after path validation.
func (b *Bucket) Download(tenantID uuid.UUID, filename string, opts Options) ([]byte, error) {
	relPath, err := b.Path(tenantID, filename, opts)
	if err != nil {
		return nil, err
	}
	return b.backend.Read(relPath)
}

// Delete removes one file from the tenant namespace.
func (b *Bucket) Delete(tenantID uuid.UUID, filename string, opts Options) error {
	relPath, err := b.Path(tenantID, filename, opts)
	if err != nil {
		return err
	}
	return b.backend.Delete(relPath)
}

// List returns the relative paths stored under the tenant (optionally
// narrowed to a project/category), relative to the tenant root.
func (b *Bucket) List(tenantID uuid.UUID, opts Options) ([]string, error) {
	segments := []string{tenantRoot(tenantID)}
	if opts.ProjectID != nil {
		segments = append(segments, "projects", opts.ProjectID.String())
	}
	if opts.Category != "" {
		segments = append(segments, SanitizeFilename(opts.Category))
	}
	prefix := path.Join(segments...)

	paths, err := b.backend.List(prefix)
	if err != nil {
		return nil, err
	}

	root := tenantRoot(tenantID) + "/"
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, strings.TrimPrefix(p, root))
	}
	return out, nil
}

// SignURL issues a time-limited URL for a stored file. Payload is
// tenantId:relativePath:expiresAtEpochMs, signed with HMAC-SHA256.
func (b *Bucket) SignURL(tenantID uuid.UUID, filename string, expiresIn time.Duration, opts Options) (string, error) {
	relPath, err := b.Path(tenantID, filename, opts)
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(expiresIn).UnixMilli()
	payload := fmt.Sprintf("%s:%s:%d", tenantID, relPath, expiresAt)
	sig := utils.SignHMAC(payload, b.secret)

	return fmt.Sprintf("/files/%s?expires=%d&sig=%s", relPath, expiresAt, sig), nil
}

// VerifySignedURL checks a signed file URL's expiry and signature. Expiry
// is a pure now-vs-stored comparison; the signature check is constant time.
func (b *Bucket) VerifySignedURL(tenantID uuid.UUID, relPath string, expires string, sig string) error {
	expiresAt, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed expiry", apperrors.ErrValidation)
	}
	if time.Now().UnixMilli() > expiresAt {
		return fmt.Errorf("%w: signed url expired", apperrors.ErrUnauthenticated)
	}

	payload := fmt.Sprintf("%s:%s:%d", tenantID, relPath, expiresAt)
	if !utils.VerifyHMAC(payload, sig, b.secret) {
		return fmt.Errorf("%w: signature mismatch", apperrors.ErrUnauthenticated)
	}
	return b.validate(tenantID, relPath)
}

// DownloadPath fetches a file by its already-validated relative path. Used
// by the signed-URL handler after VerifySignedURL.
func (b *Bucket) DownloadPath(tenantID uuid.UUID, relPath string) ([]byte, error) {
	if err := b.validate(tenantID, relPath); err != nil {
		return nil, err
	}
	return b.backend.Read(relPath)
}
