package storage

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildgrid/platform/shared/apperrors"
)

func newTestBucket(t *testing.T) *Bucket {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return NewBucket(backend, "test-url-secret", nil)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "invoice.pdf", SanitizeFilename("invoice.pdf"))
	assert.Equal(t, "..etcpasswd", SanitizeFilename("../etc/passwd"))
	assert.Equal(t, "report_v2-final.xlsx", SanitizeFilename("report_v2-final.xlsx"))
	assert.Equal(t, "", SanitizeFilename("///"))
}

func TestPathLayout(t *testing.T) {
	bucket := newTestBucket(t)
	tenantID := uuid.New()
	projectID := uuid.New()

	p, err := bucket.Path(tenantID, "invoice.pdf", Options{Category: "documents"})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("tenants/%s/documents/invoice.pdf", tenantID), p)

	p, err = bucket.Path(tenantID, "plan.dwg", Options{ProjectID: &projectID, Category: "drawings"})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("tenants/%s/projects/%s/drawings/plan.dwg", tenantID, projectID), p)

	p, err = bucket.Path(tenantID, "notes.txt", Options{})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("tenants/%s/notes.txt", tenantID), p)
}

func TestPathRejectsTraversal(t *testing.T) {
	bucket := newTestBucket(t)
	tenantID := uuid.New()

	// Sanitization strips the separators, so these collapse to flat names
	// or fail validation; none may escape the tenant root.
	for _, name := range []string{
		"../../etc/passwd",
		"..%2F..%2Fetc%2Fpasswd",
		"....//secrets",
		"...",
		"..",
	} {
		p, err := bucket.Path(tenantID, name, Options{})
		if err != nil {
			continue
		}
		assert.True(t, strings.HasPrefix(p, "tenants/"+tenantID.String()+"/"),
			"path %q from input %q escapes the tenant root", p, name)
	}
}

func TestValidateRejectsEncodedTraversal(t *testing.T) {
	bucket := newTestBucket(t)
	tenantID := uuid.New()

	escaped := "tenants/" + tenantID.String() + "/" + url.PathEscape("../") + "other"
	err := bucket.validate(tenantID, escaped)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	err = bucket.validate(tenantID, "tenants/"+uuid.New().String()+"/file.txt")
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	bucket := newTestBucket(t)
	tenantID := uuid.New()
	content := []byte("total: 12,500 EUR")

	result, err := bucket.Upload(tenantID, "invoice.pdf", content, Options{Category: "documents"})
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("tenants/%s/documents/invoice.pdf", tenantID), result.Path)

	got, err := bucket.Download(tenantID, "invoice.pdf", Options{Category: "documents"})
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// A different tenant never sees the file.
	_, err = bucket.Download(uuid.New(), "invoice.pdf", Options{Category: "documents"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUploadQuotaCheckRunsFirst(t *testing.T) {
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	bucket := NewBucket(backend, "s", func(tenantID uuid.UUID, size int64) error {
		if size > 10 {
			return apperrors.ErrQuotaExceeded
		}
		return nil
	})
	tenantID := uuid.New()

	_, err = bucket.Upload(tenantID, "big.bin", make([]byte, 64), Options{})
	assert.ErrorIs(t, err, apperrors.ErrQuotaExceeded)

	// Nothing was written.
	paths, err := bucket.List(tenantID, Options{})
	require.NoError(t, err)
	assert.Empty(t, paths)

	_, err = bucket.Upload(tenantID, "small.bin", []byte("ok"), Options{})
	require.NoError(t, err)
}

func TestListScopedToTenant(t *testing.T) {
	bucket := newTestBucket(t)
	tenantA := uuid.New()
	tenantB := uuid.New()

	_, err := bucket.Upload(tenantA, "a.txt", []byte("a"), Options{})
	require.NoError(t, err)
	_, err = bucket.Upload(tenantB, "b.txt", []byte("b"), Options{})
	require.NoError(t, err)

	paths, err := bucket.List(tenantA, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, paths)
}

func TestSignedURLRoundTrip(t *testing.T) {
	bucket := newTestBucket(t)
	tenantID := uuid.New()

	_, err := bucket.Upload(tenantID, "handover.pdf", []byte("keys"), Options{})
	require.NoError(t, err)

	signed, err := bucket.SignURL(tenantID, "handover.pdf", 10*time.Minute, Options{})
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	relPath := strings.TrimPrefix(u.Path, "/files/")

	require.NoError(t, bucket.VerifySignedURL(tenantID, relPath, u.Query().Get("expires"), u.Query().Get("sig")))

	content, err := bucket.DownloadPath(tenantID, relPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("keys"), content)
}

func TestSignedURLExpiryAndTamper(t *testing.T) {
	bucket := newTestBucket(t)
	tenantID := uuid.New()

	signed, err := bucket.SignURL(tenantID, "handover.pdf", -1*time.Minute, Options{})
	require.NoError(t, err)
	u, _ := url.Parse(signed)
	relPath := strings.TrimPrefix(u.Path, "/files/")

	err = bucket.VerifySignedURL(tenantID, relPath, u.Query().Get("expires"), u.Query().Get("sig"))
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	// Fresh signature, tampered expiry.
	signed, err = bucket.SignURL(tenantID, "handover.pdf", 10*time.Minute, Options{})
	require.NoError(t, err)
	u, _ = url.Parse(signed)
	relPath = strings.TrimPrefix(u.Path, "/files/")
	farFuture := fmt.Sprintf("%d", time.Now().Add(24*time.Hour).UnixMilli())

	err = bucket.VerifySignedURL(tenantID, relPath, farFuture, u.Query().Get("sig"))
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)

	// Signature from one tenant does not open another tenant's path.
	err = bucket.VerifySignedURL(uuid.New(), relPath, u.Query().Get("expires"), u.Query().Get("sig"))
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestDeleteRemovesFile(t *testing.T) {
	bucket := newTestBucket(t)
	tenantID := uuid.New()

	_, err := bucket.Upload(tenantID, "old.txt", []byte("x"), Options{})
	require.NoError(t, err)

	require.NoError(t, bucket.Delete(tenantID, "old.txt", Options{}))
	assert.ErrorIs(t, bucket.Delete(tenantID, "old.txt", Options{}), apperrors.ErrNotFound)
}
