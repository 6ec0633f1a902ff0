package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ErrDownloadFailed wraps any failure to pull the credential blob from the
// external store. Handlers map it to HTTP 500; the caller may retry.
var ErrDownloadFailed = errors.New("session download failed")

const credsFileName = "creds.json"

// Resolver exchanges a parsed session reference for raw credential bytes
// and persists them into the tenant's storage slot. It only ever touches
// the flat creds.json snapshot; the connection manager owns the richer
// per-tenant store.
type Resolver struct {
	baseURL     string
	sessionRoot string
	client      *http.Client
}

// NewResolver creates a resolver against the given blob store base URL,
// writing under sessionRoot. Every fetch is bounded by timeout.
func NewResolver(baseURL, sessionRoot string, timeout time.Duration) *Resolver {
	return &Resolver{
		baseURL:     baseURL,
		sessionRoot: sessionRoot,
		client:      &http.Client{Timeout: timeout},
	}
}

// TenantDir returns the tenant's storage slot, creating it if absent.
func (r *Resolver) TenantDir(tenantID string) (string, error) {
	dir := filepath.Join(r.sessionRoot, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating session path: %w", err)
	}
	return dir, nil
}

// CredsPath returns the location of the tenant's flat credential snapshot.
func (r *Resolver) CredsPath(tenantID string) string {
	return filepath.Join(r.sessionRoot, tenantID, credsFileName)
}

// FetchAndPersist downloads the blob addressed by ref and writes it
// verbatim to the tenant's creds.json, overwriting any prior content.
// Nothing is written when the download fails.
func (r *Resolver) FetchAndPersist(ctx context.Context, tenantID string, ref Reference) error {
	dir, err := r.TenantDir(tenantID)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/%s#%s", r.baseURL, ref.BlobID, ref.DecryptKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		log.Printf("ERROR: Tenant %s - Session download failed: %v", tenantID, err)
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("ERROR: Tenant %s - Blob store returned status %d", tenantID, resp.StatusCode)
		return fmt.Errorf("%w: blob store status %d", ErrDownloadFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	if err := os.WriteFile(filepath.Join(dir, credsFileName), data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	log.Printf("DEBUG: Tenant %s - Credential blob persisted (%d bytes)", tenantID, len(data))
	return nil
}
