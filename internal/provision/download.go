package provision

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"meshnet/internal/fsutil"

	"github.com/docker/go-units"
)

const downloadTimeout = 10 * time.Minute

// NewHTTPClient returns the client used for engine downloads. Only TLS 1.2
// and newer are accepted.
func NewHTTPClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	return &http.Client{Transport: tr, Timeout: downloadTimeout}
}

// download fetches url into dest. The body is streamed into a temp file
// next to dest and renamed into place once complete.
func download(ctx context.Context, client *http.Client, url, dest string, perm os.FileMode) error {
	log := slog.With("component", "provision", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %s", url, resp.Status)
	}

	log.Info("downloading", "dest", dest, "size", units.HumanSize(float64(resp.ContentLength)))
	var n int64
	err = fsutil.WriteAtomic(dest, perm, func(w io.Writer) error {
		var cerr error
		n, cerr = io.Copy(w, resp.Body)
		return cerr
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", url, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		_ = os.Remove(dest)
		return fmt.Errorf("get %s: short body, got %d of %d bytes", url, n, resp.ContentLength)
	}
	log.Debug("downloaded", "bytes", units.HumanSize(float64(n)))
	return nil
}
