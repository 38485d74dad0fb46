package export

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/menta2k/membercard/pkg/types"
)

// DefaultRevokeDelay is how long a temporary artifact URL stays valid after
// a download started.
const DefaultRevokeDelay = 100 * time.Millisecond

// FileName returns the download name for a member's card.
func FileName(memberID string) string {
	if memberID == "" {
		return "membership-card.png"
	}
	return fmt.Sprintf("membership-card-%s.png", memberID)
}

// Download writes the artifact as an attachment.
func Download(w http.ResponseWriter, art *types.Artifact, filename string) error {
	if art == nil || len(art.Data) == 0 {
		return ErrNotReady
	}
	h := w.Header()
	h.Set("Content-Type", art.MIME)
	h.Set("Content-Length", strconv.Itoa(len(art.Data)))
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(art.Data); err != nil {
		return fmt.Errorf("export: write download: %w", err)
	}
	return nil
}

// RevokeAfter calls revoke once delay has passed. The returned timer can be
// stopped to cancel the revocation.
func RevokeAfter(delay time.Duration, revoke func()) *time.Timer {
	if delay <= 0 {
		delay = DefaultRevokeDelay
	}
	return time.AfterFunc(delay, revoke)
}
