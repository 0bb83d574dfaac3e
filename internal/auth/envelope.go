package auth

import (
	"net/http"
	"time"

	"github.com/legacy3/wowlab-sub001/internal/domain"
)

// ReplayWindow bounds how far a request timestamp may drift from the
// coordinator's clock before it is rejected as stale or replayed.
const ReplayWindow = 5 * time.Minute

// Envelope is the parsed authentication header set attached to every
// node->coordinator request.
type Envelope struct {
	PublicKeyBase64 string
	SignatureBase64 string
	TimestampUnix   int64
}

// Verify checks the envelope's timestamp against now and, if fresh,
// verifies the signature over the canonical (method, path, body) message.
func (e Envelope) Verify(now time.Time, method, path string, body []byte) error {
	requestTime := time.Unix(e.TimestampUnix, 0)
	drift := now.Sub(requestTime)
	if drift < 0 {
		drift = -drift
	}
	if drift > ReplayWindow {
		return domain.ErrStale
	}

	message := BuildSignMessage(e.TimestampUnix, method, path, body)
	return VerifySignatureBase64(e.PublicKeyBase64, []byte(message), e.SignatureBase64)
}

// StatusForError maps an auth/domain error to the HTTP status a handler
// should respond with.
func StatusForError(err error) int {
	switch err {
	case domain.ErrInvalidEncoding, domain.ErrInvalidKeyLength:
		return http.StatusBadRequest
	case domain.ErrStale, domain.ErrVerificationFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
