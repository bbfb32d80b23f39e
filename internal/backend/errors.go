// internal/backend/errors.go
package backend

import (
	"strings"

	"github.com/vaibhavsaha/guestnotes/internal/apperr"
)

// remoteError covers the error payload shapes the service returns: the rows
// API uses message/code/hint, the auth API uses msg or error_description.
type remoteError struct {
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Code             string `json:"code"`
	Hint             string `json:"hint"`
}

// credentialMarkers identify credential-related rejections in payloads that
// arrive without a usable status code. The service does not expose a stable
// error code for these, so the markers mirror the phrases it is known to use.
// This inspection never leaves this package.
var credentialMarkers = []string{
	"jwt",
	"credential",
	"row-level security",
	"not authorized",
	"permission denied",
	"invalid claim",
	"api key",
}

// remoteMessage extracts a human-readable message from an error payload,
// falling back to the raw body. The message is surfaced verbatim inside the
// classified error.
func remoteMessage(body []byte, decoded remoteError) string {
	for _, candidate := range []string{
		decoded.Message,
		decoded.Msg,
		decoded.ErrorDescription,
		decoded.ErrorCode,
	} {
		if candidate != "" {
			return candidate
		}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	return "remote call failed"
}

func isCredentialMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range credentialMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// classifyStatus translates a non-2xx remote response into the taxonomy.
// write selects KindWrite over KindFetch for non-credential failures.
func classifyStatus(status int, msg string, write bool) error {
	if status == 401 || status == 403 || isCredentialMessage(msg) {
		return apperr.New(apperr.KindAuthRequired, msg)
	}
	if write {
		return apperr.New(apperr.KindWrite, msg)
	}
	return apperr.New(apperr.KindFetch, msg)
}

// classifyTransport translates a transport-level failure (connection,
// timeout, malformed response) into the taxonomy.
func classifyTransport(msg string, cause error, write bool) error {
	if write {
		return apperr.Wrap(apperr.KindWrite, msg, cause)
	}
	return apperr.Wrap(apperr.KindFetch, msg, cause)
}
