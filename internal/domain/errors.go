package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures by how the orchestrator reacts to them.
type ErrorKind string

const (
	// KindAuth aborts the run without touching any cursor.
	KindAuth ErrorKind = "auth"
	// KindTransientNetwork skips the page or item; it is retried next run.
	KindTransientNetwork ErrorKind = "transient_network"
	// KindMediaDownload degrades one attachment to its fallback URL.
	KindMediaDownload ErrorKind = "media_download"
	// KindStoreIntegrity is a constraint violation, treated as already archived.
	KindStoreIntegrity ErrorKind = "store_integrity"
	// KindStoreUnavailable aborts the run.
	KindStoreUnavailable ErrorKind = "store_unavailable"
)

type Error struct {
	Kind ErrorKind
	Op   string
	Code int
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func AuthError(op string, code int) *Error {
	return &Error{Kind: KindAuth, Op: op, Code: code}
}

func TransientNetworkError(op string, code int, err error) *Error {
	return &Error{Kind: KindTransientNetwork, Op: op, Code: code, Err: err}
}

func MediaDownloadError(url string, code int, err error) *Error {
	return &Error{Kind: KindMediaDownload, Op: "download " + url, Code: code, Err: err}
}

func StoreIntegrityError(op string, err error) *Error {
	return &Error{Kind: KindStoreIntegrity, Op: op, Err: err}
}

func StoreUnavailableError(op string, err error) *Error {
	return &Error{Kind: KindStoreUnavailable, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	k, ok := KindOf(err)
	return ok && (k == KindAuth || k == KindStoreUnavailable)
}

// KindForStatus maps a non-2xx API status code onto the taxonomy.
func KindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	default:
		return KindTransientNetwork
	}
}

// IsRetryableStatusCode reports whether a request is worth repeating within the same run.
func IsRetryableStatusCode(code int) bool {
	switch code {
	case 0, http.StatusTooManyRequests:
		return true
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	default:
		return code >= 500
	}
}
