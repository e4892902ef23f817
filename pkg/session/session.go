// Package session defines the boundary between the collection engine and
// whatever drives the source feed. Adapters report what happened and never
// retry or back off on their own.
package session

import (
	"context"
	"fmt"

	"xscrap/pkg/models"
)

// AdvanceResult is what a session reports after trying to load more content
type AdvanceResult int

const (
	MoreContent AdvanceResult = iota
	EndOfContent
	ChallengeDetected
	TransientError
)

func (r AdvanceResult) String() string {
	switch r {
	case MoreContent:
		return "more_content"
	case EndOfContent:
		return "end_of_content"
	case ChallengeDetected:
		return "challenge_detected"
	case TransientError:
		return "transient_error"
	default:
		return fmt.Sprintf("advance_result(%d)", int(r))
	}
}

// ParseAdvanceResult maps the names returned by String back to values
func ParseAdvanceResult(s string) (AdvanceResult, error) {
	switch s {
	case "more_content":
		return MoreContent, nil
	case "end_of_content":
		return EndOfContent, nil
	case "challenge_detected":
		return ChallengeDetected, nil
	case "transient_error":
		return TransientError, nil
	default:
		return 0, fmt.Errorf("unknown advance result %q", s)
	}
}

// Credentials authenticate a session. CookieFile, when set, points at a
// saved browser cookie jar that is tried before the login form.
type Credentials struct {
	Login      string
	Password   string
	CookieFile string
}

// Driver opens authenticated sessions. Open returns an error matching
// errors.ErrAuth when the source rejects the credentials.
type Driver interface {
	Open(ctx context.Context, creds Credentials) (Session, error)
}

// Session is one authenticated, positioned view of a subject's feed
type Session interface {
	// Navigate positions the session at cursor, or at the subject's
	// newest content when cursor is empty
	Navigate(ctx context.Context, subject, cursor string) error

	// ExtractVisible returns the records currently on screen in feed order
	ExtractVisible(ctx context.Context) ([]models.RawItem, error)

	// Advance tries to load more content
	Advance(ctx context.Context) (AdvanceResult, error)

	// Cursor is an opaque token that Navigate accepts to return here
	Cursor() string

	Close() error
}
