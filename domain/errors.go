package domain

import "errors"

var (
	// ErrEmptyTitle rejects an add whose title is blank after trimming.
	ErrEmptyTitle = errors.New("task title is empty")

	// ErrMissingID rejects an update or delete without a task id.
	ErrMissingID = errors.New("task id is missing")

	ErrInvalidPriority = errors.New("invalid priority")
	ErrInvalidCategory = errors.New("invalid category")

	// ErrNoRows signals a write that succeeded but matched or returned no row,
	// usually a wrong id or a task owned by someone else.
	ErrNoRows = errors.New("no matching task returned")

	// ErrUnauthenticated is returned by every operation on an anonymous session.
	ErrUnauthenticated = errors.New("no authenticated user")
)

// Kind classifies a failed operation.
type Kind int

const (
	KindNone Kind = iota
	KindPrecondition
	KindEmptyResult
	KindUnauthenticated
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPrecondition:
		return "precondition"
	case KindEmptyResult:
		return "empty_result"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRemote:
		return "remote"
	}
	return "unknown"
}

// Classify maps err onto the failure taxonomy. Anything not recognised is a
// remote failure.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrEmptyTitle), errors.Is(err, ErrMissingID),
		errors.Is(err, ErrInvalidPriority), errors.Is(err, ErrInvalidCategory):
		return KindPrecondition
	case errors.Is(err, ErrNoRows):
		return KindEmptyResult
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	}
	return KindRemote
}
