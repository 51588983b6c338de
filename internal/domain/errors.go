package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrDuplicateName is returned when a player name collides with an
	// existing leaderboard entry (case-insensitive).
	ErrDuplicateName = errors.New("name already on the leaderboard")
	// ErrAuth is returned when both identity refresh and anonymous sign-up
	// failed; the operation that needed a token cannot proceed.
	ErrAuth = errors.New("could not obtain an identity")
	// ErrLoadFailed marks a leaderboard read that could not complete.
	ErrLoadFailed = errors.New("failed to load leaderboard")
	// ErrSaveFailed marks a score write that failed after the fallback
	// attempt for a reason other than authorization.
	ErrSaveFailed = errors.New("failed to save score")
	// ErrQuizAlreadyPlayed is the authorization-flavored save failure: the
	// store refused a second entry for this identity.
	ErrQuizAlreadyPlayed = errors.New("this quiz can only be played once")
)

// ValidationError reports a locally rejected input, such as a malformed
// player name. It never advances session state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
