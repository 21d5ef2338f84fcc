package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrInvalidQuiz is returned when a quiz definition breaks a structural invariant.
	ErrInvalidQuiz = errors.New("invalid quiz definition")
	// ErrSessionNotFound is returned when a chat has no live session.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a user acts in a session they never joined.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrNoParticipants is returned when a session is started without anyone to play.
	ErrNoParticipants = errors.New("session needs at least one participant")

	ErrSessionAlreadyActive    = errors.New("chat already has an active quiz session")
	ErrSessionCapacityExceeded = errors.New("too many concurrent quiz sessions")

	// ErrSessionNotActive is returned when an operation needs an active (or paused) session.
	ErrSessionNotActive = errors.New("quiz session is not active")
	// ErrInvalidTransition is returned for events on a session that already terminated.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrStaleAnswer is returned for answers to a question the session already moved past.
	ErrStaleAnswer = errors.New("answer is for a question that is no longer current")
	// ErrDuplicateAnswer is returned when a participant answers the same question twice.
	ErrDuplicateAnswer = errors.New("participant already answered this question")
	// ErrInvalidOption indicates the selected option index does not exist.
	ErrInvalidOption = errors.New("option not found")
)

// IsBenign reports errors that come from normal answer races in group chats.
// Transports drop them without telling the user.
func IsBenign(err error) bool {
	return errors.Is(err, ErrStaleAnswer) || errors.Is(err, ErrDuplicateAnswer)
}

// IsUserFacing reports errors the initiating user should see, e.g. so they can retry later.
func IsUserFacing(err error) bool {
	switch {
	case errors.Is(err, ErrQuizNotFound),
		errors.Is(err, ErrInvalidQuiz),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrParticipantNotFound),
		errors.Is(err, ErrNoParticipants),
		errors.Is(err, ErrSessionAlreadyActive),
		errors.Is(err, ErrSessionCapacityExceeded),
		errors.Is(err, ErrSessionNotActive),
		errors.Is(err, ErrInvalidOption):
		return true
	}
	return false
}
