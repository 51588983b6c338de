package domain

// Question is a single multiple-choice question with exactly four options.
type Question struct {
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectOption int      `json:"correctOption"`
}

// QuizDefinition is the immutable quiz content supplied by the content layer.
// The core only reads it; per-session working copies are shuffled separately.
type QuizDefinition struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Intro     string     `json:"intro,omitempty"`
	MaxTime   int        `json:"maxTime"` // seconds per question
	Questions []Question `json:"questions"`
}

// MaxScore is the ceiling any session score can reach for this quiz.
func (q QuizDefinition) MaxScore() int {
	return q.MaxTime * len(q.Questions)
}

// Identity is an ephemeral anonymous identity issued by the identity service.
// A refresh or reissue supersedes the whole value; fields are never mutated
// in place.
type Identity struct {
	SubjectID    string `json:"subjectId"`
	BearerToken  string `json:"bearerToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"` // unix millis
}

// LeaderboardEntry is one persisted score row. At most one entry exists per
// (subject, quiz) pair; the store assigns Timestamp at write time.
type LeaderboardEntry struct {
	SubjectID          string `json:"subjectId"`
	Name               string `json:"name"`
	NameSlug           string `json:"nameSlug"`
	Score              int    `json:"score"`
	Timestamp          int64  `json:"timestamp"`
	DeviceFingerprint  string `json:"deviceFingerprint"`
	MachineFingerprint string `json:"machineFingerprint"`
	QuizID             string `json:"quizId"`
}

// Phase is the user-visible stage of a session.
type Phase string

const (
	PhaseIntro       Phase = "intro"
	PhaseQuestion    Phase = "question"
	PhaseFeedback    Phase = "feedback"
	PhaseLeaderboard Phase = "leaderboard"
)
