package app

import (
	"regexp"
	"strings"
	"sync"

	"quizdash/internal/domain"
)

// Event is an input to the session state machine. Ticks come from the host's
// scheduler, everything else from the player.
type Event interface{ isEvent() }

type EventStart struct{ Name string }
type EventTick struct{}
type EventSelect struct{ Option int }
type EventSubmit struct{}
type EventAdvance struct{}
type EventRestart struct{}

func (EventStart) isEvent()   {}
func (EventTick) isEvent()    {}
func (EventSelect) isEvent()  {}
func (EventSubmit) isEvent()  {}
func (EventAdvance) isEvent() {}
func (EventRestart) isEvent() {}

// Effect is a side effect requested by a transition. The machine never
// performs effects itself; the host executes them, which keeps transitions
// deterministic under test.
type Effect interface{ isEffect() }

// EffectScheduleTick asks the host to deliver EventTick once per second
// until cancelled.
type EffectScheduleTick struct{}

// EffectCancelTick stops tick delivery. Emitted on every transition out of
// the question phase so no orphaned ticks survive.
type EffectCancelTick struct{}

// EffectFinalize asks the host to persist the finished run.
type EffectFinalize struct {
	Name  string
	Score int
}

// EffectLoadBoard asks the host to (re)load the leaderboard and install it
// with SetBoard.
type EffectLoadBoard struct{}

func (EffectScheduleTick) isEffect() {}
func (EffectCancelTick) isEffect()   {}
func (EffectFinalize) isEffect()     {}
func (EffectLoadBoard) isEffect()    {}

// Session is the machine's state. Snapshots handed to hosts are copies and
// must be treated as read-only.
type Session struct {
	Quiz          domain.QuizDefinition
	Phase         domain.Phase
	PlayerName    string
	Current       int
	TimeRemaining int
	Selected      int // -1 when nothing is selected
	Submitted     bool
	Correct       bool
	Awarded       int
	Score         int
	Working       []domain.Question
	Board         []domain.LeaderboardEntry
}

var (
	nameRE  = regexp.MustCompile(`^[A-Za-z0-9 .,'_-]{2,30}$`)
	spaceRE = regexp.MustCompile(`\s+`)
)

// CleanName trims and collapses internal whitespace the way the start
// transition does, so hosts can echo the canonical form.
func CleanName(raw string) string {
	return spaceRE.ReplaceAllString(strings.TrimSpace(raw), " ")
}

// Machine drives a single timed quiz run: intro -> question -> feedback ->
// ... -> leaderboard. One machine serves one player at a time; Apply is safe
// for the host's tick goroutine and input goroutine to call concurrently.
type Machine struct {
	mu       sync.Mutex
	shuffler *Shuffler
	s        Session
}

func NewMachine(quiz domain.QuizDefinition, shuffler *Shuffler) *Machine {
	if shuffler == nil {
		shuffler = NewShuffler()
	}
	m := &Machine{shuffler: shuffler}
	m.s = Session{
		Quiz:          quiz,
		Phase:         domain.PhaseIntro,
		TimeRemaining: quiz.MaxTime,
		Selected:      -1,
	}
	return m
}

// SetBoard installs the currently loaded leaderboard. It backs the intro
// snapshot and the duplicate-name check.
func (m *Machine) SetBoard(entries []domain.LeaderboardEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.Board = entries
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s
}

// Apply runs one transition and returns the side effects the host must
// execute. Events that do not apply to the current phase are ignored rather
// than treated as errors; a stale tick or double click is not a fault.
func (m *Machine) Apply(ev Event) ([]Effect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev := ev.(type) {
	case EventStart:
		return m.start(ev.Name)
	case EventTick:
		m.tick()
		return nil, nil
	case EventSelect:
		return m.selectOption(ev.Option)
	case EventSubmit:
		return m.submit()
	case EventAdvance:
		return m.advance()
	case EventRestart:
		return m.restart()
	}
	return nil, nil
}

func (m *Machine) start(rawName string) ([]Effect, error) {
	if m.s.Phase != domain.PhaseIntro {
		return nil, nil
	}
	name := CleanName(rawName)
	if !nameRE.MatchString(name) {
		return nil, &domain.ValidationError{Reason: "please enter a valid name (2-30 characters)"}
	}
	for _, entry := range m.s.Board {
		if strings.EqualFold(entry.Name, name) {
			return nil, domain.ErrDuplicateName
		}
	}

	m.s.PlayerName = name
	m.s.Working = m.shuffler.Shuffle(m.s.Quiz.Questions)
	m.s.Current = 0
	m.s.TimeRemaining = m.s.Quiz.MaxTime
	m.s.Selected = -1
	m.s.Submitted = false
	m.s.Correct = false
	m.s.Awarded = 0
	m.s.Score = 0
	m.s.Phase = domain.PhaseQuestion
	return []Effect{EffectScheduleTick{}}, nil
}

func (m *Machine) tick() {
	if m.s.Phase != domain.PhaseQuestion || m.s.Submitted {
		return
	}
	if m.s.TimeRemaining > 0 {
		m.s.TimeRemaining--
	}
	// Hitting zero does not auto-submit; it only exhausts the scoring
	// potential for this question.
}

func (m *Machine) selectOption(option int) ([]Effect, error) {
	if m.s.Phase != domain.PhaseQuestion || m.s.Submitted {
		return nil, nil
	}
	if option < 0 || option >= len(m.s.Working[m.s.Current].Options) {
		return nil, &domain.ValidationError{Reason: "option out of range"}
	}
	m.s.Selected = option
	return nil, nil
}

func (m *Machine) submit() ([]Effect, error) {
	if m.s.Phase != domain.PhaseQuestion || m.s.Submitted || m.s.Selected < 0 {
		return nil, nil
	}
	correct, points := Score(m.s.Working[m.s.Current], m.s.Selected, m.s.TimeRemaining)
	m.s.Submitted = true
	m.s.Correct = correct
	m.s.Awarded = points
	m.s.Score = ClampScore(m.s.Score+points, m.s.Quiz.MaxScore())
	m.s.Phase = domain.PhaseFeedback
	return []Effect{EffectCancelTick{}}, nil
}

func (m *Machine) advance() ([]Effect, error) {
	if m.s.Phase != domain.PhaseFeedback {
		return nil, nil
	}
	if m.s.Current < len(m.s.Working)-1 {
		m.s.Current++
		m.s.TimeRemaining = m.s.Quiz.MaxTime
		m.s.Selected = -1
		m.s.Submitted = false
		m.s.Correct = false
		m.s.Awarded = 0
		m.s.Phase = domain.PhaseQuestion
		return []Effect{EffectScheduleTick{}}, nil
	}
	// Last question: the run is finalized and the leaderboard is shown no
	// matter what happens to the write; a failed save becomes a banner, not
	// a blocked transition.
	m.s.Phase = domain.PhaseLeaderboard
	return []Effect{
		EffectFinalize{Name: m.s.PlayerName, Score: m.s.Score},
		EffectLoadBoard{},
	}, nil
}

func (m *Machine) restart() ([]Effect, error) {
	board := m.s.Board
	m.s = Session{
		Quiz:          m.s.Quiz,
		Phase:         domain.PhaseIntro,
		TimeRemaining: m.s.Quiz.MaxTime,
		Selected:      -1,
		Board:         board,
	}
	return []Effect{EffectCancelTick{}, EffectLoadBoard{}}, nil
}

// TopEntries returns the first n loaded entries for the intro snapshot.
func (m *Machine) TopEntries(n int) []domain.LeaderboardEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.s.Board) {
		n = len(m.s.Board)
	}
	out := make([]domain.LeaderboardEntry, n)
	copy(out, m.s.Board[:n])
	return out
}
