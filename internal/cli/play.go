package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quizdash/internal/app"
	"quizdash/internal/board"
	"quizdash/internal/config"
	"quizdash/internal/domain"
)

// NewPlayCmd returns the interactive terminal host for a single quiz run.
func NewPlayCmd(configPath *string) *cobra.Command {
	var quizID string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a quiz in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), *configPath, quizID)
		},
	}
	cmd.Flags().StringVar(&quizID, "quiz", "demo", "quiz id to play")
	return cmd
}

func runPlay(ctx context.Context, configPath, quizID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.cleanup()

	quiz, err := d.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return fmt.Errorf("load quiz %q: %w", quizID, err)
	}

	host := newTerminalHost(quiz, d.boards, os.Stdin, os.Stdout)
	defer host.stopTicker()
	return host.run(ctx)
}

// boardService is what the host needs from the leaderboard client.
// Satisfied by *board.Client.
type boardService interface {
	Load(ctx context.Context, quizID string) ([]domain.LeaderboardEntry, error)
	Submit(ctx context.Context, quiz domain.QuizDefinition, name string, rawScore int) (board.SubmitResult, error)
}

// terminalHost executes the machine's effects and renders each phase as a
// line-oriented prompt. Ticks keep flowing from a background goroutine while
// the player thinks, so time shown at the prompt is real.
type terminalHost struct {
	machine  *app.Machine
	boards   boardService
	quiz     domain.QuizDefinition
	in       *bufio.Scanner
	out      io.Writer
	tickStop chan struct{}
	banner   string
	result   *board.SubmitResult
}

func newTerminalHost(quiz domain.QuizDefinition, boards boardService, in io.Reader, out io.Writer) *terminalHost {
	return &terminalHost{
		machine: app.NewMachine(quiz, nil),
		boards:  boards,
		quiz:    quiz,
		in:      bufio.NewScanner(in),
		out:     out,
	}
}

func (h *terminalHost) run(ctx context.Context) error {
	h.loadBoard(ctx)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s := h.machine.Snapshot()
		var again bool
		switch s.Phase {
		case domain.PhaseIntro:
			again = h.intro(ctx)
		case domain.PhaseQuestion:
			again = h.question(ctx)
		case domain.PhaseFeedback:
			again = h.feedback(ctx)
		case domain.PhaseLeaderboard:
			again = h.leaderboard(ctx)
		default:
			return fmt.Errorf("unknown phase %q", s.Phase)
		}
		if !again {
			return nil
		}
	}
}

func (h *terminalHost) exec(ctx context.Context, effects []app.Effect) {
	for _, effect := range effects {
		switch effect := effect.(type) {
		case app.EffectScheduleTick:
			h.startTicker(ctx)
		case app.EffectCancelTick:
			h.stopTicker()
		case app.EffectFinalize:
			h.finalize(ctx, effect)
		case app.EffectLoadBoard:
			h.loadBoard(ctx)
		}
	}
}

func (h *terminalHost) startTicker(ctx context.Context) {
	h.stopTicker()
	stop := make(chan struct{})
	h.tickStop = stop
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = h.machine.Apply(app.EventTick{})
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *terminalHost) stopTicker() {
	if h.tickStop != nil {
		close(h.tickStop)
		h.tickStop = nil
	}
}

func (h *terminalHost) finalize(ctx context.Context, effect app.EffectFinalize) {
	fmt.Fprintln(h.out, "\nSaving your score...")
	res, err := h.boards.Submit(ctx, h.quiz, effect.Name, effect.Score)
	switch {
	case errors.Is(err, domain.ErrQuizAlreadyPlayed):
		h.banner = "This quiz was already played on this identity; the board keeps the first run."
	case errors.Is(err, domain.ErrAuth):
		h.banner = "Could not authenticate with the leaderboard service; your score was not saved."
	case err != nil:
		h.banner = "Could not save your score; the board below may not include this run."
	case res.Replayed:
		h.banner = "A score for this quiz was already submitted from here; keeping the original."
	case res.Degraded:
		h.result = &res
		h.banner = "Score saved (partial indexing; the entry itself is on the board)."
	default:
		h.result = &res
	}
	if err == nil && res.Board != nil {
		h.machine.SetBoard(res.Board)
	}
}

func (h *terminalHost) loadBoard(ctx context.Context) {
	entries, err := h.boards.Load(ctx, h.quiz.ID)
	if err != nil {
		// A pending save-failure banner matters more than a stale board.
		if h.banner == "" {
			h.banner = "Leaderboard is unavailable right now."
		}
		return
	}
	h.machine.SetBoard(entries)
}

func (h *terminalHost) intro(ctx context.Context) bool {
	fmt.Fprintf(h.out, "\n=== %s ===\n", h.quiz.Title)
	if h.quiz.Intro != "" {
		fmt.Fprintln(h.out, h.quiz.Intro)
	}
	fmt.Fprintf(h.out, "%d questions, %d seconds each. Seconds left when you answer correctly are your points.\n",
		len(h.quiz.Questions), h.quiz.MaxTime)

	if top := h.machine.TopEntries(3); len(top) > 0 {
		fmt.Fprintln(h.out, "\nTop players:")
		for i, entry := range top {
			fmt.Fprintf(h.out, "  %d. %-20s %d\n", i+1, entry.Name, entry.Score)
		}
	}
	h.printBanner()

	for {
		fmt.Fprint(h.out, "\nEnter your name: ")
		if !h.in.Scan() {
			return false
		}
		effects, err := h.machine.Apply(app.EventStart{Name: h.in.Text()})
		if err != nil {
			var verr *domain.ValidationError
			switch {
			case errors.As(err, &verr):
				fmt.Fprintln(h.out, verr.Reason)
			case errors.Is(err, domain.ErrDuplicateName):
				fmt.Fprintln(h.out, "That name is already on the board; pick another.")
			default:
				fmt.Fprintf(h.out, "cannot start: %v\n", err)
			}
			continue
		}
		h.exec(ctx, effects)
		return true
	}
}

func (h *terminalHost) question(ctx context.Context) bool {
	s := h.machine.Snapshot()
	q := s.Working[s.Current]
	fmt.Fprintf(h.out, "\nQuestion %d of %d  (score so far: %d)\n", s.Current+1, len(s.Working), s.Score)
	fmt.Fprintln(h.out, q.Text)
	for i, option := range q.Options {
		fmt.Fprintf(h.out, "  %d) %s\n", i+1, option)
	}

	for {
		remaining := h.machine.Snapshot().TimeRemaining
		fmt.Fprintf(h.out, "[%ds left] your answer (1-%d): ", remaining, len(q.Options))
		if !h.in.Scan() {
			return false
		}
		choice, err := strconv.Atoi(strings.TrimSpace(h.in.Text()))
		if err != nil {
			fmt.Fprintln(h.out, "enter the number of an option")
			continue
		}
		if _, err := h.machine.Apply(app.EventSelect{Option: choice - 1}); err != nil {
			var verr *domain.ValidationError
			if errors.As(err, &verr) {
				fmt.Fprintln(h.out, verr.Reason)
			}
			continue
		}
		effects, _ := h.machine.Apply(app.EventSubmit{})
		h.exec(ctx, effects)
		return true
	}
}

func (h *terminalHost) feedback(ctx context.Context) bool {
	s := h.machine.Snapshot()
	if s.Correct {
		fmt.Fprintf(h.out, "Correct! +%d points.\n", s.Awarded)
	} else {
		q := s.Working[s.Current]
		fmt.Fprintf(h.out, "Wrong. The answer was: %s\n", q.Options[q.CorrectOption])
	}
	fmt.Fprint(h.out, "Press Enter to continue...")
	if !h.in.Scan() {
		return false
	}
	effects, _ := h.machine.Apply(app.EventAdvance{})
	h.exec(ctx, effects)
	return true
}

func (h *terminalHost) leaderboard(ctx context.Context) bool {
	s := h.machine.Snapshot()
	fmt.Fprintf(h.out, "\nQuiz complete, %s! Final score: %d\n", s.PlayerName, s.Score)
	h.printBanner()

	entries := s.Board
	limit := 10
	if limit > len(entries) {
		limit = len(entries)
	}
	if limit > 0 {
		fmt.Fprintln(h.out, "\nLeaderboard:")
	}
	for i, entry := range entries[:limit] {
		marker := ""
		if h.result != nil && entry.SubjectID == h.result.Entry.SubjectID {
			marker = "  <- you"
		}
		fmt.Fprintf(h.out, "  %2d. %-20s %5d%s\n", i+1, entry.Name, entry.Score, marker)
	}

	fmt.Fprint(h.out, "\nPlay again? [y/N]: ")
	if !h.in.Scan() {
		return false
	}
	if answer := strings.ToLower(strings.TrimSpace(h.in.Text())); answer != "y" && answer != "yes" {
		return false
	}
	h.result = nil
	effects, _ := h.machine.Apply(app.EventRestart{})
	h.exec(ctx, effects)
	return true
}

func (h *terminalHost) printBanner() {
	if h.banner == "" {
		return
	}
	fmt.Fprintf(h.out, "\n! %s\n", h.banner)
	h.banner = ""
}
