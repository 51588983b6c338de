package app

import "quizdash/internal/domain"

// Score evaluates a selected option against a question. A correct answer is
// worth the seconds left on the clock; anything else, including a correct
// answer at zero seconds, is worth nothing.
func Score(q domain.Question, selected, timeRemaining int) (correct bool, points int) {
	correct = selected == q.CorrectOption
	if !correct || timeRemaining <= 0 {
		return correct, 0
	}
	return true, timeRemaining
}

// ClampScore bounds a raw score to [0, maxScore]. Accumulated client state is
// not trusted at submission time.
func ClampScore(raw, maxScore int) int {
	if raw < 0 {
		return 0
	}
	if raw > maxScore {
		return maxScore
	}
	return raw
}
