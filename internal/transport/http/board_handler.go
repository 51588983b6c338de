// Package http exposes the venue display feed: a websocket that pushes
// ranked leaderboard snapshots to full-board screens.
package http

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quizdash/internal/domain"
)

// BoardSource loads the current board for a quiz. Satisfied by
// *board.Client.
type BoardSource interface {
	Load(ctx context.Context, quizID string) ([]domain.LeaderboardEntry, error)
}

type BoardHandler struct {
	boards   BoardSource
	upgrader websocket.Upgrader
	interval time.Duration
}

// NewBoardHandler builds a handler that refreshes every interval (display
// screens do not need sub-second updates; 10s default).
func NewBoardHandler(boards BoardSource, interval time.Duration) *BoardHandler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &BoardHandler{
		boards:   boards,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type string `json:"type"`
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type boardSnapshot struct {
	QuizID    string                    `json:"quizId"`
	Entries   []domain.LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time                 `json:"updatedAt"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and streams board snapshots until the client
// goes away. An inbound {"type":"refresh"} forces an immediate reload.
func (h *BoardHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage, 8)
	refresh := make(chan struct{}, 1)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(send)
		h.push(r.Context(), quizID, send, done)
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.push(r.Context(), quizID, send, done)
			case <-refresh:
				h.push(r.Context(), quizID, send, done)
			case <-done:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type == "refresh" {
			select {
			case refresh <- struct{}{}:
			default:
			}
		}
	}

	close(done)
	<-writerDone
}

// push loads and sends one snapshot. Sends also wait on done: if the writer
// died with the buffer full, a plain send would park this goroutine forever.
func (h *BoardHandler) push(ctx context.Context, quizID string, send chan<- outboundMessage, done <-chan struct{}) {
	var msg outboundMessage
	entries, err := h.boards.Load(ctx, quizID)
	if err != nil {
		msg = outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}}
	} else {
		msg = outboundMessage{Type: "board", Payload: boardSnapshot{
			QuizID:    quizID,
			Entries:   entries,
			UpdatedAt: time.Now(),
		}}
	}
	select {
	case send <- msg:
	case <-done:
	}
}
