// Package board reads and writes the shared leaderboard. Writes are guarded
// against replay both locally (durable marker) and remotely (probe of the
// entry's primary location); the remote answer wins when they disagree.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"quizdash/internal/domain"
)

// MarkerStore is the durable local store holding the per-quiz "already
// submitted" marker.
type MarkerStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// TokenSource hands out a currently valid identity. Satisfied by
// *auth.Manager.
type TokenSource interface {
	Valid(ctx context.Context) (domain.Identity, error)
}

// Fingerprinter produces the salted anti-abuse hashes recorded with every
// entry. Satisfied by *fingerprint.Generator.
type Fingerprinter interface {
	Device(salt string) string
	Machine(salt string) string
}

// Client talks to the path-addressed JSON store behind the leaderboard.
// Endpoints are injected; nothing global.
type Client struct {
	baseURL string
	http    *http.Client
	ids     TokenSource
	prints  Fingerprinter
	markers MarkerStore
	now     func() time.Time
}

func NewClient(baseURL string, ids TokenSource, prints Fingerprinter, markers MarkerStore) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		ids:     ids,
		prints:  prints,
		markers: markers,
		now:     time.Now,
	}
}

// serverTimestamp is the sentinel the store replaces with its own clock at
// write time.
var serverTimestamp = map[string]string{".sv": "timestamp"}

// Load returns the quiz's entries sorted by score descending, ties broken by
// newer server timestamp first. A missing collection is an empty board, not
// an error.
func (c *Client) Load(ctx context.Context, quizID string) ([]domain.LeaderboardEntry, error) {
	id, err := c.ids.Valid(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoadFailed, err)
	}

	// Cache-busting timestamp mirrors the no-store semantics the display
	// views rely on.
	endpoint := c.entryCollectionURL(quizID, id.BearerToken) + "&t=" + strconv.FormatInt(c.now().UnixMilli(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoadFailed, err)
	}
	req.Header.Set("Cache-Control", "no-store")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoadFailed, err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", domain.ErrLoadFailed, res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoadFailed, err)
	}
	entries, err := decodeEntries(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrLoadFailed, err)
	}
	SortEntries(entries)
	return entries, nil
}

func decodeEntries(body []byte) ([]domain.LeaderboardEntry, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	byID := map[string]domain.LeaderboardEntry{}
	if err := json.Unmarshal(body, &byID); err != nil {
		return nil, err
	}
	entries := make([]domain.LeaderboardEntry, 0, len(byID))
	for _, entry := range byID {
		entries = append(entries, entry)
	}
	return entries, nil
}

// SortEntries orders entries score descending, then server timestamp
// descending.
func SortEntries(entries []domain.LeaderboardEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Timestamp > entries[j].Timestamp
	})
}

// SubmitResult reports how a submission concluded.
type SubmitResult struct {
	// Entry is the persisted row, re-read from the store so it carries the
	// server-assigned timestamp. Zero when Replayed.
	Entry domain.LeaderboardEntry
	// Board is the reloaded leaderboard after a successful write.
	Board []domain.LeaderboardEntry
	// Replayed means a previous submission already exists and this call was
	// a deliberate no-op, not a failure.
	Replayed bool
	// Degraded means the multi-location write was refused and only the
	// primary entry was persisted, without its secondary indices.
	Degraded bool
}

// Submit persists one entry for (identity, quiz). The entry is written at
// most once per identity: local marker and remote probe both short-circuit
// into a Replayed no-op.
func (c *Client) Submit(ctx context.Context, quiz domain.QuizDefinition, name string, rawScore int) (SubmitResult, error) {
	markerKey := "submitted/" + quiz.ID
	if _, ok, err := c.markers.Get(ctx, markerKey); err == nil && ok {
		return SubmitResult{Replayed: true}, nil
	}

	id, err := c.ids.Valid(ctx)
	if err != nil {
		return SubmitResult{}, err
	}

	// Best-effort remote probe: the local marker can be lost (cleared
	// profile, new device) while the identity persists. A hit means this
	// identity already played; backfill the marker and stop.
	if c.probeExisting(ctx, quiz.ID, id) {
		if err := c.markers.Set(ctx, markerKey, "1"); err != nil {
			log.Printf("backfill replay marker: %v", err)
		}
		return SubmitResult{Replayed: true}, nil
	}

	score := clamp(rawScore, quiz.MaxScore())
	payload := map[string]interface{}{
		"subjectId":          id.SubjectID,
		"name":               name,
		"nameSlug":           Slug(name),
		"score":              score,
		"timestamp":          serverTimestamp,
		"deviceFingerprint":  c.prints.Device(quiz.ID),
		"machineFingerprint": c.prints.Machine(quiz.ID),
		"quizId":             quiz.ID,
	}

	degraded := false
	status, err := c.writeIndexed(ctx, quiz.ID, id, payload)
	if err == nil && isAuthRejection(status) {
		// Degraded but successful outcome: the entry alone, no secondary
		// indices.
		degraded = true
		status, err = c.writePrimary(ctx, quiz.ID, id, payload)
	}
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", domain.ErrSaveFailed, err)
	}
	if isAuthRejection(status) {
		return SubmitResult{}, domain.ErrQuizAlreadyPlayed
	}
	if status < 200 || status > 299 {
		return SubmitResult{}, fmt.Errorf("%w: status %d", domain.ErrSaveFailed, status)
	}

	if err := c.markers.Set(ctx, markerKey, "1"); err != nil {
		log.Printf("set replay marker: %v", err)
	}

	result := SubmitResult{Degraded: degraded}
	result.Board, err = c.Load(ctx, quiz.ID)
	if err != nil {
		// The write succeeded; a failed reload only costs the fresh view.
		log.Printf("reload after submit: %v", err)
		err = nil
	}
	result.Entry = c.findOwn(result.Board, id.SubjectID, name, score)
	return result, nil
}

// probeExisting reports whether the store already holds an entry at this
// identity's primary location. Errors count as "no": the guard is advisory
// and must never block a legitimate first submission.
func (c *Client) probeExisting(ctx context.Context, quizID string, id domain.Identity) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.entryURL(quizID, id.SubjectID, id.BearerToken), nil)
	if err != nil {
		return false
	}
	res, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return false
	}
	trimmed := strings.TrimSpace(string(body))
	return trimmed != "" && trimmed != "null"
}

// writeIndexed attempts the multi-location write: the entry plus the
// name->subject and fingerprint->subject secondary indices. The locations
// are not transactional; a lagging index is degradation, not corruption,
// because indices are never authoritative.
func (c *Client) writeIndexed(ctx context.Context, quizID string, id domain.Identity, payload map[string]interface{}) (int, error) {
	device, _ := payload["deviceFingerprint"].(string)
	machine, _ := payload["machineFingerprint"].(string)
	slug, _ := payload["nameSlug"].(string)

	update := map[string]interface{}{
		"leaderboard/" + quizID + "/" + id.SubjectID:     payload,
		"leaderboard-names/" + quizID + "/" + slug:       id.SubjectID,
		"leaderboard-devices/" + quizID + "/" + device:   id.SubjectID,
		"leaderboard-machines/" + quizID + "/" + machine: id.SubjectID,
	}
	return c.write(ctx, http.MethodPatch, c.rootURL(id.BearerToken), update)
}

func (c *Client) writePrimary(ctx context.Context, quizID string, id domain.Identity, payload map[string]interface{}) (int, error) {
	return c.write(ctx, http.MethodPut, c.entryURL(quizID, id.SubjectID, id.BearerToken), payload)
}

func (c *Client) write(ctx context.Context, method, endpoint string, body interface{}) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<12))
	return res.StatusCode, nil
}

func (c *Client) findOwn(entries []domain.LeaderboardEntry, subjectID, name string, score int) domain.LeaderboardEntry {
	for _, entry := range entries {
		if entry.SubjectID == subjectID {
			return entry
		}
	}
	return domain.LeaderboardEntry{SubjectID: subjectID, Name: name, NameSlug: Slug(name), Score: score}
}

func isAuthRejection(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

func clamp(raw, max int) int {
	if raw < 0 {
		return 0
	}
	if raw > max {
		return max
	}
	return raw
}

var slugStripRE = regexp.MustCompile(`[^a-z0-9\s]+`)

// Slug is the lowercased, punctuation-stripped, hyphen-joined form of a
// player name, used as the key of the name->subject index.
func Slug(name string) string {
	lowered := strings.ToLower(name)
	stripped := slugStripRE.ReplaceAllString(lowered, "")
	return strings.Join(strings.Fields(stripped), "-")
}

func (c *Client) rootURL(token string) string {
	return c.baseURL + "/.json?auth=" + url.QueryEscape(token)
}

func (c *Client) entryCollectionURL(quizID, token string) string {
	return c.baseURL + "/leaderboard/" + url.PathEscape(quizID) + ".json?auth=" + url.QueryEscape(token)
}

func (c *Client) entryURL(quizID, subjectID, token string) string {
	return c.baseURL + "/leaderboard/" + url.PathEscape(quizID) + "/" + url.PathEscape(subjectID) + ".json?auth=" + url.QueryEscape(token)
}
