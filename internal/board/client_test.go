package board

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"quizdash/internal/domain"
)

// fakeStore emulates the path-addressed JSON tree: per-quiz entry
// collections, multi-path PATCH at the root, single-entry PUT, and the
// server-assigned timestamp sentinel.
type fakeStore struct {
	mu          sync.Mutex
	entries     map[string]map[string]map[string]interface{} // quiz -> subject -> entry
	indexWrites int
	patchCalls  int
	putCalls    int
	rejectPatch bool
	rejectAll   bool
	failAll     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]map[string]map[string]interface{})}
}

func (f *fakeStore) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("auth") != "token-abc" {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		if f.failAll {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		path := strings.TrimSuffix(strings.Trim(r.URL.Path, "/"), ".json")
		parts := strings.Split(path, "/")

		switch {
		case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "leaderboard":
			_ = json.NewEncoder(w).Encode(f.entries[parts[1]])
		case r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "leaderboard":
			entry, ok := f.entries[parts[1]][parts[2]]
			if !ok {
				w.Write([]byte("null"))
				return
			}
			_ = json.NewEncoder(w).Encode(entry)
		case r.Method == http.MethodPatch:
			f.patchCalls++
			if f.rejectPatch || f.rejectAll {
				http.Error(w, "permission denied", http.StatusUnauthorized)
				return
			}
			var update map[string]json.RawMessage
			if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			for location, raw := range update {
				segments := strings.Split(strings.Trim(location, "/"), "/")
				if segments[0] == "leaderboard" && len(segments) == 3 {
					var entry map[string]interface{}
					_ = json.Unmarshal(raw, &entry)
					f.store(segments[1], segments[2], entry)
				} else {
					f.indexWrites++
				}
			}
			w.Write([]byte("{}"))
		case r.Method == http.MethodPut && len(parts) == 3 && parts[0] == "leaderboard":
			f.putCalls++
			if f.rejectAll {
				http.Error(w, "permission denied", http.StatusUnauthorized)
				return
			}
			var entry map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			f.store(parts[1], parts[2], entry)
			w.Write([]byte("{}"))
		default:
			http.NotFound(w, r)
		}
	})
}

// store resolves the timestamp sentinel the way the real store does.
func (f *fakeStore) store(quizID, subjectID string, entry map[string]interface{}) {
	if _, ok := entry["timestamp"].(map[string]interface{}); ok {
		entry["timestamp"] = time.Now().UnixMilli()
	}
	if f.entries[quizID] == nil {
		f.entries[quizID] = make(map[string]map[string]interface{})
	}
	f.entries[quizID][subjectID] = entry
}

func (f *fakeStore) entryCount(quizID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries[quizID])
}

type staticIDs struct{ id domain.Identity }

func (s staticIDs) Valid(context.Context) (domain.Identity, error) { return s.id, nil }

type failingIDs struct{}

func (failingIDs) Valid(context.Context) (domain.Identity, error) {
	return domain.Identity{}, domain.ErrAuth
}

type staticPrints struct{}

func (staticPrints) Device(salt string) string  { return "device-" + salt }
func (staticPrints) Machine(salt string) string { return "machine-" + salt }

type memMarkers struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemMarkers() *memMarkers { return &memMarkers{values: make(map[string]string)} }

func (m *memMarkers) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memMarkers) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func testQuiz() domain.QuizDefinition {
	return domain.QuizDefinition{
		ID:      "weekly-1",
		Title:   "Weekly Trivia",
		MaxTime: 100,
		Questions: []domain.Question{
			{Text: "q1", Options: []string{"a", "b", "c", "d"}, CorrectOption: 0},
			{Text: "q2", Options: []string{"a", "b", "c", "d"}, CorrectOption: 1},
		},
	}
}

func newTestClient(t *testing.T, store *fakeStore) (*Client, *memMarkers) {
	t.Helper()
	server := httptest.NewServer(store.handler())
	t.Cleanup(server.Close)
	markers := newMemMarkers()
	client := NewClient(server.URL, staticIDs{id: domain.Identity{
		SubjectID:   "subject-1",
		BearerToken: "token-abc",
		ExpiresAt:   time.Now().Add(time.Hour).UnixMilli(),
	}}, staticPrints{}, markers)
	return client, markers
}

func TestLoadSortsByScoreThenTimestamp(t *testing.T) {
	store := newFakeStore()
	store.store("weekly-1", "s1", map[string]interface{}{"subjectId": "s1", "name": "Ann", "score": 200, "timestamp": 100})
	store.store("weekly-1", "s2", map[string]interface{}{"subjectId": "s2", "name": "Bob", "score": 300, "timestamp": 50})
	store.store("weekly-1", "s3", map[string]interface{}{"subjectId": "s3", "name": "Cid", "score": 200, "timestamp": 400})
	client, _ := newTestClient(t, store)

	entries, err := client.Load(context.Background(), "weekly-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got := []string{entries[0].SubjectID, entries[1].SubjectID, entries[2].SubjectID}
	want := []string{"s2", "s3", "s1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: got %v want %v", got, want)
		}
	}
}

func TestLoadMissingCollectionIsEmpty(t *testing.T) {
	client, _ := newTestClient(t, newFakeStore())
	entries, err := client.Load(context.Background(), "brand-new")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty board, got %v", entries)
	}
}

func TestLoadFailureIsLoadError(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	client, _ := newTestClient(t, store)

	if _, err := client.Load(context.Background(), "weekly-1"); !errors.Is(err, domain.ErrLoadFailed) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestSubmitWritesEntryAndIndices(t *testing.T) {
	store := newFakeStore()
	client, markers := newTestClient(t, store)

	result, err := client.Submit(context.Background(), testQuiz(), "Ann", 150)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Replayed || result.Degraded {
		t.Fatalf("expected clean first submission, got %+v", result)
	}
	if result.Entry.Score != 150 || result.Entry.Timestamp == 0 {
		t.Fatalf("expected server-stamped entry, got %+v", result.Entry)
	}
	if result.Entry.NameSlug != "ann" || result.Entry.DeviceFingerprint != "device-weekly-1" {
		t.Fatalf("entry missing slug or fingerprint: %+v", result.Entry)
	}
	if store.indexWrites != 3 {
		t.Fatalf("expected name + device + machine index writes, got %d", store.indexWrites)
	}
	if _, ok, _ := markers.Get(context.Background(), "submitted/weekly-1"); !ok {
		t.Fatalf("replay marker not set")
	}
	if len(result.Board) != 1 {
		t.Fatalf("expected reloaded board with the new entry, got %v", result.Board)
	}
}

func TestSubmitClampsScore(t *testing.T) {
	store := newFakeStore()
	client, _ := newTestClient(t, store)

	// 2 questions x 100s ceiling.
	result, err := client.Submit(context.Background(), testQuiz(), "Ann", 99999)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Entry.Score != 200 {
		t.Fatalf("expected clamp to 200, got %d", result.Entry.Score)
	}
}

func TestSecondSubmitIsReplayNoop(t *testing.T) {
	store := newFakeStore()
	client, _ := newTestClient(t, store)
	quiz := testQuiz()

	if _, err := client.Submit(context.Background(), quiz, "Ann", 150); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	patchesAfterFirst := store.patchCalls

	result, err := client.Submit(context.Background(), quiz, "Ann", 999)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !result.Replayed {
		t.Fatalf("expected replay no-op, got %+v", result)
	}
	if store.patchCalls != patchesAfterFirst || store.putCalls != 0 {
		t.Fatalf("second submit must not write: patches=%d puts=%d", store.patchCalls, store.putCalls)
	}
	if store.entryCount(quiz.ID) != 1 {
		t.Fatalf("expected exactly one persisted entry, got %d", store.entryCount(quiz.ID))
	}
}

func TestRemoteProbeWinsOverLostMarker(t *testing.T) {
	store := newFakeStore()
	store.store("weekly-1", "subject-1", map[string]interface{}{
		"subjectId": "subject-1", "name": "Ann", "score": 150, "timestamp": 123,
	})
	// Fresh marker store: the local guard was lost, the identity was not.
	client, markers := newTestClient(t, store)

	result, err := client.Submit(context.Background(), testQuiz(), "Ann", 999)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Replayed {
		t.Fatalf("expected remote probe to block the write, got %+v", result)
	}
	if store.patchCalls != 0 || store.putCalls != 0 {
		t.Fatalf("no write expected, got patches=%d puts=%d", store.patchCalls, store.putCalls)
	}
	if _, ok, _ := markers.Get(context.Background(), "submitted/weekly-1"); !ok {
		t.Fatalf("expected local marker backfilled from the remote hit")
	}
}

func TestIndexedWriteFallsBackToPrimary(t *testing.T) {
	store := newFakeStore()
	store.rejectPatch = true
	client, _ := newTestClient(t, store)

	result, err := client.Submit(context.Background(), testQuiz(), "Ann", 150)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Degraded {
		t.Fatalf("expected degraded outcome, got %+v", result)
	}
	if store.putCalls != 1 || store.indexWrites != 0 {
		t.Fatalf("expected a single primary PUT without indices, got puts=%d indices=%d", store.putCalls, store.indexWrites)
	}
	if store.entryCount("weekly-1") != 1 {
		t.Fatalf("primary entry missing")
	}
}

func TestAuthRejectionEverywhereMeansAlreadyPlayed(t *testing.T) {
	store := newFakeStore()
	store.rejectAll = true
	client, _ := newTestClient(t, store)

	_, err := client.Submit(context.Background(), testQuiz(), "Ann", 150)
	if !errors.Is(err, domain.ErrQuizAlreadyPlayed) {
		t.Fatalf("expected already-played error, got %v", err)
	}
}

func TestOtherWriteFailureIsGenericSaveError(t *testing.T) {
	store := newFakeStore()
	store.failAll = true
	client, _ := newTestClient(t, store)

	_, err := client.Submit(context.Background(), testQuiz(), "Ann", 150)
	if !errors.Is(err, domain.ErrSaveFailed) {
		t.Fatalf("expected save error, got %v", err)
	}
}

func TestSubmitWithoutIdentityFails(t *testing.T) {
	store := newFakeStore()
	server := httptest.NewServer(store.handler())
	t.Cleanup(server.Close)
	client := NewClient(server.URL, failingIDs{}, staticPrints{}, newMemMarkers())

	_, err := client.Submit(context.Background(), testQuiz(), "Ann", 150)
	if !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Ann":               "ann",
		"Ann O'Malley Jr.":  "ann-omalley-jr",
		"  J._R.  Smith  ":  "jr-smith",
		"-Dash- 'Quote' X,": "dash-quote-x",
	}
	for input, want := range cases {
		if got := Slug(input); got != want {
			t.Fatalf("Slug(%q) = %q, want %q", input, got, want)
		}
	}
}
