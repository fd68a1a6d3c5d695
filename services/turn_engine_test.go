package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/visaprep/backend/models"
)

const testUserID = "user-1"

func newTestEngine(store *fakeStore, completer TextCompleter, opts ...TurnEngineOption) *TurnEngine {
	bank := NewQuestionBank(rand.New(rand.NewPCG(3, 5)))
	return NewTurnEngine(store, bank, completer, nil, opts...)
}

func TestSubmitTurnFixedSequence(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{reply: "Officer: Please go on."}
	engine := newTestEngine(store, completer)
	sessionID := store.addSession(testUserID, DefaultMaxTurns)
	ctx := context.Background()

	for i, want := range FixedSequence {
		result, err := engine.SubmitTurn(ctx, sessionID, testUserID, fmt.Sprintf("answer %d", i), fmt.Sprintf("tok-%d", i))
		if err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
		if result.TurnNo != i+1 {
			t.Errorf("turn %d: TurnNo = %d", i+1, result.TurnNo)
		}
		if result.QuestionKey != want.ID {
			t.Errorf("turn %d: QuestionKey = %s, want %s", i+1, result.QuestionKey, want.ID)
		}
		if result.Done {
			t.Errorf("turn %d: Done = true", i+1)
		}
		if result.AIText != "Please go on." {
			t.Errorf("turn %d: AIText = %q", i+1, result.AIText)
		}
	}

	if got := store.session(sessionID).TotalTurns; got != len(FixedSequence) {
		t.Errorf("TotalTurns = %d, want %d", got, len(FixedSequence))
	}

	// the sixth turn draws from the pool
	result, err := engine.SubmitTurn(ctx, sessionID, testUserID, "answer 6", "tok-6")
	if err != nil {
		t.Fatal(err)
	}
	for _, q := range FixedSequence {
		if result.QuestionKey == q.ID {
			t.Errorf("turn 6 repeated fixed question %s", q.ID)
		}
	}
}

func TestSubmitTurnReplaysToken(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{reply: "Which university?"}
	engine := newTestEngine(store, completer)
	sessionID := store.addSession(testUserID, DefaultMaxTurns)
	ctx := context.Background()

	first, err := engine.SubmitTurn(ctx, sessionID, testUserID, "Hello", "same-token")
	if err != nil {
		t.Fatal(err)
	}
	completer.reply = "something else"
	second, err := engine.SubmitTurn(ctx, sessionID, testUserID, "Hello again", "same-token")
	if err != nil {
		t.Fatal(err)
	}

	if *first != *second {
		t.Errorf("replay = %+v, want %+v", second, first)
	}
	if n := store.turnCount(sessionID); n != 1 {
		t.Errorf("stored %d turns, want 1", n)
	}
	if n := completer.calls(); n != 1 {
		t.Errorf("completer called %d times, want 1", n)
	}
}

func TestSubmitTurnConcurrentSameToken(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeCompleter{reply: "Go on."})
	sessionID := store.addSession(testUserID, DefaultMaxTurns)

	const workers = 10
	results := make([]*TurnResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.SubmitTurn(context.Background(), sessionID, testUserID, "Hi", "dup")
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if *results[i] != *results[0] {
			t.Errorf("worker %d got %+v, want %+v", i, results[i], results[0])
		}
	}
	if n := store.turnCount(sessionID); n != 1 {
		t.Errorf("stored %d turns, want 1", n)
	}
}

func TestSubmitTurnConcurrentDistinctTokens(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeCompleter{reply: "Go on."})
	sessionID := store.addSession(testUserID, DefaultMaxTurns)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := engine.SubmitTurn(context.Background(), sessionID, testUserID, "answer", fmt.Sprintf("tok-%d", i))
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			mu.Lock()
			seen[result.TurnNo] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for n := 1; n <= workers; n++ {
		if !seen[n] {
			t.Errorf("turn number %d never assigned", n)
		}
	}
	if got := store.session(sessionID).TotalTurns; got != workers {
		t.Errorf("TotalTurns = %d, want %d", got, workers)
	}
}

func TestSubmitTurnLastTurnCloses(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{reply: "Next one."}
	completed := 0
	engine := newTestEngine(store, completer, WithCompletionHook(func(sessionID, userID string) { completed++ }))
	sessionID := store.addSession(testUserID, 3)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		result, err := engine.SubmitTurn(ctx, sessionID, testUserID, "answer", fmt.Sprintf("tok-%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if result.Done {
			t.Fatalf("turn %d unexpectedly done", i)
		}
	}

	last, err := engine.SubmitTurn(ctx, sessionID, testUserID, "answer", "tok-3")
	if err != nil {
		t.Fatal(err)
	}
	if !last.Done || last.AIText != ClosingText || last.TurnNo != 3 {
		t.Errorf("last turn = %+v", last)
	}
	if last.QuestionKey != FixedSequence[2].ID {
		t.Errorf("last turn QuestionKey = %s, want %s", last.QuestionKey, FixedSequence[2].ID)
	}
	if n := completer.calls(); n != 2 {
		t.Errorf("completer called %d times, want 2", n)
	}
	session := store.session(sessionID)
	if session.Status != models.SessionStatusCompleted || session.EndedAt == nil {
		t.Errorf("session = %s ended_at=%v, want completed with ended_at", session.Status, session.EndedAt)
	}
	if completed != 1 {
		t.Errorf("completion hook ran %d times, want 1", completed)
	}

	after, err := engine.SubmitTurn(ctx, sessionID, testUserID, "one more", "tok-4")
	if err != nil {
		t.Fatal(err)
	}
	if !after.Done || after.Code != CodeSessionCompleted || after.TurnNo != 3 {
		t.Errorf("after close = %+v", after)
	}
	if n := store.turnCount(sessionID); n != 3 {
		t.Errorf("stored %d turns, want 3", n)
	}

	replay, err := engine.SubmitTurn(ctx, sessionID, testUserID, "answer", "tok-3")
	if err != nil {
		t.Fatal(err)
	}
	if *replay != *last {
		t.Errorf("replay of closing turn = %+v, want %+v", replay, last)
	}

	stale, err := engine.SubmitTurn(ctx, sessionID, testUserID, "answer", "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if !stale.Done || stale.Code != CodeSessionCompleted || stale.AIText != ClosingText {
		t.Errorf("replay of earlier turn after close = %+v", stale)
	}
}

func TestSubmitTurnMaxTurnsReached(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeCompleter{reply: "Go on."})
	sessionID := store.addSession(testUserID, 1)
	store.addTurn(sessionID, models.Turn{TurnNo: 1, AIText: "Why?", QuestionKey: "which-university", ClientTurnToken: "old"})

	result, err := engine.SubmitTurn(context.Background(), sessionID, testUserID, "answer", "new")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Done || result.Code != CodeMaxTurnsReached || result.TurnNo != 1 {
		t.Errorf("result = %+v", result)
	}
	if got := store.session(sessionID).Status; got != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestSubmitTurnUserStops(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{reply: "Go on."}
	engine := newTestEngine(store, completer)
	sessionID := store.addSession(testUserID, DefaultMaxTurns)

	result, err := engine.SubmitTurn(context.Background(), sessionID, testUserID, "I'm done, thanks", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Done || result.AIText != ClosingText || result.QuestionKey != QuestionKeyUserEnded {
		t.Errorf("result = %+v", result)
	}
	if completer.calls() != 0 {
		t.Error("completer should not be called when the candidate stops")
	}
	if got := store.session(sessionID).Status; got != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestSubmitTurnOfficerGoodbye(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeCompleter{reply: "Officer: Thanks, that's all. Have a good day!"})
	sessionID := store.addSession(testUserID, DefaultMaxTurns)

	result, err := engine.SubmitTurn(context.Background(), sessionID, testUserID, "Stanford", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Done || result.AIText != ClosingText {
		t.Errorf("result = %+v", result)
	}
	if got := store.session(sessionID).Status; got != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
}

func TestSubmitTurnCompleterFallback(t *testing.T) {
	tests := []struct {
		name      string
		completer TextCompleter
	}{
		{name: "provider error", completer: &fakeCompleter{err: errors.New("quota exceeded")}},
		{name: "empty reply", completer: &fakeCompleter{reply: "  Officer:  "}},
		{name: "no provider", completer: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			engine := newTestEngine(store, tt.completer)
			sessionID := store.addSession(testUserID, DefaultMaxTurns)

			result, err := engine.SubmitTurn(context.Background(), sessionID, testUserID, "", "tok")
			if err != nil {
				t.Fatal(err)
			}
			if result.AIText != FixedSequence[0].Text || result.Done {
				t.Errorf("result = %+v, want verbatim first question", result)
			}
		})
	}
}

func TestSubmitTurnReconcilesLostCompletion(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeCompleter{reply: "Go on."})
	sessionID := store.addSession(testUserID, DefaultMaxTurns)
	store.addTurn(sessionID, models.Turn{TurnNo: 1, UserText: "stop", AIText: ClosingText, QuestionKey: QuestionKeyUserEnded, ClientTurnToken: "a"})

	result, err := engine.SubmitTurn(context.Background(), sessionID, testUserID, "hello?", "b")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Done || result.Code != CodeSessionCompleted || result.TurnNo != 1 {
		t.Errorf("result = %+v", result)
	}
	if got := store.session(sessionID).Status; got != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
	if n := store.turnCount(sessionID); n != 1 {
		t.Errorf("stored %d turns, want 1", n)
	}
}

func TestSubmitTurnRejects(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(store, &fakeCompleter{reply: "Go on."})
	sessionID := store.addSession(testUserID, DefaultMaxTurns)
	abandonedID := store.addSession("user-2", DefaultMaxTurns)
	store.setStatus(abandonedID, models.SessionStatusAbandoned)
	ctx := context.Background()

	if _, err := engine.SubmitTurn(ctx, sessionID, testUserID, "hi", " "); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("blank token: err = %v, want ErrInvalidRequest", err)
	}
	if _, err := engine.SubmitTurn(ctx, "", testUserID, "hi", "tok"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing session: err = %v, want ErrInvalidRequest", err)
	}
	if _, err := engine.SubmitTurn(ctx, sessionID, "intruder", "hi", "tok"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user: err = %v, want ErrNotFound", err)
	}

	result, err := engine.SubmitTurn(ctx, abandonedID, "user-2", "hi", "tok")
	if err != nil {
		t.Fatal(err)
	}
	if !result.Done || result.Code != CodeSessionCompleted {
		t.Errorf("abandoned session result = %+v", result)
	}
}

func TestComposeOfficerLineHistory(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{reply: "Go on."}
	engine := newTestEngine(store, completer)
	sessionID := store.addSession(testUserID, DefaultMaxTurns)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := engine.SubmitTurn(ctx, sessionID, testUserID, fmt.Sprintf("answer-%d", i), fmt.Sprintf("tok-%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	last := completer.requests[len(completer.requests)-1]
	if last.Temperature != officerTemperature || last.MaxTokens != officerMaxTokens {
		t.Errorf("request params = %v/%d", last.Temperature, last.MaxTokens)
	}
	var joined strings.Builder
	for _, m := range last.Messages {
		joined.WriteString(m.Content)
	}
	for _, want := range []string{"answer-0", "answer-1", "answer-2", FixedSequence[2].Text} {
		if !strings.Contains(joined.String(), want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestStripOfficerPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Officer: Why this program?", "Why this program?"},
		{"officer - Why this program?", "Why this program?"},
		{"Consular Officer: Who funds you?", "Who funds you?"},
		{"Consular officer   Who funds you?", "Who funds you?"},
		{"  Why now?  ", "Why now?"},
		{"Official documents, please.", "Official documents, please."},
	}

	for _, tt := range tests {
		if got := stripOfficerPrefix(tt.in); got != tt.want {
			t.Errorf("stripOfficerPrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTranscriptBlocks(t *testing.T) {
	turns := []models.Turn{
		{TurnNo: 1, UserText: "Hello", AIText: "Which university?"},
		{TurnNo: 2, UserText: "Stanford", AIText: "Why Stanford?"},
	}

	got := transcriptBlocks(turns)
	want := []string{
		"Candidate: Hello",
		"Officer: Which university?\nCandidate: Stanford",
		"Officer: Why Stanford?",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d blocks, want %d: %q", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("block %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSubmitTurnClosesWhenNoQuestionLeft(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{reply: "Go on."}
	fixed := []Question{{ID: "which-university", Text: "Which university?"}}
	pool := []Question{{ID: "low-gpa", Text: "Your GPA seems low. Why?", Sensitive: true}}
	bank := NewQuestionBankWith(fixed, pool, rand.New(rand.NewPCG(3, 5)))
	engine := NewTurnEngine(store, bank, completer, nil)
	sessionID := store.addSession(testUserID, DefaultMaxTurns)
	ctx := context.Background()

	if _, err := engine.SubmitTurn(ctx, sessionID, testUserID, "Hello", "tok-1"); err != nil {
		t.Fatal(err)
	}
	result, err := engine.SubmitTurn(ctx, sessionID, testUserID, "Stanford", "tok-2")
	if err != nil {
		t.Fatal(err)
	}

	if !result.Done || result.TurnNo != 1 || result.AIText != ClosingText || result.Code != "" {
		t.Errorf("result = %+v, want done at turn 1", result)
	}
	if got := store.session(sessionID).Status; got != models.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", got)
	}
	if n := store.turnCount(sessionID); n != 1 {
		t.Errorf("stored %d turns, want 1", n)
	}
	if n := completer.calls(); n != 1 {
		t.Errorf("completer called %d times, want 1", n)
	}
}

func TestSubmitTurnBoundsSlowModel(t *testing.T) {
	store := newFakeStore()
	completer := &fakeCompleter{reply: "Too late.", delay: 5 * time.Second}
	engine := newTestEngine(store, completer, WithCompletionTimeout(50*time.Millisecond))
	sessionID := store.addSession(testUserID, DefaultMaxTurns)

	start := time.Now()
	result, err := engine.SubmitTurn(context.Background(), sessionID, testUserID, "Hello", "tok-1")
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("SubmitTurn took %v, want it bounded by the timeout", elapsed)
	}
	if result.AIText != FixedSequence[0].Text || result.Done {
		t.Errorf("result = %+v, want verbatim first question", result)
	}
}
