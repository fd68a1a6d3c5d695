package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/visaprep/backend/models"
	"github.com/visaprep/backend/repository"
)

// fakeStore mirrors the conditional writes of the GORM repository in memory.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	turns    map[string][]models.Turn

	createErr  error
	updateErr  error
	saveErr    error
	saveCalls  int
	staleCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[string]*models.Session),
		turns:    make(map[string][]models.Turn),
	}
}

func (s *fakeStore) addSession(userID string, maxTurns int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = &models.Session{
		ID:        id,
		UserID:    userID,
		Status:    models.SessionStatusActive,
		MaxTurns:  maxTurns,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	return id
}

func (s *fakeStore) addTurn(sessionID string, turn models.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turn.SessionID = sessionID
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	s.sessions[sessionID].TotalTurns = turn.TurnNo
}

func (s *fakeStore) setStatus(sessionID string, status models.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID].Status = status
}

// session returns a snapshot of the stored row.
func (s *fakeStore) session(sessionID string) models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sessions[sessionID]
}

func (s *fakeStore) turnCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns[sessionID])
}

func (s *fakeStore) GetSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (s *fakeStore) FindActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.UserID == userID && session.Status == models.SessionStatusActive {
			cp := *session
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListSessions(ctx context.Context, userID string) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for _, existing := range s.sessions {
		if existing.UserID == session.UserID && existing.Status == models.SessionStatusActive {
			return repository.ErrActiveSessionExists
		}
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateSession(ctx context.Context, sessionID, userID string, upd repository.SessionUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return false, s.updateErr
	}
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID {
		return false, nil
	}
	if upd.OnlyIfActive && session.Status != models.SessionStatusActive {
		return false, nil
	}
	if upd.Status != nil {
		session.Status = *upd.Status
	}
	if upd.EndedAt != nil && session.EndedAt == nil {
		endedAt := *upd.EndedAt
		session.EndedAt = &endedAt
	}
	if upd.MaxTurns != nil {
		session.MaxTurns = *upd.MaxTurns
	}
	return true, nil
}

func (s *fakeStore) SaveFeedback(ctx context.Context, sessionID, userID string, feedback *models.Feedback) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveErr != nil {
		return false, s.saveErr
	}
	session, ok := s.sessions[sessionID]
	if !ok || session.UserID != userID || session.Feedback != nil {
		return false, nil
	}
	if session.Status == models.SessionStatusAbandoned || session.TotalTurns > feedback.TotalTurns {
		return false, nil
	}
	cp := *feedback
	session.Feedback = &cp
	session.Status = models.SessionStatusCompleted
	session.TotalTurns = feedback.TotalTurns
	if session.EndedAt == nil {
		endedAt := feedback.EndedAt
		session.EndedAt = &endedAt
	}
	return true, nil
}

func (s *fakeStore) MarkStaleSessionsAbandoned(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleCalls++
	var n int64
	for _, session := range s.sessions {
		if session.Status == models.SessionStatusActive && session.UpdatedAt.Before(cutoff) {
			session.Status = models.SessionStatusAbandoned
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) InsertTurn(ctx context.Context, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[turn.SessionID]
	if !ok || session.Status != models.SessionStatusActive ||
		session.TotalTurns != turn.TurnNo-1 || turn.TurnNo > session.MaxTurns {
		return repository.ErrTurnConflict
	}
	for _, t := range s.turns[turn.SessionID] {
		if t.ClientTurnToken == turn.ClientTurnToken {
			return repository.ErrDuplicateTurnToken
		}
		if t.TurnNo == turn.TurnNo {
			return repository.ErrTurnConflict
		}
	}
	cp := *turn
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], cp)
	session.TotalTurns = turn.TurnNo
	session.UpdatedAt = time.Now()
	return nil
}

func (s *fakeStore) ListTurns(ctx context.Context, sessionID string) ([]models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Turn(nil), s.turns[sessionID]...), nil
}

func (s *fakeStore) FindTurnByToken(ctx context.Context, sessionID, token string) (*models.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.turns[sessionID] {
		if t.ClientTurnToken == token {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int
	debits   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int)}
}

func (l *fakeLedger) Debit(ctx context.Context, userID string, amount int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[userID]
	if !ok || balance < amount {
		return 0, repository.ErrInsufficientCredits
	}
	l.debits++
	l.balances[userID] = balance - amount
	return l.balances[userID], nil
}

func (l *fakeLedger) Credit(ctx context.Context, userID string, amount int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	return l.balances[userID], nil
}

func (l *fakeLedger) Balance(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

// fakeCompleter answers every request with reply and records what it saw.
type fakeCompleter struct {
	mu       sync.Mutex
	reply    string
	err      error
	delay    time.Duration
	requests []CompletionRequest
}

func (c *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	reply, err, delay := c.reply, c.err, c.delay
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (c *fakeCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fakeUserStore struct {
	mu     sync.Mutex
	users  map[string]*models.User
	tokens map[string]*models.RefreshToken
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.RefreshToken),
	}
}

func (s *fakeUserStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *fakeUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeUserStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeUserStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[token.Token] = &cp
	return nil
}

func (s *fakeUserStore) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[token]; ok && t.ExpiresAt.After(time.Now()) {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *fakeUserStore) DeleteUserRefreshTokens(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, k)
		}
	}
	return nil
}
