package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/visaprep/backend/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

type contextKey string

const userContextKey contextKey = "user"

// ContextWithUser stores the authenticated user on ctx.
func ContextWithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the user set by the auth middleware.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userContextKey).(*models.User)
	return user, ok && user != nil
}

type userStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	DeleteUserRefreshTokens(ctx context.Context, userID string) error
}

type AuthService struct {
	users          userStore
	ledger         CreditLedger
	starterCredits int
	jwtSecret      []byte
	accessExpiry   time.Duration
	refreshExpiry  time.Duration
	secureCookies  bool
}

type CookieClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type AuthResponse struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"access_token,omitempty"`
	RefreshToken string       `json:"refresh_token,omitempty"`
}

// NewAuthService wires auth. ledger may be nil, in which case new accounts
// start without credits.
func NewAuthService(users userStore, ledger CreditLedger, jwtSecret string, starterCredits int, secureCookies bool) *AuthService {
	return &AuthService{
		users:          users,
		ledger:         ledger,
		starterCredits: starterCredits,
		jwtSecret:      []byte(jwtSecret),
		accessExpiry:   15 * time.Minute,
		refreshExpiry:  7 * 24 * time.Hour,
		secureCookies:  secureCookies,
	}
}

// generateSecureToken generates a cryptographically secure random token
func (s *AuthService) generateSecureToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// hashToken creates a SHA256 hash of the token for secure storage
func (s *AuthService) hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	resp, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("User logged in successfully", "user_id", user.ID, "email", user.Email)
	return resp, nil
}

// Signup creates the account and grants the configured starter credits.
func (s *AuthService) Signup(ctx context.Context, email, password, fullName string) (*AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || len(password) < 8 {
		return nil, fmt.Errorf("%w: email and a password of at least 8 characters are required", ErrInvalidRequest)
	}

	existingUser, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existingUser != nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:    email,
		Password: string(hashedPassword),
		FullName: fullName,
		Role:     "user",
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.ledger != nil && s.starterCredits > 0 {
		if _, err := s.ledger.Credit(ctx, user.ID, s.starterCredits); err != nil {
			slog.Error("Failed to grant starter credits", "error", err, "user_id", user.ID)
		}
	}

	resp, err := s.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	slog.Info("User signed up successfully", "user_id", user.ID, "email", user.Email)
	return resp, nil
}

// Refresh exchanges a refresh token for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	tokenRecord, err := s.users.GetRefreshToken(ctx, s.hashToken(refreshToken))
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	if tokenRecord == nil {
		return nil, fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	}

	user, err := s.users.GetUserByID(ctx, tokenRecord.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user not found", ErrUnauthorized)
	}

	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	slog.Info("Access token refreshed", "user_id", user.ID)
	return &AuthResponse{User: user, AccessToken: accessToken}, nil
}

// Logout invalidates all refresh tokens for the user
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	if err := s.users.DeleteUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user tokens: %w", err)
	}

	slog.Info("User logged out", "user_id", userID)
	return nil
}

// VerifyAccessToken verifies and extracts user from access token
func (s *AuthService) VerifyAccessToken(ctx context.Context, token string) (*models.User, error) {
	claims := &CookieClaims{}

	parsedToken, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse token: %w", ErrUnauthorized, err)
	}
	if !parsedToken.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	// the account may have been removed since the token was issued
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user not found", ErrUnauthorized)
	}

	return user, nil
}

// ResolveUser authenticates a request by bearer token first, then by the
// access_token cookie.
func (s *AuthService) ResolveUser(r *http.Request) (*models.User, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return nil, fmt.Errorf("%w: malformed authorization header", ErrUnauthorized)
		}
		return s.VerifyAccessToken(r.Context(), strings.TrimSpace(token))
	}

	if accessToken := s.GetTokenFromCookie(r, "access_token"); accessToken != "" {
		return s.VerifyAccessToken(r.Context(), accessToken)
	}
	return nil, ErrUnauthorized
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User) (*AuthResponse, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshToken, err := s.generateSecureToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	if err := s.users.CreateRefreshToken(ctx, &models.RefreshToken{
		UserID:    user.ID,
		Token:     s.hashToken(refreshToken),
		ExpiresAt: time.Now().Add(s.refreshExpiry),
	}); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	return &AuthResponse{User: user, AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// generateAccessToken creates a short-lived access token
func (s *AuthService) generateAccessToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &CookieClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// SetAuthCookies sets HTTP-only cookies; an empty token leaves its cookie alone.
func (s *AuthService) SetAuthCookies(w http.ResponseWriter, accessToken, refreshToken string) {
	if accessToken != "" {
		http.SetCookie(w, s.cookie("access_token", accessToken, int(s.accessExpiry.Seconds())))
	}
	if refreshToken != "" {
		http.SetCookie(w, s.cookie("refresh_token", refreshToken, int(s.refreshExpiry.Seconds())))
	}
}

// ClearAuthCookies clears all authentication cookies
func (s *AuthService) ClearAuthCookies(w http.ResponseWriter) {
	for _, name := range []string{"access_token", "refresh_token"} {
		http.SetCookie(w, s.cookie(name, "", -1))
	}
}

func (s *AuthService) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}

// GetTokenFromCookie extracts token from request cookies
func (s *AuthService) GetTokenFromCookie(r *http.Request, cookieName string) string {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Middleware resolves the caller and stores it on the request context. A
// cookie client with an expired access token is refreshed transparently.
func (s *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.ResolveUser(r)
		if err == nil {
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
			return
		}

		if r.Header.Get("Authorization") == "" {
			if refreshToken := s.GetTokenFromCookie(r, "refresh_token"); refreshToken != "" {
				if authResponse, refreshErr := s.Refresh(r.Context(), refreshToken); refreshErr == nil {
					s.SetAuthCookies(w, authResponse.AccessToken, "")
					next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), authResponse.User)))
					return
				}
			}
		}

		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
