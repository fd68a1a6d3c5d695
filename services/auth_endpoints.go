package services

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type AuthEndpoints struct {
	authService *AuthService
	ledger      CreditLedger
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func NewAuthEndpoints(authService *AuthService, ledger CreditLedger) *AuthEndpoints {
	return &AuthEndpoints{
		authService: authService,
		ledger:      ledger,
	}
}

func (e *AuthEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", e.LoginHandler)
		r.Post("/signup", e.SignupHandler)
		r.Post("/refresh", e.RefreshHandler)

		r.Group(func(r chi.Router) {
			r.Use(e.authService.Middleware)
			r.Post("/logout", e.LogoutHandler)
			r.Get("/me", e.MeHandler)
		})
	})
}

func (e *AuthEndpoints) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	authResponse, err := e.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid credentials")
			return
		}
		slog.Error("Login failed", "error", err, "email", req.Email)
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Login failed")
		return
	}

	e.authService.SetAuthCookies(w, authResponse.AccessToken, authResponse.RefreshToken)
	writeJSON(w, http.StatusOK, authResponse)
}

func (e *AuthEndpoints) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	authResponse, err := e.authService.Signup(r.Context(), req.Email, req.Password, req.FullName)
	if err != nil {
		switch {
		case errors.Is(err, ErrUserExists):
			writeError(w, r, http.StatusConflict, "USER_EXISTS", "An account with this email already exists")
		case errors.Is(err, ErrInvalidRequest):
			writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		default:
			slog.Error("Signup failed", "error", err, "email", req.Email)
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Signup failed")
		}
		return
	}

	e.authService.SetAuthCookies(w, authResponse.AccessToken, authResponse.RefreshToken)
	writeJSON(w, http.StatusCreated, authResponse)
}

func (e *AuthEndpoints) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	refreshToken := e.authService.GetTokenFromCookie(r, "refresh_token")
	if refreshToken == "" {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			refreshToken = body.RefreshToken
		}
	}
	if refreshToken == "" {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token required")
		return
	}

	authResponse, err := e.authService.Refresh(r.Context(), refreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	e.authService.SetAuthCookies(w, authResponse.AccessToken, "")
	writeJSON(w, http.StatusOK, authResponse)
}

func (e *AuthEndpoints) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	if err := e.authService.Logout(r.Context(), user.ID); err != nil {
		slog.Error("Logout failed", "error", err, "user_id", user.ID)
	}
	e.authService.ClearAuthCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// MeHandler returns the caller and their credit balance.
func (e *AuthEndpoints) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return
	}

	credits := 0
	if e.ledger != nil {
		balance, err := e.ledger.Balance(r.Context(), user.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		credits = balance
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    user,
		"credits": credits,
	})
}
