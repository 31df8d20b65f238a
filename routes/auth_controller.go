package routes

import (
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"

	"github.com/formdeck/formdeck/app"
	"github.com/formdeck/formdeck/fault"
	"github.com/formdeck/formdeck/httpx"
	"github.com/formdeck/formdeck/model"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func Register(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := registerRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.RenderError(w, r, "register.parse_body", fault.NewValidation("body", "malformed request body"))
			return
		}
		if req.Name == "" {
			httpx.RenderError(w, r, "register.validate", fault.NewValidation("name", "name is required"))
			return
		}
		if req.Email == "" || !strings.Contains(req.Email, "@") {
			httpx.RenderError(w, r, "register.validate", fault.NewValidation("email", "a valid email is required"))
			return
		}
		if req.Password == "" {
			httpx.RenderError(w, r, "register.validate", fault.NewValidation("password", "password is required"))
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), 12)
		if err != nil {
			httpx.RenderError(w, r, "register.hash", fault.NewInternal("hashing password", err))
			return
		}

		now := time.Now()
		var userID int64
		err = app.QueryRowContext(r.Context(), `
			INSERT INTO user (name, email, password_hash, role, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			req.Name,
			req.Email,
			string(hash),
			model.RoleRegular,
			model.UserActive,
			now,
			now,
		).Scan(&userID)
		if isUniqueViolation(err) {
			httpx.RenderError(w, r, "register.insert", fault.NewValidation("email", "email is already registered"))
			return
		}
		if err != nil {
			httpx.RenderError(w, r, "register.insert", fault.NewInternal("inserting user", err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": userID,
		})
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login adapts the JSON login request onto the bearer server's password
// grant and forwards its token response.
func Login(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := loginRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.RenderError(w, r, "login.parse_body", fault.NewValidation("body", "malformed request body"))
			return
		}

		body := url.Values{
			"grant_type": {"password"},
			"username":   {req.Email},
			"password":   {req.Password},
		}
		r.Body = io.NopCloser(strings.NewReader(body.Encode()))
		r.Header.Set("content-type", "application/x-www-form-urlencoded")
		r.Header.Set("content-length", strconv.Itoa(len(body.Encode())))

		resp := httpx.NewResponseBuffer()
		app.UserCredentials(resp, r)
		if resp.Status() != http.StatusOK {
			httpx.RenderError(w, r, "login.credentials", fault.New(fault.Unauthenticated, "invalid email or password"))
			return
		}
		resp.Flush(w)
	}
}

// Refresh exchanges a refresh token, carried as "Authorization: Refresh
// <token>", for a fresh credential pair.
func Refresh(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("authorization")
		match := regexp.MustCompile(`(?i)^refresh\s+(.*)`).FindStringSubmatch(auth)
		if len(match) == 0 {
			httpx.RenderError(w, r, "refresh.token", fault.New(fault.Unauthenticated, "missing refresh token"))
			return
		}
		token := match[1]

		body := url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {token},
		}

		req, err := http.NewRequest("POST", "/", strings.NewReader(body.Encode()))
		if err != nil {
			httpx.RenderError(w, r, "refresh.new_request", fault.NewInternal("building grant request", err))
			return
		}
		req.Header.Set("content-type", "application/x-www-form-urlencoded")
		req.Header.Set("content-length", strconv.Itoa(len(body.Encode())))

		resp := httpx.NewResponseBuffer()
		app.UserCredentials(resp, req)
		if resp.Status() != http.StatusOK {
			httpx.RenderError(w, r, "refresh.credentials", fault.New(fault.Unauthenticated, "could not refresh"))
			return
		}
		resp.Flush(w)
	}
}
