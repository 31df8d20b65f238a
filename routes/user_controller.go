package routes

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formdeck/formdeck/app"
	"github.com/formdeck/formdeck/fault"
	"github.com/formdeck/formdeck/httpx"
	"github.com/formdeck/formdeck/model"
	"github.com/formdeck/formdeck/policy"
)

// userProfile is the public representation: no role/status internals.
type userProfile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// GetUser serves the public profile; no credential required.
func GetUser(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "get_user.url_param", fault.NewValidation("id", "user id must be numeric"))
			return
		}

		u := userProfile{ID: userID}
		err = app.QueryRowContext(r.Context(), `
			SELECT name, email, created_at
			FROM user
			WHERE id = ?`,
			userID,
		).Scan(&u.Name, &u.Email, &u.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.RenderError(w, r, "get_user.load", fault.Newf(fault.NotFound, "user %d", userID))
			return
		}
		if err != nil {
			httpx.RenderError(w, r, "get_user.load", fault.NewInternal("loading user", err))
			return
		}

		render.JSON(w, r, u)
	}
}

// ListUsers returns full user records, including role and status. Admin
// only; the route is behind the AdminOnly middleware.
func ListUsers(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := app.QueryContext(r.Context(), `
			SELECT id, name, email, role, status, created_at, updated_at
			FROM user
			ORDER BY id`)
		if err != nil {
			httpx.RenderError(w, r, "list_users.query", fault.NewInternal("querying users", err))
			return
		}
		defer rows.Close()

		users := []model.User{}
		for rows.Next() {
			u := model.User{}
			err = rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt)
			if err != nil {
				httpx.RenderError(w, r, "list_users.scan", fault.NewInternal("scanning users", err))
				return
			}
			users = append(users, u)
		}

		render.JSON(w, r, map[string]any{
			"users": users,
		})
	}
}

type userUpdateRequest struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Role   *string `json:"role"`
	Status *string `json:"status"`
}

// UpdateUser merges the supplied fields over the stored user. Role and
// status changes take effect on the target's next request: their outstanding
// credentials go stale against the new values.
func UpdateUser(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "update_user.url_param", fault.NewValidation("id", "user id must be numeric"))
			return
		}

		req := userUpdateRequest{}
		err = render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.RenderError(w, r, "update_user.parse_body", fault.NewValidation("body", "malformed request body"))
			return
		}

		u := model.User{ID: userID}
		err = app.QueryRowContext(r.Context(), `
			SELECT name, email, role, status, created_at
			FROM user
			WHERE id = ?`,
			userID,
		).Scan(&u.Name, &u.Email, &u.Role, &u.Status, &u.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.RenderError(w, r, "update_user.load", fault.Newf(fault.NotFound, "user %d", userID))
			return
		}
		if err != nil {
			httpx.RenderError(w, r, "update_user.load", fault.NewInternal("loading user", err))
			return
		}

		if req.Name != nil {
			u.Name = *req.Name
		}
		if req.Email != nil {
			u.Email = *req.Email
		}
		if req.Role != nil {
			u.Role = model.Role(*req.Role)
		}
		if req.Status != nil {
			u.Status = model.UserStatus(*req.Status)
		}

		if u.Name == "" {
			httpx.RenderError(w, r, "update_user.validate", fault.NewValidation("name", "name must not be empty"))
			return
		}
		if u.Email == "" {
			httpx.RenderError(w, r, "update_user.validate", fault.NewValidation("email", "email must not be empty"))
			return
		}
		if !u.Role.Recognized() {
			httpx.RenderError(w, r, "update_user.validate", fault.NewValidation("role", "role must be admin or regular"))
			return
		}
		if !u.Status.Recognized() {
			httpx.RenderError(w, r, "update_user.validate", fault.NewValidation("status", "status must be active or suspended"))
			return
		}

		u.UpdatedAt = time.Now()
		_, err = app.ExecContext(r.Context(), `
			UPDATE user
			SET
				name = ?,
				email = ?,
				role = ?,
				status = ?,
				updated_at = ?
			WHERE id = ?`,
			u.Name,
			u.Email,
			u.Role,
			u.Status,
			u.UpdatedAt,
			userID,
		)
		if isUniqueViolation(err) {
			httpx.RenderError(w, r, "update_user.update", fault.NewValidation("email", "email is already registered"))
			return
		}
		if err != nil {
			httpx.RenderError(w, r, "update_user.update", fault.NewInternal("updating user", err))
			return
		}

		render.JSON(w, r, u)
	}
}

// DeleteUser removes the user and everything rooted in them: templates they
// authored (with all submissions against those), forms they submitted,
// collaborator memberships and refresh tokens, in one transaction.
func DeleteUser(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "delete_user.url_param", fault.NewValidation("id", "user id must be numeric"))
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.RenderError(w, r, "delete_user.begin_tx", fault.NewInternal("starting transaction", err))
			return
		}
		defer tx.Rollback()

		var email string
		err = tx.QueryRowContext(r.Context(), `
			SELECT email FROM user
			WHERE id = ?`,
			userID,
		).Scan(&email)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.RenderError(w, r, "delete_user.load", fault.Newf(fault.NotFound, "user %d", userID))
			return
		}
		if err != nil {
			httpx.RenderError(w, r, "delete_user.load", fault.NewInternal("loading user", err))
			return
		}

		cascade := []struct {
			stmt string
			args []any
		}{
			{`DELETE FROM form_answer WHERE form_id IN (
				SELECT id FROM form
				WHERE user_id = ?1
					OR template_id IN (SELECT id FROM template WHERE author_id = ?1))`, []any{userID}},
			{`DELETE FROM form
				WHERE user_id = ?1
					OR template_id IN (SELECT id FROM template WHERE author_id = ?1)`, []any{userID}},
			{`DELETE FROM template_block WHERE template_id IN (SELECT id FROM template WHERE author_id = ?)`, []any{userID}},
			{`DELETE FROM template_admin WHERE user_id = ? OR template_id IN (SELECT id FROM template WHERE author_id = ?)`, []any{userID, userID}},
			{`DELETE FROM template WHERE author_id = ?`, []any{userID}},
			{`DELETE FROM token WHERE username = ?`, []any{email}},
			{`DELETE FROM user WHERE id = ?`, []any{userID}},
		}
		for _, c := range cascade {
			if _, err := tx.ExecContext(r.Context(), c.stmt, c.args...); err != nil {
				httpx.RenderError(w, r, "delete_user.cascade", fault.NewInternal("deleting user", err))
				return
			}
		}

		if err := tx.Commit(); err != nil {
			httpx.RenderError(w, r, "delete_user.commit", fault.NewInternal("committing delete", err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// SearchUsers matches name and/or email substrings; at least one term is
// required.
func SearchUsers(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		email := r.URL.Query().Get("email")
		if name == "" && email == "" {
			httpx.RenderError(w, r, "search_users.validate",
				fault.NewValidation("name", "at least one of name or email is required"))
			return
		}

		query := `
			SELECT id, name, email, created_at
			FROM user
			WHERE 1=1`
		args := []any{}
		if name != "" {
			query += " AND name LIKE ?"
			args = append(args, "%"+name+"%")
		}
		if email != "" {
			query += " AND email LIKE ?"
			args = append(args, "%"+email+"%")
		}
		query += " ORDER BY id"

		rows, err := app.QueryContext(r.Context(), query, args...)
		if err != nil {
			httpx.RenderError(w, r, "search_users.query", fault.NewInternal("querying users", err))
			return
		}
		defer rows.Close()

		users := []userProfile{}
		for rows.Next() {
			u := userProfile{}
			err = rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
			if err != nil {
				httpx.RenderError(w, r, "search_users.scan", fault.NewInternal("scanning users", err))
				return
			}
			users = append(users, u)
		}

		render.JSON(w, r, map[string]any{
			"users": users,
		})
	}
}

type userStats struct {
	TemplatesAuthored   int `json:"templatesAuthored"`
	TemplatesPublished  int `json:"templatesPublished"`
	SubmissionsReceived int `json:"submissionsReceived"`
	FormsSubmitted      int `json:"formsSubmitted"`
}

// MyStats aggregates the caller's numbers: templates authored, of those
// published, submissions received across their templates, forms they
// submitted elsewhere.
func MyStats(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := policy.IdentityFrom(r.Context())

		stats := userStats{}
		err := app.QueryRowContext(r.Context(), `
			SELECT
				(SELECT COUNT(*) FROM template WHERE author_id = ?1),
				(SELECT COUNT(*) FROM template WHERE author_id = ?1 AND status = 'published'),
				(SELECT COUNT(*) FROM form f INNER JOIN template t ON (t.id = f.template_id) WHERE t.author_id = ?1),
				(SELECT COUNT(*) FROM form WHERE user_id = ?1)`,
			actor.ID,
		).Scan(&stats.TemplatesAuthored, &stats.TemplatesPublished, &stats.SubmissionsReceived, &stats.FormsSubmitted)
		if err != nil {
			httpx.RenderError(w, r, "my_stats.query", fault.NewInternal("aggregating stats", err))
			return
		}

		render.JSON(w, r, stats)
	}
}
