package routes

import (
	"context"
	"database/sql"
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

type templateCreateRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Image       string               `json:"image"`
	Status      model.TemplateStatus `json:"status"`
	Blocks      []model.Block        `json:"blocks"`
	Admins      []int64              `json:"admins"`
}

// templateSummary is the list representation: the row without its blocks.
type templateSummary struct {
	ID          int64                `json:"id"`
	AuthorID    int64                `json:"authorId"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Image       string               `json:"image,omitempty"`
	Status      model.TemplateStatus `json:"status"`
	Version     int                  `json:"version"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

func CreateTemplate(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := templateCreateRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.RenderError(w, r, "create_template.parse_body", fault.NewValidation("body", "malformed request body"))
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanCreateTemplate(*actor); err != nil {
			httpx.RenderError(w, r, "create_template.authorize", err)
			return
		}

		if req.Status == "" {
			req.Status = model.TemplateDraft
		}
		if !req.Status.Recognized() {
			httpx.RenderError(w, r, "create_template.validate",
				fault.NewValidation("status", "status must be draft, published or restricted"))
			return
		}
		if req.Name == "" {
			httpx.RenderError(w, r, "create_template.validate", fault.NewValidation("name", "name is required"))
			return
		}
		if err := model.ValidateBlocks(req.Blocks); err != nil {
			httpx.RenderError(w, r, "create_template.validate", err)
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.RenderError(w, r, "create_template.begin_tx", fault.NewInternal("starting transaction", err))
			return
		}
		defer tx.Rollback()

		now := time.Now()
		var templateID int64
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO template (author_id, name, description, image, status, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			RETURNING id`,
			actor.ID,
			req.Name,
			req.Description,
			req.Image,
			req.Status,
			now,
			now,
		).Scan(&templateID)
		if err != nil {
			httpx.RenderError(w, r, "create_template.insert", fault.NewInternal("inserting template", err))
			return
		}

		if err := replaceBlocks(r.Context(), tx, templateID, req.Blocks); err != nil {
			httpx.RenderError(w, r, "create_template.insert_blocks", err)
			return
		}
		if err := storeAdmins(r.Context(), tx, templateID, actor.ID, req.Admins); err != nil {
			httpx.RenderError(w, r, "create_template.insert_admins", err)
			return
		}

		if err := tx.Commit(); err != nil {
			httpx.RenderError(w, r, "create_template.commit", fault.NewInternal("committing template", err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id":      templateID,
			"version": 1,
		})
	}
}

// ListTemplates is the public catalogue: published templates only.
func ListTemplates(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templates, err := queryTemplateSummaries(r, app, `
			SELECT id, author_id, name, description, image, status, version, created_at, updated_at
			FROM template
			WHERE status = ?
			ORDER BY id`,
			model.TemplatePublished,
		)
		if err != nil {
			httpx.RenderError(w, r, "list_templates", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"templates": templates,
		})
	}
}

// MyTemplates lists the caller's own templates regardless of status.
func MyTemplates(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := policy.IdentityFrom(r.Context())

		templates, err := queryTemplateSummaries(r, app, `
			SELECT id, author_id, name, description, image, status, version, created_at, updated_at
			FROM template
			WHERE author_id = ?
			ORDER BY id`,
			actor.ID,
		)
		if err != nil {
			httpx.RenderError(w, r, "my_templates", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"templates": templates,
		})
	}
}

func GetTemplateById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "get_template.url_param", fault.NewValidation("id", "template id must be numeric"))
			return
		}

		template, err := loadTemplate(r.Context(), app.DB, templateID)
		if err != nil {
			httpx.RenderError(w, r, "get_template.load", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanReadTemplate(actor, template); err != nil {
			httpx.RenderError(w, r, "get_template.authorize", err)
			return
		}

		render.JSON(w, r, template)
	}
}

type templateUpdateRequest struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Image       *string        `json:"image"`
	Status      *string        `json:"status"`
	Blocks      *[]model.Block `json:"blocks"`
}

// UpdateTemplate merges the supplied fields over current state, re-validates
// the merged block set and increments the version by one. A supplied block
// list replaces the previous one wholesale. The write does not check that
// the read version is still current: version is an audit counter, not a
// conflict token.
func UpdateTemplate(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "update_template.url_param", fault.NewValidation("id", "template id must be numeric"))
			return
		}

		req := templateUpdateRequest{}
		err = render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.RenderError(w, r, "update_template.parse_body", fault.NewValidation("body", "malformed request body"))
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.RenderError(w, r, "update_template.begin_tx", fault.NewInternal("starting transaction", err))
			return
		}
		defer tx.Rollback()

		template, err := loadTemplate(r.Context(), tx, templateID)
		if err != nil {
			httpx.RenderError(w, r, "update_template.load", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanMutateTemplate(*actor, template); err != nil {
			httpx.RenderError(w, r, "update_template.authorize", err)
			return
		}

		if req.Name != nil {
			template.Name = *req.Name
		}
		if req.Description != nil {
			template.Description = *req.Description
		}
		if req.Image != nil {
			template.Image = *req.Image
		}
		if req.Status != nil {
			template.Status = model.TemplateStatus(*req.Status)
		}
		if req.Blocks != nil {
			template.Blocks = *req.Blocks
		}

		if template.Name == "" {
			httpx.RenderError(w, r, "update_template.validate", fault.NewValidation("name", "name must not be empty"))
			return
		}
		if !template.Status.Recognized() {
			httpx.RenderError(w, r, "update_template.validate",
				fault.NewValidation("status", "status must be draft, published or restricted"))
			return
		}
		if err := model.ValidateBlocks(template.Blocks); err != nil {
			httpx.RenderError(w, r, "update_template.validate", err)
			return
		}

		if req.Blocks != nil {
			if err := replaceBlocks(r.Context(), tx, templateID, template.Blocks); err != nil {
				httpx.RenderError(w, r, "update_template.replace_blocks", err)
				return
			}
		}

		_, err = tx.ExecContext(r.Context(), `
			UPDATE template
			SET
				name = ?,
				description = ?,
				image = ?,
				status = ?,
				version = ?,
				updated_at = ?
			WHERE id = ?`,
			template.Name,
			template.Description,
			template.Image,
			template.Status,
			template.Version+1,
			time.Now(),
			templateID,
		)
		if err != nil {
			httpx.RenderError(w, r, "update_template.update", fault.NewInternal("updating template", err))
			return
		}

		if err := tx.Commit(); err != nil {
			httpx.RenderError(w, r, "update_template.commit", fault.NewInternal("committing template", err))
			return
		}

		render.JSON(w, r, map[string]any{
			"id":      templateID,
			"version": template.Version + 1,
		})
	}
}

// DeleteTemplate removes the template and every form submitted against it in
// one transaction, so a delete never leaves orphaned forms.
func DeleteTemplate(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "delete_template.url_param", fault.NewValidation("id", "template id must be numeric"))
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.RenderError(w, r, "delete_template.begin_tx", fault.NewInternal("starting transaction", err))
			return
		}
		defer tx.Rollback()

		template, err := loadTemplate(r.Context(), tx, templateID)
		if err != nil {
			httpx.RenderError(w, r, "delete_template.load", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanMutateTemplate(*actor, template); err != nil {
			httpx.RenderError(w, r, "delete_template.authorize", err)
			return
		}

		cascade := []string{
			`DELETE FROM form_answer WHERE form_id IN (SELECT id FROM form WHERE template_id = ?)`,
			`DELETE FROM form WHERE template_id = ?`,
			`DELETE FROM template_block WHERE template_id = ?`,
			`DELETE FROM template_admin WHERE template_id = ?`,
			`DELETE FROM template WHERE id = ?`,
		}
		for _, stmt := range cascade {
			if _, err := tx.ExecContext(r.Context(), stmt, templateID); err != nil {
				httpx.RenderError(w, r, "delete_template.cascade", fault.NewInternal("deleting template", err))
				return
			}
		}

		if err := tx.Commit(); err != nil {
			httpx.RenderError(w, r, "delete_template.commit", fault.NewInternal("committing delete", err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type templateAdminsRequest struct {
	Admins []int64 `json:"admins"`
}

// UpdateTemplateAdmins replaces the collaborator set.
func UpdateTemplateAdmins(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "update_admins.url_param", fault.NewValidation("id", "template id must be numeric"))
			return
		}

		req := templateAdminsRequest{}
		err = render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.RenderError(w, r, "update_admins.parse_body", fault.NewValidation("body", "malformed request body"))
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.RenderError(w, r, "update_admins.begin_tx", fault.NewInternal("starting transaction", err))
			return
		}
		defer tx.Rollback()

		template, err := loadTemplate(r.Context(), tx, templateID)
		if err != nil {
			httpx.RenderError(w, r, "update_admins.load", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanMutateTemplate(*actor, template); err != nil {
			httpx.RenderError(w, r, "update_admins.authorize", err)
			return
		}

		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM template_admin
			WHERE template_id = ?`,
			templateID,
		)
		if err != nil {
			httpx.RenderError(w, r, "update_admins.clear", fault.NewInternal("clearing admins", err))
			return
		}
		if err := storeAdmins(r.Context(), tx, templateID, template.AuthorID, req.Admins); err != nil {
			httpx.RenderError(w, r, "update_admins.insert", err)
			return
		}

		if err := tx.Commit(); err != nil {
			httpx.RenderError(w, r, "update_admins.commit", fault.NewInternal("committing admins", err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// storeAdmins inserts the collaborator set. The author is never stored as a
// collaborator of their own template.
func storeAdmins(ctx context.Context, tx *sql.Tx, templateID, authorID int64, admins []int64) error {
	seen := map[int64]bool{authorID: true}
	for _, userID := range admins {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		_, err := tx.ExecContext(ctx, `
			INSERT INTO template_admin (template_id, user_id)
			VALUES (?, ?)`,
			templateID,
			userID,
		)
		if isForeignKeyViolation(err) {
			return fault.NewValidation("admins", "unknown user in collaborator set")
		}
		if err != nil {
			return fault.NewInternal("inserting admins", err)
		}
	}
	return nil
}

func queryTemplateSummaries(r *http.Request, app app.App, query string, args ...any) ([]templateSummary, error) {
	rows, err := app.QueryContext(r.Context(), query, args...)
	if err != nil {
		return nil, fault.NewInternal("querying templates", err)
	}
	defer rows.Close()

	templates := []templateSummary{}
	for rows.Next() {
		t := templateSummary{}
		err = rows.Scan(&t.ID, &t.AuthorID, &t.Name, &t.Description, &t.Image, &t.Status, &t.Version, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fault.NewInternal("scanning templates", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
