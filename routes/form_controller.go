package routes

import (
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

type formCreateRequest struct {
	TemplateID int64          `json:"templateId"`
	Answers    []model.Answer `json:"answers"`
}

// SubmitForm creates a form against a published template. The answer set is
// checked against the template's blocks as read in the same transaction that
// persists the form.
func SubmitForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := formCreateRequest{}
		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.RenderError(w, r, "submit_form.parse_body", fault.NewValidation("body", "malformed request body"))
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.RenderError(w, r, "submit_form.begin_tx", fault.NewInternal("starting transaction", err))
			return
		}
		defer tx.Rollback()

		template, err := loadTemplate(r.Context(), tx, req.TemplateID)
		if err != nil {
			httpx.RenderError(w, r, "submit_form.load_template", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanCreateForm(*actor, template); err != nil {
			httpx.RenderError(w, r, "submit_form.authorize", err)
			return
		}

		answers, err := model.CheckAnswers(template.Blocks, req.Answers)
		if err != nil {
			httpx.RenderError(w, r, "submit_form.check_answers", err)
			return
		}

		now := time.Now()
		var formID int64
		err = tx.QueryRowContext(r.Context(), `
			INSERT INTO form (template_id, user_id, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			RETURNING id`,
			req.TemplateID,
			actor.ID,
			now,
			now,
		).Scan(&formID)
		if err != nil {
			httpx.RenderError(w, r, "submit_form.insert", fault.NewInternal("inserting form", err))
			return
		}

		if err := replaceAnswers(r.Context(), tx, formID, answers); err != nil {
			httpx.RenderError(w, r, "submit_form.insert_answers", err)
			return
		}

		if err := tx.Commit(); err != nil {
			httpx.RenderError(w, r, "submit_form.commit", fault.NewInternal("committing form", err))
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": formID,
		})
	}
}

type formSummary struct {
	ID           int64     `json:"id"`
	TemplateID   int64     `json:"templateId"`
	TemplateName string    `json:"templateName"`
	UserID       int64     `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MyForms lists the caller's own submissions.
func MyForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := policy.IdentityFrom(r.Context())

		rows, err := app.QueryContext(r.Context(), `
			SELECT f.id, f.template_id, t.name, f.user_id, f.created_at, f.updated_at
			FROM form f
			INNER JOIN template t ON (t.id = f.template_id)
			WHERE f.user_id = ?
			ORDER BY f.id`,
			actor.ID,
		)
		if err != nil {
			httpx.RenderError(w, r, "my_forms.query", fault.NewInternal("querying forms", err))
			return
		}
		defer rows.Close()

		forms := []formSummary{}
		for rows.Next() {
			f := formSummary{}
			err = rows.Scan(&f.ID, &f.TemplateID, &f.TemplateName, &f.UserID, &f.CreatedAt, &f.UpdatedAt)
			if err != nil {
				httpx.RenderError(w, r, "my_forms.scan", fault.NewInternal("scanning forms", err))
				return
			}
			forms = append(forms, f)
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

// FormsByTemplate lists every submission against a template, for its author,
// collaborators and global admins.
func FormsByTemplate(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		templateID, err := strconv.ParseInt(chi.URLParam(r, "templateId"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "forms_by_template.url_param", fault.NewValidation("templateId", "template id must be numeric"))
			return
		}

		template, err := loadTemplate(r.Context(), app.DB, templateID)
		if err != nil {
			httpx.RenderError(w, r, "forms_by_template.load_template", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanMutateTemplate(*actor, template); err != nil {
			httpx.RenderError(w, r, "forms_by_template.authorize", err)
			return
		}

		rows, err := app.QueryContext(r.Context(), `
			SELECT id, user_id, created_at, updated_at
			FROM form
			WHERE template_id = ?
			ORDER BY id`,
			templateID,
		)
		if err != nil {
			httpx.RenderError(w, r, "forms_by_template.query", fault.NewInternal("querying forms", err))
			return
		}
		defer rows.Close()

		forms := []model.Form{}
		for rows.Next() {
			f := model.Form{TemplateID: templateID}
			err = rows.Scan(&f.ID, &f.UserID, &f.CreatedAt, &f.UpdatedAt)
			if err != nil {
				httpx.RenderError(w, r, "forms_by_template.scan", fault.NewInternal("scanning forms", err))
				return
			}
			forms = append(forms, f)
		}
		if err := rows.Err(); err != nil {
			httpx.RenderError(w, r, "forms_by_template.rows", fault.NewInternal("reading forms", err))
			return
		}

		for i := range forms {
			forms[i].Answers, err = loadAnswers(r.Context(), app.DB, forms[i].ID)
			if err != nil {
				httpx.RenderError(w, r, "forms_by_template.answers", err)
				return
			}
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.ParseInt(chi.URLParam(r, "formId"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "get_form.url_param", fault.NewValidation("formId", "form id must be numeric"))
			return
		}

		form, err := loadForm(r.Context(), app.DB, formID)
		if err != nil {
			httpx.RenderError(w, r, "get_form.load", err)
			return
		}
		template, err := loadTemplate(r.Context(), app.DB, form.TemplateID)
		if err != nil {
			httpx.RenderError(w, r, "get_form.load_template", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanReadForm(*actor, form, template); err != nil {
			httpx.RenderError(w, r, "get_form.authorize", err)
			return
		}

		render.JSON(w, r, form)
	}
}

type formUpdateRequest struct {
	Answers []model.Answer `json:"answers"`
}

// UpdateForm replaces the form's answers after re-checking them against the
// template's current blocks. An update can therefore fail on a form that was
// valid when submitted, if the template's structure evolved incompatibly
// since.
func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.ParseInt(chi.URLParam(r, "formId"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "update_form.url_param", fault.NewValidation("formId", "form id must be numeric"))
			return
		}

		req := formUpdateRequest{}
		err = render.DecodeJSON(r.Body, &req)
		if err != nil {
			httpx.RenderError(w, r, "update_form.parse_body", fault.NewValidation("body", "malformed request body"))
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.RenderError(w, r, "update_form.begin_tx", fault.NewInternal("starting transaction", err))
			return
		}
		defer tx.Rollback()

		form, err := loadForm(r.Context(), tx, formID)
		if err != nil {
			httpx.RenderError(w, r, "update_form.load", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanUpdateForm(*actor, form); err != nil {
			httpx.RenderError(w, r, "update_form.authorize", err)
			return
		}

		blocks, err := loadBlocks(r.Context(), tx, form.TemplateID)
		if err != nil {
			httpx.RenderError(w, r, "update_form.load_blocks", err)
			return
		}
		answers, err := model.CheckAnswers(blocks, req.Answers)
		if err != nil {
			httpx.RenderError(w, r, "update_form.check_answers", err)
			return
		}

		if err := replaceAnswers(r.Context(), tx, formID, answers); err != nil {
			httpx.RenderError(w, r, "update_form.replace_answers", err)
			return
		}

		form.UpdatedAt = time.Now()
		_, err = tx.ExecContext(r.Context(), `
			UPDATE form
			SET updated_at = ?
			WHERE id = ?`,
			form.UpdatedAt,
			formID,
		)
		if err != nil {
			httpx.RenderError(w, r, "update_form.update", fault.NewInternal("updating form", err))
			return
		}

		if err := tx.Commit(); err != nil {
			httpx.RenderError(w, r, "update_form.commit", fault.NewInternal("committing form", err))
			return
		}

		form.Answers = answers
		render.JSON(w, r, form)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.ParseInt(chi.URLParam(r, "formId"), 10, 64)
		if err != nil {
			httpx.RenderError(w, r, "delete_form.url_param", fault.NewValidation("formId", "form id must be numeric"))
			return
		}

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.RenderError(w, r, "delete_form.begin_tx", fault.NewInternal("starting transaction", err))
			return
		}
		defer tx.Rollback()

		form, err := loadForm(r.Context(), tx, formID)
		if err != nil {
			httpx.RenderError(w, r, "delete_form.load", err)
			return
		}
		template, err := loadTemplate(r.Context(), tx, form.TemplateID)
		if err != nil {
			httpx.RenderError(w, r, "delete_form.load_template", err)
			return
		}

		actor := policy.IdentityFrom(r.Context())
		if err := policy.CanDeleteForm(*actor, form, template); err != nil {
			httpx.RenderError(w, r, "delete_form.authorize", err)
			return
		}

		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM form_answer
			WHERE form_id = ?`,
			formID,
		)
		if err != nil {
			httpx.RenderError(w, r, "delete_form.answers", fault.NewInternal("deleting answers", err))
			return
		}
		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM form
			WHERE id = ?`,
			formID,
		)
		if err != nil {
			httpx.RenderError(w, r, "delete_form.form", fault.NewInternal("deleting form", err))
			return
		}

		if err := tx.Commit(); err != nil {
			httpx.RenderError(w, r, "delete_form.commit", fault.NewInternal("committing delete", err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
