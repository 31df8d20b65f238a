package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/formdeck/formdeck/fault"
	"github.com/formdeck/formdeck/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so loads can run inside
// the mutating transaction when an operation needs read-then-write atomicity.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func loadTemplate(ctx context.Context, q querier, id int64) (model.Template, error) {
	t := model.Template{ID: id}
	err := q.QueryRowContext(ctx, `
		SELECT author_id, name, description, image, status, version, created_at, updated_at
		FROM template
		WHERE id = ?`,
		id,
	).Scan(&t.AuthorID, &t.Name, &t.Description, &t.Image, &t.Status, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fault.Newf(fault.NotFound, "template %d", id)
	}
	if err != nil {
		return t, fault.NewInternal("loading template", err)
	}

	t.Blocks, err = loadBlocks(ctx, q, id)
	if err != nil {
		return t, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM template_admin
		WHERE template_id = ?
		ORDER BY user_id`,
		id,
	)
	if err != nil {
		return t, fault.NewInternal("loading template admins", err)
	}
	defer rows.Close()

	t.Admins = []int64{}
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return t, fault.NewInternal("loading template admins", err)
		}
		t.Admins = append(t.Admins, userID)
	}
	return t, rows.Err()
}

func loadBlocks(ctx context.Context, q querier, templateID int64) ([]model.Block, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT block_id, type, question, description, required, options_mode, options
		FROM template_block
		WHERE template_id = ?
		ORDER BY position`,
		templateID,
	)
	if err != nil {
		return nil, fault.NewInternal("loading blocks", err)
	}
	defer rows.Close()

	blocks := []model.Block{}
	for rows.Next() {
		b := model.Block{}
		var options string
		err = rows.Scan(&b.ID, &b.Type, &b.Question, &b.Description, &b.Required, &b.OptionsMode, &options)
		if err != nil {
			return nil, fault.NewInternal("loading blocks", err)
		}
		if options != "" {
			if err := json.Unmarshal([]byte(options), &b.Options); err != nil {
				return nil, fault.NewInternal("parsing block options", err)
			}
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// replaceBlocks deletes and reinserts the whole block list: a partial update
// that supplies blocks replaces the list, it never merges per-block.
func replaceBlocks(ctx context.Context, tx *sql.Tx, templateID int64, blocks []model.Block) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM template_block
		WHERE template_id = ?`,
		templateID,
	)
	if err != nil {
		return fault.NewInternal("clearing blocks", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO template_block (template_id, block_id, position, type, question, description, required, options_mode, options)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fault.NewInternal("inserting blocks", err)
	}
	defer stmt.Close()

	for i, b := range blocks {
		var options string
		if b.Options != nil {
			optionsJson, err := json.Marshal(b.Options)
			if err != nil {
				return fault.NewInternal("encoding block options", err)
			}
			options = string(optionsJson)
		}
		_, err = stmt.ExecContext(ctx, templateID, b.ID, i, b.Type, b.Question, b.Description, b.Required, b.OptionsMode, options)
		if err != nil {
			return fault.NewInternal("inserting blocks", err)
		}
	}
	return nil
}

func loadForm(ctx context.Context, q querier, id int64) (model.Form, error) {
	f := model.Form{ID: id}
	err := q.QueryRowContext(ctx, `
		SELECT template_id, user_id, created_at, updated_at
		FROM form
		WHERE id = ?`,
		id,
	).Scan(&f.TemplateID, &f.UserID, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return f, fault.Newf(fault.NotFound, "form %d", id)
	}
	if err != nil {
		return f, fault.NewInternal("loading form", err)
	}

	f.Answers, err = loadAnswers(ctx, q, id)
	return f, err
}

func loadAnswers(ctx context.Context, q querier, formID int64) ([]model.Answer, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT question_id, question, type, value
		FROM form_answer
		WHERE form_id = ?
		ORDER BY position`,
		formID,
	)
	if err != nil {
		return nil, fault.NewInternal("loading answers", err)
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		a := model.Answer{}
		var value string
		err = rows.Scan(&a.QuestionID, &a.Question, &a.Type, &value)
		if err != nil {
			return nil, fault.NewInternal("loading answers", err)
		}
		if err := json.Unmarshal([]byte(value), &a.Value); err != nil {
			return nil, fault.NewInternal("parsing answer value", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// replaceAnswers rewrites a form's answer rows from an already checked
// answer list.
func replaceAnswers(ctx context.Context, tx *sql.Tx, formID int64, answers []model.Answer) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM form_answer
		WHERE form_id = ?`,
		formID,
	)
	if err != nil {
		return fault.NewInternal("clearing answers", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO form_answer (form_id, question_id, position, question, type, value)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fault.NewInternal("inserting answers", err)
	}
	defer stmt.Close()

	for i, a := range answers {
		value, err := json.Marshal(a.Value)
		if err != nil {
			return fault.NewInternal("encoding answer value", err)
		}
		_, err = stmt.ExecContext(ctx, formID, a.QuestionID, i, a.Question, a.Type, string(value))
		if err != nil {
			return fault.NewInternal("inserting answers", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
