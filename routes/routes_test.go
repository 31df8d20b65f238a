package routes_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formdeck/formdeck/app"
	"github.com/formdeck/formdeck/config"
	"github.com/formdeck/formdeck/database"
	"github.com/formdeck/formdeck/httpx"
	"github.com/formdeck/formdeck/model"
	"github.com/formdeck/formdeck/routes"
)

type testClient struct {
	t       *testing.T
	app     app.App
	handler http.Handler
}

func newTestClient(t *testing.T) *testClient {
	cfg := config.Config{
		Addr:        "localhost:0",
		DBUrl:       filepath.Join(t.TempDir(), "formdeck.sqlite"),
		TokenSecret: "test-secret",
		TokenTTL:    time.Hour,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	a := app.App{
		DB:           db,
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
	}
	return &testClient{t: t, app: a, handler: routes.Wire(a)}
}

func (c *testClient) do(method, path, token string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	return w
}

func (c *testClient) decode(w *httptest.ResponseRecorder, target any) {
	c.t.Helper()
	require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), target))
}

func (c *testClient) errorKind(w *httptest.ResponseRecorder) string {
	c.t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	c.decode(w, &body)
	return body.Error
}

// register creates a user and returns its id and a fresh bearer token.
func (c *testClient) register(name, email string) (int64, string) {
	c.t.Helper()

	w := c.do("POST", "/register", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "hunter2hunter2",
	})
	require.Equal(c.t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		ID int64 `json:"id"`
	}
	c.decode(w, &body)
	return body.ID, c.login(email)
}

func (c *testClient) login(email string) string {
	c.t.Helper()

	w := c.do("POST", "/login", "", map[string]string{
		"email":    email,
		"password": "hunter2hunter2",
	})
	require.Equal(c.t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		AccessToken string `json:"access_token"`
	}
	c.decode(w, &body)
	require.NotEmpty(c.t, body.AccessToken)
	return body.AccessToken
}

func (c *testClient) createTemplate(token string, body map[string]any) int64 {
	c.t.Helper()

	w := c.do("POST", "/templates/new", token, body)
	require.Equal(c.t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ID int64 `json:"id"`
	}
	c.decode(w, &resp)
	return resp.ID
}

func (c *testClient) getTemplate(token string, id int64) model.Template {
	c.t.Helper()

	w := c.do("GET", fmt.Sprintf("/templates/%d", id), token, nil)
	require.Equal(c.t, http.StatusOK, w.Code, w.Body.String())

	var tmpl model.Template
	c.decode(w, &tmpl)
	return tmpl
}

func (c *testClient) setRole(userID int64, role model.Role) {
	c.t.Helper()
	_, err := c.app.Exec("UPDATE user SET role=? WHERE id=?", role, userID)
	require.NoError(c.t, err)
}

func (c *testClient) setStatus(userID int64, status model.UserStatus) {
	c.t.Helper()
	_, err := c.app.Exec("UPDATE user SET status=? WHERE id=?", status, userID)
	require.NoError(c.t, err)
}

func shortTextBlocks() []map[string]any {
	return []map[string]any{
		{"id": "q1", "type": "short-text", "question": "Say something", "required": true},
	}
}

func TestTemplateLifecycleScenario(t *testing.T) {
	c := newTestClient(t)

	_, tokenX := c.register("X", "x@example.com")
	idY, tokenY := c.register("Y", "y@example.com")
	idZ, tokenZ := c.register("Z", "z@example.com")

	// X creates a draft template with one required short-text block.
	templateID := c.createTemplate(tokenX, map[string]any{
		"name":   "Feedback",
		"blocks": shortTextBlocks(),
	})
	tmpl := c.getTemplate(tokenX, templateID)
	assert.Equal(t, model.TemplateDraft, tmpl.Status)
	assert.Equal(t, 1, tmpl.Version)

	// Form creation against a draft fails with a distinct condition.
	w := c.do("POST", "/forms/new", tokenY, map[string]any{
		"templateId": templateID,
		"answers":    []map[string]any{{"questionId": "q1", "answer": "hello"}},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "template_not_published", c.errorKind(w))

	// X publishes; version goes to 2.
	w = c.do("PUT", fmt.Sprintf("/templates/update/%d", templateID), tokenX, map[string]any{
		"status": "published",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, c.getTemplate(tokenX, templateID).Version)

	// Y submits; the form belongs to Y.
	w = c.do("POST", "/forms/new", tokenY, map[string]any{
		"templateId": templateID,
		"answers":    []map[string]any{{"questionId": "q1", "answer": "hello"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	c.decode(w, &created)

	w = c.do("GET", fmt.Sprintf("/forms/get/%d", created.ID), tokenY, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var form model.Form
	c.decode(w, &form)
	assert.Equal(t, idY, form.UserID)
	require.Len(t, form.Answers, 1)
	assert.Equal(t, "hello", form.Answers[0].Value.Text)
	assert.Equal(t, "Say something", form.Answers[0].Question)

	// Z is neither author nor collaborator.
	w = c.do("PUT", fmt.Sprintf("/templates/update/%d", templateID), tokenZ, map[string]any{
		"name": "new name",
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", c.errorKind(w))

	// X grants Z collaborator rights; Z's update now succeeds.
	w = c.do("PUT", fmt.Sprintf("/templates/admins/%d", templateID), tokenX, map[string]any{
		"admins": []int64{idZ},
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = c.do("PUT", fmt.Sprintf("/templates/update/%d", templateID), tokenZ, map[string]any{
		"name": "new name",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	tmpl = c.getTemplate(tokenX, templateID)
	assert.Equal(t, "new name", tmpl.Name)
	assert.Equal(t, 3, tmpl.Version)
	assert.Equal(t, []int64{idZ}, tmpl.Admins)
}

func TestStaleCredentialAfterPromotion(t *testing.T) {
	c := newTestClient(t)

	idU, tokenU := c.register("U", "u@example.com")

	// The credential works while the stored role matches.
	w := c.do("GET", "/templates/user", tokenU, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// An admin promotes U; the old credential is now stale even though its
	// signature is still valid.
	c.setRole(idU, model.RoleAdmin)

	w = c.do("GET", "/templates/user", tokenU, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "stale_credential", c.errorKind(w))

	// A fresh login picks up the new role.
	fresh := c.login("u@example.com")
	w = c.do("GET", "/users/", fresh, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSuspendedUserIsDenied(t *testing.T) {
	c := newTestClient(t)

	idS, tokenS := c.register("S", "s@example.com")
	c.setStatus(idS, model.UserSuspended)

	// The pre-suspension credential dies as stale.
	w := c.do("GET", "/templates/user", tokenS, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "stale_credential", c.errorKind(w))

	// A credential issued while already suspended matches stored state, but
	// every protected operation still denies.
	fresh := c.login("s@example.com")
	w = c.do("GET", "/templates/user", fresh, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", c.errorKind(w))
}

func TestFormConsistencyOverHTTP(t *testing.T) {
	c := newTestClient(t)

	_, tokenA := c.register("author", "author@example.com")
	_, tokenR := c.register("respondent", "respondent@example.com")

	templateID := c.createTemplate(tokenA, map[string]any{
		"name":   "Preferences",
		"status": "published",
		"blocks": []map[string]any{
			{"id": "q1", "type": "short-text", "question": "Name?", "required": true},
			{
				"id": "q2", "type": "multiple-choice", "question": "Colors?",
				"optionsMode": "checkbox", "options": []string{"red", "blue"},
			},
		},
	})

	submit := func(answers []map[string]any) *httptest.ResponseRecorder {
		return c.do("POST", "/forms/new", tokenR, map[string]any{
			"templateId": templateID,
			"answers":    answers,
		})
	}

	t.Run("missing required answer", func(t *testing.T) {
		w := submit([]map[string]any{
			{"questionId": "q2", "answer": []string{"red"}},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "missing_required_answer", c.errorKind(w))
	})

	t.Run("orphan answer", func(t *testing.T) {
		w := submit([]map[string]any{
			{"questionId": "q1", "answer": "Ada"},
			{"questionId": "q99", "answer": "ghost"},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "unmatched_answer", c.errorKind(w))
	})

	t.Run("wrong shape", func(t *testing.T) {
		w := submit([]map[string]any{
			{"questionId": "q1", "answer": "Ada"},
			{"questionId": "q2", "answer": "red"},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation_error", c.errorKind(w))
	})

	t.Run("exact coverage succeeds", func(t *testing.T) {
		w := submit([]map[string]any{
			{"questionId": "q1", "answer": "Ada"},
			{"questionId": "q2", "answer": []string{"red", "blue"}},
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})

	t.Run("form update re-checks against current blocks", func(t *testing.T) {
		w := submit([]map[string]any{
			{"questionId": "q1", "answer": "Ada"},
		})
		require.Equal(t, http.StatusCreated, w.Code)
		var created struct {
			ID int64 `json:"id"`
		}
		c.decode(w, &created)

		// The template's structure evolves: q1 is renamed to q9.
		w = c.do("PUT", fmt.Sprintf("/templates/update/%d", templateID), tokenA, map[string]any{
			"blocks": []map[string]any{
				{"id": "q9", "type": "short-text", "question": "Name?", "required": true},
			},
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		// Updating the old form with its original answer is now rejected.
		w = c.do("PUT", fmt.Sprintf("/forms/update/%d", created.ID), tokenR, map[string]any{
			"answers": []map[string]any{{"questionId": "q1", "answer": "Ada"}},
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "unmatched_answer", c.errorKind(w))
	})
}

func TestVersionOnlyMovesOnSuccessfulUpdate(t *testing.T) {
	c := newTestClient(t)

	_, token := c.register("author", "author@example.com")
	templateID := c.createTemplate(token, map[string]any{
		"name":   "Versioned",
		"blocks": shortTextBlocks(),
	})

	// An invalid update fails and leaves the version untouched.
	w := c.do("PUT", fmt.Sprintf("/templates/update/%d", templateID), token, map[string]any{
		"blocks": []map[string]any{
			{"id": "q1", "type": "multiple-choice", "question": "Broken"},
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", c.errorKind(w))
	assert.Equal(t, 1, c.getTemplate(token, templateID).Version)

	// A successful one bumps it by exactly one.
	w = c.do("PUT", fmt.Sprintf("/templates/update/%d", templateID), token, map[string]any{
		"description": "now with a description",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, c.getTemplate(token, templateID).Version)

	// Reads are idempotent.
	first := c.getTemplate(token, templateID)
	second := c.getTemplate(token, templateID)
	assert.Equal(t, first, second)
}

func TestTemplateDeleteCascadesForms(t *testing.T) {
	c := newTestClient(t)

	_, tokenA := c.register("author", "author@example.com")
	_, tokenR := c.register("respondent", "respondent@example.com")

	templateID := c.createTemplate(tokenA, map[string]any{
		"name":   "Doomed",
		"status": "published",
		"blocks": shortTextBlocks(),
	})

	w := c.do("POST", "/forms/new", tokenR, map[string]any{
		"templateId": templateID,
		"answers":    []map[string]any{{"questionId": "q1", "answer": "bye"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		ID int64 `json:"id"`
	}
	c.decode(w, &created)

	w = c.do("DELETE", fmt.Sprintf("/templates/%d", templateID), tokenA, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = c.do("GET", fmt.Sprintf("/forms/get/%d", created.ID), tokenR, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = c.do("GET", "/forms/user", tokenR, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Forms []json.RawMessage `json:"forms"`
	}
	c.decode(w, &list)
	assert.Empty(t, list.Forms)
}

func TestPublicCatalogueShowsPublishedOnly(t *testing.T) {
	c := newTestClient(t)

	_, token := c.register("author", "author@example.com")
	draftID := c.createTemplate(token, map[string]any{"name": "Draft one"})
	publishedID := c.createTemplate(token, map[string]any{
		"name":   "Published one",
		"status": "published",
	})

	w := c.do("GET", "/templates/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Templates []struct {
			ID int64 `json:"id"`
		} `json:"templates"`
	}
	c.decode(w, &list)
	require.Len(t, list.Templates, 1)
	assert.Equal(t, publishedID, list.Templates[0].ID)

	// Anonymous read of the published template is open; the draft is not.
	w = c.do("GET", fmt.Sprintf("/templates/%d", publishedID), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = c.do("GET", fmt.Sprintf("/templates/%d", draftID), "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// A protected route without a credential is unauthenticated.
	w = c.do("GET", "/templates/user", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminUserManagement(t *testing.T) {
	c := newTestClient(t)

	idAdmin, _ := c.register("root", "root@example.com")
	c.setRole(idAdmin, model.RoleAdmin)
	adminToken := c.login("root@example.com")

	idR, tokenR := c.register("regular", "regular@example.com")

	// Listing users is admin-only.
	w := c.do("GET", "/users/", tokenR, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = c.do("GET", "/users/", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Users []model.User `json:"users"`
	}
	c.decode(w, &list)
	assert.Len(t, list.Users, 2)

	// Admin suspends the regular user.
	w = c.do("PUT", fmt.Sprintf("/users/%d", idR), adminToken, map[string]any{
		"status": "suspended",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated model.User
	c.decode(w, &updated)
	assert.Equal(t, model.UserSuspended, updated.Status)

	// The suspended user's outstanding credential is stale.
	w = c.do("GET", "/templates/user", tokenR, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "stale_credential", c.errorKind(w))

	// Bad role value is rejected at the boundary.
	w = c.do("PUT", fmt.Sprintf("/users/%d", idR), adminToken, map[string]any{
		"role": "superuser",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", c.errorKind(w))

	// Delete removes the user and their public profile.
	w = c.do("DELETE", fmt.Sprintf("/users/%d", idR), adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = c.do("GET", fmt.Sprintf("/users/%d", idR), "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchAndStats(t *testing.T) {
	c := newTestClient(t)

	_, tokenA := c.register("Ada Lovelace", "ada@example.com")
	_, tokenB := c.register("Charles Babbage", "charles@example.com")

	publishedID := c.createTemplate(tokenA, map[string]any{
		"name":   "Engine survey",
		"status": "published",
		"blocks": shortTextBlocks(),
	})
	c.createTemplate(tokenA, map[string]any{"name": "Draft notes"})

	w := c.do("POST", "/forms/new", tokenB, map[string]any{
		"templateId": publishedID,
		"answers":    []map[string]any{{"questionId": "q1", "answer": "42"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("stats", func(t *testing.T) {
		var stats struct {
			TemplatesAuthored   int `json:"templatesAuthored"`
			TemplatesPublished  int `json:"templatesPublished"`
			SubmissionsReceived int `json:"submissionsReceived"`
			FormsSubmitted      int `json:"formsSubmitted"`
		}

		w := c.do("GET", "/users/stats", tokenA, nil)
		require.Equal(t, http.StatusOK, w.Code)
		c.decode(w, &stats)
		assert.Equal(t, 2, stats.TemplatesAuthored)
		assert.Equal(t, 1, stats.TemplatesPublished)
		assert.Equal(t, 1, stats.SubmissionsReceived)
		assert.Equal(t, 0, stats.FormsSubmitted)

		w = c.do("GET", "/users/stats", tokenB, nil)
		require.Equal(t, http.StatusOK, w.Code)
		c.decode(w, &stats)
		assert.Equal(t, 0, stats.TemplatesAuthored)
		assert.Equal(t, 1, stats.FormsSubmitted)
	})

	t.Run("search", func(t *testing.T) {
		var result struct {
			Users []struct {
				Email string `json:"email"`
			} `json:"users"`
		}

		w := c.do("GET", "/users/search?name=lovelace", tokenB, nil)
		require.Equal(t, http.StatusOK, w.Code)
		c.decode(w, &result)
		require.Len(t, result.Users, 1)
		assert.Equal(t, "ada@example.com", result.Users[0].Email)

		w = c.do("GET", "/users/search?email=example.com", tokenB, nil)
		require.Equal(t, http.StatusOK, w.Code)
		c.decode(w, &result)
		assert.Len(t, result.Users, 2)

		w = c.do("GET", "/users/search", tokenB, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
