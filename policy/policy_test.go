package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formdeck/formdeck/fault"
	"github.com/formdeck/formdeck/model"
)

var (
	author       = Identity{ID: 1, Role: model.RoleRegular, Status: model.UserActive}
	collaborator = Identity{ID: 2, Role: model.RoleRegular, Status: model.UserActive}
	stranger     = Identity{ID: 3, Role: model.RoleRegular, Status: model.UserActive}
	globalAdmin  = Identity{ID: 4, Role: model.RoleAdmin, Status: model.UserActive}
	suspended    = Identity{ID: 5, Role: model.RoleAdmin, Status: model.UserSuspended}
)

func draftTemplate() model.Template {
	return model.Template{
		ID:       10,
		AuthorID: author.ID,
		Status:   model.TemplateDraft,
		Admins:   []int64{collaborator.ID},
	}
}

func publishedTemplate() model.Template {
	t := draftTemplate()
	t.Status = model.TemplatePublished
	return t
}

func TestSuspendedActorIsDeniedEverywhere(t *testing.T) {
	// Suspension denies every protected action, regardless of role.
	tmpl := publishedTemplate()
	form := model.Form{ID: 20, TemplateID: tmpl.ID, UserID: suspended.ID}

	checks := map[string]error{
		"create template": CanCreateTemplate(suspended),
		"mutate template": CanMutateTemplate(suspended, tmpl),
		"create form":     CanCreateForm(suspended, tmpl),
		"update form":     CanUpdateForm(suspended, form),
		"read form":       CanReadForm(suspended, form, tmpl),
		"delete form":     CanDeleteForm(suspended, form, tmpl),
		"manage users":    CanManageUsers(suspended),
	}
	for name, err := range checks {
		assert.True(t, fault.IsKind(err, fault.Forbidden), "%s should be forbidden", name)
	}
}

func TestCanMutateTemplate(t *testing.T) {
	tmpl := draftTemplate()

	assert.NoError(t, CanMutateTemplate(author, tmpl))
	assert.NoError(t, CanMutateTemplate(collaborator, tmpl))
	assert.NoError(t, CanMutateTemplate(globalAdmin, tmpl))
	assert.True(t, fault.IsKind(CanMutateTemplate(stranger, tmpl), fault.Forbidden))
}

func TestCanReadTemplate(t *testing.T) {
	t.Run("published is open to anyone", func(t *testing.T) {
		tmpl := publishedTemplate()
		assert.NoError(t, CanReadTemplate(nil, tmpl))
		assert.NoError(t, CanReadTemplate(&stranger, tmpl))
	})

	t.Run("draft is owner-gated", func(t *testing.T) {
		tmpl := draftTemplate()
		assert.NoError(t, CanReadTemplate(&author, tmpl))
		assert.NoError(t, CanReadTemplate(&collaborator, tmpl))
		assert.NoError(t, CanReadTemplate(&globalAdmin, tmpl))
		assert.True(t, fault.IsKind(CanReadTemplate(&stranger, tmpl), fault.Forbidden))
		assert.True(t, fault.IsKind(CanReadTemplate(nil, tmpl), fault.Unauthenticated))
	})
}

func TestCanCreateForm(t *testing.T) {
	t.Run("published", func(t *testing.T) {
		assert.NoError(t, CanCreateForm(stranger, publishedTemplate()))
	})

	t.Run("not published is a distinct condition", func(t *testing.T) {
		for _, status := range []model.TemplateStatus{model.TemplateDraft, model.TemplateRestricted} {
			tmpl := draftTemplate()
			tmpl.Status = status

			err := CanCreateForm(stranger, tmpl)
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.TemplateNotPublished), "status %s", status)
		}
	})

	t.Run("even the author needs a published template", func(t *testing.T) {
		assert.True(t, fault.IsKind(CanCreateForm(author, draftTemplate()), fault.TemplateNotPublished))
	})
}

func TestFormOwnership(t *testing.T) {
	tmpl := publishedTemplate()
	form := model.Form{ID: 20, TemplateID: tmpl.ID, UserID: stranger.ID}

	t.Run("submitter", func(t *testing.T) {
		assert.NoError(t, CanUpdateForm(stranger, form))
		assert.NoError(t, CanReadForm(stranger, form, tmpl))
		assert.NoError(t, CanDeleteForm(stranger, form, tmpl))
	})

	t.Run("template owners read and delete but do not rewrite", func(t *testing.T) {
		for _, owner := range []Identity{author, collaborator} {
			assert.NoError(t, CanReadForm(owner, form, tmpl))
			assert.NoError(t, CanDeleteForm(owner, form, tmpl))
			assert.True(t, fault.IsKind(CanUpdateForm(owner, form), fault.Forbidden))
		}
	})

	t.Run("unrelated user", func(t *testing.T) {
		other := Identity{ID: 99, Role: model.RoleRegular, Status: model.UserActive}
		assert.True(t, fault.IsKind(CanReadForm(other, form, tmpl), fault.Forbidden))
		assert.True(t, fault.IsKind(CanDeleteForm(other, form, tmpl), fault.Forbidden))
		assert.True(t, fault.IsKind(CanUpdateForm(other, form), fault.Forbidden))
	})

	t.Run("global admin", func(t *testing.T) {
		assert.NoError(t, CanUpdateForm(globalAdmin, form))
		assert.NoError(t, CanReadForm(globalAdmin, form, tmpl))
	})
}

func TestCanManageUsers(t *testing.T) {
	assert.NoError(t, CanManageUsers(globalAdmin))
	assert.True(t, fault.IsKind(CanManageUsers(stranger), fault.Forbidden))
}

func TestUnrecognizedRoleIsDenied(t *testing.T) {
	weird := Identity{ID: 6, Role: "superuser", Status: model.UserActive}
	assert.True(t, fault.IsKind(CanCreateTemplate(weird), fault.Forbidden))
	assert.True(t, fault.IsKind(CanCreateForm(weird, publishedTemplate()), fault.Forbidden))
}
