// Package policy holds the authorization decisions. Every function is a pure
// check of (actor, resource, action): no storage access, no caching. Callers
// pass freshly loaded resource state on every request.
package policy

import (
	"context"

	"github.com/formdeck/formdeck/fault"
	"github.com/formdeck/formdeck/model"
)

// Identity is the resolved caller: current role and status as stored, not as
// embedded in the credential.
type Identity struct {
	ID     int64
	Role   model.Role
	Status model.UserStatus
}

type contextKey struct{}

func WithIdentity(ctx context.Context, actor Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// IdentityFrom returns the authenticated caller, or nil on anonymous
// requests.
func IdentityFrom(ctx context.Context) *Identity {
	actor, ok := ctx.Value(contextKey{}).(Identity)
	if !ok {
		return nil
	}
	return &actor
}

// precondition gates every protected action: active status and a recognized
// role, else Forbidden.
func precondition(actor Identity) error {
	if actor.Status != model.UserActive || !actor.Role.Recognized() {
		return fault.New(fault.Forbidden, "account is not active")
	}
	return nil
}

func isOwner(actor Identity, t model.Template) bool {
	return actor.ID == t.AuthorID || t.IsAdmin(actor.ID)
}

// CanCreateTemplate permits any active user with a recognized role.
func CanCreateTemplate(actor Identity) error {
	return precondition(actor)
}

// CanMutateTemplate covers update, delete, collaborator changes and
// submission reads: author, collaborators, or a global admin.
func CanMutateTemplate(actor Identity, t model.Template) error {
	if err := precondition(actor); err != nil {
		return err
	}
	if actor.Role == model.RoleAdmin {
		return nil
	}
	if isOwner(actor, t) {
		return nil
	}
	return fault.New(fault.Forbidden, "not the template author or a collaborator")
}

// CanReadTemplate permits anyone when the template is published; otherwise
// the mutate ownership rule applies. A nil actor is an anonymous caller.
func CanReadTemplate(actor *Identity, t model.Template) error {
	if t.Status == model.TemplatePublished {
		return nil
	}
	if actor == nil {
		return fault.New(fault.Unauthenticated, "credential required for unpublished templates")
	}
	return CanMutateTemplate(*actor, t)
}

// CanCreateForm permits any active user, but only against a published
// template.
func CanCreateForm(actor Identity, t model.Template) error {
	if err := precondition(actor); err != nil {
		return err
	}
	if t.Status != model.TemplatePublished {
		return fault.Newf(fault.TemplateNotPublished, "template %d is %s", t.ID, t.Status)
	}
	return nil
}

// CanUpdateForm permits the submitter only (plus global admins); template
// owners may read and delete submissions but not rewrite their content.
func CanUpdateForm(actor Identity, f model.Form) error {
	if err := precondition(actor); err != nil {
		return err
	}
	if actor.Role == model.RoleAdmin || actor.ID == f.UserID {
		return nil
	}
	return fault.New(fault.Forbidden, "not the form submitter")
}

// CanReadForm permits the submitter and the owning template's
// author/collaborators.
func CanReadForm(actor Identity, f model.Form, t model.Template) error {
	if err := precondition(actor); err != nil {
		return err
	}
	if actor.Role == model.RoleAdmin || actor.ID == f.UserID || isOwner(actor, t) {
		return nil
	}
	return fault.New(fault.Forbidden, "not the form submitter or a template owner")
}

// CanDeleteForm has the same owner set as CanReadForm.
func CanDeleteForm(actor Identity, f model.Form, t model.Template) error {
	return CanReadForm(actor, f, t)
}

// CanManageUsers gates the admin-only user operations.
func CanManageUsers(actor Identity) error {
	if err := precondition(actor); err != nil {
		return err
	}
	if actor.Role != model.RoleAdmin {
		return fault.New(fault.Forbidden, "admin role required")
	}
	return nil
}
