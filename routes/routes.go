package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/formdeck/formdeck/app"
	"github.com/formdeck/formdeck/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Post("/register", Register(app))
	root.Post("/login", Login(app))
	root.Post("/refresh", Refresh(app))

	root.Route("/templates", func(r chi.Router) {
		r.Get("/", ListTemplates(app))
		r.With(middlewares.MaybeAuthenticated(app)).
			Get(`/{id:^\d+$}`, GetTemplateById(app))

		r.Group(func(r chi.Router) {
			r.Use(middlewares.Authenticated(app))

			r.Post("/new", CreateTemplate(app))
			r.Get("/user", MyTemplates(app))
			r.Put(`/update/{id:^\d+$}`, UpdateTemplate(app))
			r.Delete(`/{id:^\d+$}`, DeleteTemplate(app))
			r.Put(`/admins/{id:^\d+$}`, UpdateTemplateAdmins(app))
		})
	})

	root.Route("/users", func(r chi.Router) {
		r.Get(`/{id:^\d+$}`, GetUser(app))

		r.Group(func(r chi.Router) {
			r.Use(middlewares.Authenticated(app))

			r.Get("/search", SearchUsers(app))
			r.Get("/stats", MyStats(app))

			r.Group(func(r chi.Router) {
				r.Use(middlewares.AdminOnly)

				r.Get("/", ListUsers(app))
				r.Put(`/{id:^\d+$}`, UpdateUser(app))
				r.Delete(`/{id:^\d+$}`, DeleteUser(app))
			})
		})
	})

	root.Route("/forms", func(r chi.Router) {
		r.Use(middlewares.Authenticated(app))

		r.Post("/new", SubmitForm(app))
		r.Get("/user", MyForms(app))
		r.Get(`/template/{templateId:^\d+$}`, FormsByTemplate(app))
		r.Get(`/get/{formId:^\d+$}`, GetForm(app))
		r.Put(`/update/{formId:^\d+$}`, UpdateForm(app))
		r.Delete(`/delete/{formId:^\d+$}`, DeleteForm(app))
	})

	return root
}
