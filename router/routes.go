package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	handler "github.com/ukiyolabs/ukiyo-serve/handlers"
	"github.com/ukiyolabs/ukiyo-serve/middleware"
)

// SetupRoutes registers the full route table. localUploadRoot, when
// non-empty, is the local storage directory served statically under
// /uploads.
func SetupRoutes(app *fiber.App, localUploadRoot string) {
	// Health family, unauthenticated
	app.Get("/health", handler.Health)
	app.Get("/ready", handler.Ready)
	app.Get("/live", handler.Live)
	app.Get("/metrics", handler.Metrics)

	if localUploadRoot != "" {
		app.Static("/uploads", localUploadRoot)
	}

	api := app.Group("/api", logger.New())

	// Auth
	auth := api.Group("/auth")
	auth.Post("/register", handler.Register)
	auth.Post("/login", handler.Login)
	auth.Post("/logout", handler.Logout)
	auth.Get("/me", middleware.AuthMiddleware(), handler.Me)

	// User
	user := api.Group("/user", middleware.AuthMiddleware())
	user.Get("/:id", handler.GetUser)
	user.Put("/:id", handler.UpdateUser)
	user.Delete("/:id", handler.DeleteUser)

	// Transformations
	transform := api.Group("/transform", middleware.AuthMiddleware())
	transform.Get("/models", handler.ListModels)
	transform.Post("/upload", handler.UploadTransform)
	transform.Get("/status/:taskID", handler.TransformStatus)
	transform.Get("/result/:taskID", handler.TransformResult)
	transform.Get("/history", handler.TransformHistory)
	transform.Post("/cancel/:taskID", handler.CancelTransform)
	transform.Delete("/delete/:taskID", handler.DeleteTransform)
	transform.Get("/events/:taskID", handler.TransformEvents)

	// Gallery: the public surface first so it is reachable without a
	// token, then the authenticated CRUD.
	api.Get("/gallery/public", handler.PublicGallery)
	api.Get("/gallery/share/:token", handler.ShareGallery)

	gallery := api.Group("/gallery", middleware.AuthMiddleware())
	gallery.Get("/", handler.ListGallery)
	gallery.Post("/", handler.CreateGalleryItem)
	gallery.Get("/:id", handler.GetGalleryItem)
	gallery.Put("/:id", handler.UpdateGalleryItem)
	gallery.Delete("/:id", handler.DeleteGalleryItem)
}
