package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ampapacek/SAGE/internal/config"
	"github.com/ampapacek/SAGE/internal/handler"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AssignmentHandler *handler.AssignmentHandler
	RubricHandler     *handler.RubricHandler
	SubmissionHandler *handler.SubmissionHandler
	JobHandler        *handler.JobHandler
	QueueMode         string
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.QueueMode))
	api.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	assignments := api.Group("/assignments")
	if deps.AssignmentHandler != nil {
		deps.AssignmentHandler.Register(assignments)
	}
	if deps.RubricHandler != nil {
		deps.RubricHandler.RegisterAssignmentScoped(assignments)
		deps.RubricHandler.Register(api.Group("/rubrics"))
	}
	if deps.SubmissionHandler != nil {
		deps.SubmissionHandler.RegisterAssignmentScoped(assignments)
		submissions := api.Group("/submissions")
		deps.SubmissionHandler.Register(submissions)
		deps.SubmissionHandler.RegisterResults(api.Group("/results"))
		if deps.JobHandler != nil {
			deps.JobHandler.RegisterSubmissionScoped(submissions)
		}
	}
	if deps.JobHandler != nil {
		deps.JobHandler.RegisterAssignmentScoped(assignments)
		deps.JobHandler.Register(api.Group("/jobs"))
	}
}
