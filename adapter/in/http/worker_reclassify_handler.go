package http

import (
	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ReclassifyHandler starts and tracks reclassification jobs.
type ReclassifyHandler struct {
	svc in.ReclassifyService
}

func NewReclassifyHandler(svc in.ReclassifyService) *ReclassifyHandler {
	return &ReclassifyHandler{svc: svc}
}

func (h *ReclassifyHandler) Register(router fiber.Router, limiter fiber.Handler) {
	router.Post("/reclassify", limiter, h.Start)
	router.Get("/reclassify/jobs", h.List)
	router.Get("/reclassify/jobs/:id", h.Get)
	router.Delete("/reclassify/jobs/:id", h.Cancel)
}

// Start accepts {"label": "..."}; an empty body re-runs every message.
func (h *ReclassifyHandler) Start(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var scope domain.ReclassifyScope
	if err := bindJSON(c, &scope); err != nil {
		return err
	}

	job, err := h.svc.Start(c.UserContext(), userID, scope)
	if err != nil {
		return err
	}
	return response.Accepted(c, job)
}

func (h *ReclassifyHandler) List(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	limit := response.Limit(c, 20, 100)

	jobs, err := h.svc.List(c.UserContext(), userID, limit)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, jobs, &response.Meta{Total: len(jobs), Limit: limit})
}

func (h *ReclassifyHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	job, err := h.svc.Get(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, job)
}

func (h *ReclassifyHandler) Cancel(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Cancel(c.UserContext(), userID, c.Params("id")); err != nil {
		return err
	}
	return response.Accepted(c, fiber.Map{"id": c.Params("id"), "status": "cancelling"})
}
