package http

import (
	"mailsort_server/core/port/in"
	"mailsort_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// RefinementHandler controls the caller's background refinement worker.
type RefinementHandler struct {
	svc in.RefinementService
}

func NewRefinementHandler(svc in.RefinementService) *RefinementHandler {
	return &RefinementHandler{svc: svc}
}

func (h *RefinementHandler) Register(router fiber.Router) {
	router.Post("/refinement", h.Start)
	router.Delete("/refinement", h.Stop)
	router.Get("/refinement", h.Status)
}

func (h *RefinementHandler) Start(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	status, started := h.svc.Start(userID, "api")
	return response.Accepted(c, fiber.Map{
		"started": started,
		"worker":  status,
	})
}

func (h *RefinementHandler) Stop(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"stopped": h.svc.Stop(userID)})
}

func (h *RefinementHandler) Status(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	return response.OK(c, h.svc.Status(userID))
}
