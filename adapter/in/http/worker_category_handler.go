package http

import (
	"mailsort_server/core/domain"
	"mailsort_server/core/port/in"
	"mailsort_server/pkg/apperr"
	"mailsort_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CategoryHandler handles category CRUD.
type CategoryHandler struct {
	svc in.CategoryService
}

func NewCategoryHandler(svc in.CategoryService) *CategoryHandler {
	return &CategoryHandler{svc: svc}
}

func (h *CategoryHandler) Register(router fiber.Router) {
	cat := router.Group("/categories")
	cat.Get("/", h.List)
	cat.Post("/", h.Create)
	cat.Get("/:id", h.Get)
	cat.Patch("/:id", h.Update)
	cat.Delete("/:id", h.Delete)
}

func (h *CategoryHandler) List(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	categories, err := h.svc.List(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, categories, &response.Meta{Total: len(categories)})
}

func (h *CategoryHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	category, err := h.svc.Get(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, category)
}

func (h *CategoryHandler) Create(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req in.CreateCategoryRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Name == "" {
		return apperr.MissingField("name")
	}

	category, err := h.svc.Create(c.UserContext(), userID, &req)
	if err != nil {
		return err
	}
	return response.Created(c, category)
}

// Update applies a partial patch; renames cascade to messages.
func (h *CategoryHandler) Update(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var patch domain.CategoryPatch
	if err := bindJSON(c, &patch); err != nil {
		return err
	}

	result, err := h.svc.Update(c.UserContext(), userID, c.Params("id"), &patch)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

// Delete reassigns the category's messages to the fallback label.
func (h *CategoryHandler) Delete(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	relabeled, err := h.svc.Delete(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"relabeled": relabeled})
}
