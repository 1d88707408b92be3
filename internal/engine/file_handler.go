package engine

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"formflow-backend/internal/storage"
	"formflow-backend/internal/store"
)

// FileHandler manages attachments for file-type fields. A file is uploaded
// against a request and field key; the form value stores the returned file
// id.
type FileHandler struct {
	store   *store.Store
	storage storage.FileStorage
	maxSize int64
}

func NewFileHandler(s *store.Store, fs storage.FileStorage, maxSize int64) *FileHandler {
	return &FileHandler{store: s, storage: fs, maxSize: maxSize}
}

// RegisterFileRoutes adds the attachment routes.
func RegisterFileRoutes(app *fiber.App, h *FileHandler, middleware ...fiber.Handler) {
	g := app.Group("/api/files", middleware...)
	g.Post("/", h.Upload)
	g.Get("/:id", h.Serve)
	g.Delete("/:id", h.Delete)
}

func (h *FileHandler) Upload(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Missing file in form data")
	}
	if file.Size > h.maxSize {
		return NewAppError("FILE_TOO_LARGE", 413,
			fmt.Sprintf("File too large: %d bytes (max %d)", file.Size, h.maxSize))
	}

	requestID := c.FormValue("request_id")
	fieldKey := c.FormValue("field_key")
	if fieldKey == "" {
		return PreconditionError("field_key is required")
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	fileID := store.GenerateUUID()
	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	storagePath, err := h.storage.Save(c.UserContext(), fileID, file.Filename, src)
	if err != nil {
		return fmt.Errorf("save file: %w", err)
	}

	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`INSERT INTO _files (id, request_id, field_key, filename, mime_type, storage_path, size_bytes, uploaded_by)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(fileID), pb.Add(nilIfEmpty(requestID)), pb.Add(fieldKey),
		pb.Add(file.Filename), pb.Add(mimeType), pb.Add(storagePath),
		pb.Add(file.Size), pb.Add(user.ID))
	if _, err := store.Exec(c.UserContext(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		_ = h.storage.Delete(c.UserContext(), storagePath)
		return fmt.Errorf("insert file row: %w", err)
	}

	return c.Status(201).JSON(fiber.Map{
		"data": fiber.Map{
			"id":        fileID,
			"filename":  file.Filename,
			"size":      file.Size,
			"mime_type": mimeType,
			"url":       "/api/files/" + fileID,
		},
	})
}

func (h *FileHandler) Serve(c *fiber.Ctx) error {
	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(c.UserContext(), h.store.DB,
		fmt.Sprintf("SELECT filename, mime_type, storage_path FROM _files WHERE id = %s", pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return NotFoundError("file", id)
	}

	reader, err := h.storage.Open(c.UserContext(), asString(row["storage_path"]))
	if err != nil {
		return fmt.Errorf("open stored file: %w", err)
	}
	defer reader.Close()

	c.Set("Content-Type", asString(row["mime_type"]))
	c.Set("Content-Disposition", fmt.Sprintf(`inline; filename=%q`, asString(row["filename"])))
	return c.SendStream(reader)
}

func (h *FileHandler) Delete(c *fiber.Ctx) error {
	user := currentUser(c)
	if user == nil {
		return UnauthorizedError("Missing auth token")
	}

	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(c.UserContext(), h.store.DB,
		fmt.Sprintf("SELECT storage_path, uploaded_by FROM _files WHERE id = %s", pb.Add(id)),
		pb.Params()...)
	if err != nil {
		return NotFoundError("file", id)
	}
	if !user.IsAdmin() && asString(row["uploaded_by"]) != user.ID {
		return ForbiddenError("only the uploader may delete this file")
	}

	if err := h.storage.Delete(c.UserContext(), asString(row["storage_path"])); err != nil {
		return err
	}
	pb = h.store.Dialect.NewParamBuilder()
	if _, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("DELETE FROM _files WHERE id = %s", pb.Add(id)), pb.Params()...); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": true}})
}
