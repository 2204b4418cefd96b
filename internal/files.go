package internal

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"gorinidrive.com/vault/internal/audit"
	"gorinidrive.com/vault/internal/blob"
	"gorinidrive.com/vault/internal/errs"
	"gorinidrive.com/vault/internal/middleware"
	"gorinidrive.com/vault/internal/vault"
)

const maxNameLength = 255

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") || len(name) > maxNameLength {
		return "", errs.Validation("invalid file name '%s'", name)
	}
	return name, nil
}

// cleanFolder returns folder as an absolute slash path, "/" when empty.
func cleanFolder(folder string) (string, error) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return "/", nil
	}
	if strings.Contains(folder, "\\") || len(folder) > 4*maxNameLength {
		return "", errs.Validation("invalid folder '%s'", folder)
	}
	return path.Clean("/" + folder), nil
}

// ownedFile loads the :id file of the caller.
func (h *Handler) ownedFile(c *gin.Context) (*vault.File, bool) {
	id, ok := fileIDParam(c)
	if !ok {
		return nil, false
	}
	f, err := h.Database.GetOwnedFile(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		middleware.Abort(c, err)
		return nil, false
	}
	return f, true
}

func (h *Handler) ListFiles(c *gin.Context) {
	folder := c.Query("folder")
	if folder != "" {
		var err error
		if folder, err = cleanFolder(folder); err != nil {
			middleware.Abort(c, err)
			return
		}
	}
	files, err := h.Database.ListFiles(c.Request.Context(), middleware.UserID(c), folder)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, filesRes(files))
}

func (h *Handler) ListDeletedFiles(c *gin.Context) {
	files, err := h.Database.ListDeletedFiles(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, filesRes(files))
}

func (h *Handler) GetFile(c *gin.Context) {
	f, ok := h.ownedFile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, fileRes(f))
}

func (h *Handler) UploadFile(c *gin.Context) {
	userID := middleware.UserID(c)
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Config.MaxUploadSize+1<<20)

	file, err := c.FormFile("file")
	if err != nil {
		middleware.Abort(c, errs.Validation("missing or oversized file: %s", err))
		return
	}
	if file.Size > h.Config.MaxUploadSize {
		middleware.Abort(c, errs.Validation("file exceeds the %d byte upload limit", h.Config.MaxUploadSize))
		return
	}
	name, err := cleanName(file.Filename)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	folder, err := cleanFolder(c.PostForm("folder"))
	if err != nil {
		middleware.Abort(c, err)
		return
	}

	// Owner-wide rules gate uploads too
	if err := h.checkFileAccess(c, &vault.File{OwnerID: userID}, userID, audit.ActionFileUpload); err != nil {
		middleware.Abort(c, err)
		return
	}

	location, err := blob.NewKey()
	if err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}
	// For End-to-End encrypted files http.ServeFile can't detect mime-type so we save it to the database
	fileMimeType := file.Header.Get("Content-Type")

	src, err := file.Open()
	if err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}
	defer src.Close()
	if err := h.Blobs.Put(ctx, location, src, file.Size, fileMimeType); err != nil {
		middleware.Abort(c, errs.Internal(err))
		return
	}

	f := &vault.File{OwnerID: userID, Name: name, Folder: folder, Size: file.Size, MimeType: fileMimeType, Location: location}
	if err := h.Database.CreateFile(ctx, f); err != nil {
		if derr := h.Blobs.Delete(context.WithoutCancel(ctx), location); derr != nil {
			h.Logger.Warnf("Failed to remove blob %s after failed upload: %s", location, derr)
		}
		middleware.Abort(c, err)
		return
	}

	h.record(c, userID, userID, audit.ActionFileUpload, fileResource(f.ID), nil, map[string]any{"name": name, "size": f.Size})
	c.JSON(http.StatusCreated, fileRes(f))
}

// UpdateFile renames and/or moves a file.
func (h *Handler) UpdateFile(c *gin.Context) {
	userID := middleware.UserID(c)
	f, ok := h.ownedFile(c)
	if !ok {
		return
	}
	var req = &UpdateFileReq{}
	if !bind(c, req) {
		return
	}

	name, folder := f.Name, f.Folder
	var err error
	if req.Name != "" {
		if name, err = cleanName(req.Name); err != nil {
			middleware.Abort(c, err)
			return
		}
	}
	if req.Folder != "" {
		if folder, err = cleanFolder(req.Folder); err != nil {
			middleware.Abort(c, err)
			return
		}
	}

	if err := h.Database.UpdateFileMeta(c.Request.Context(), userID, f.ID, name, folder); err != nil {
		middleware.Abort(c, err)
		return
	}
	h.record(c, userID, userID, audit.ActionFileUpdate, fileResource(f.ID), nil, map[string]any{"name": name, "folder": folder})
	f.Name, f.Folder = name, folder
	c.JSON(http.StatusOK, fileRes(f))
}

// DeleteFile soft deletes a file; the purger removes it after the retention
// window.
func (h *Handler) DeleteFile(c *gin.Context) {
	userID := middleware.UserID(c)
	f, ok := h.ownedFile(c)
	if !ok {
		return
	}
	if err := h.checkFileAccess(c, f, userID, audit.ActionFileDelete); err != nil {
		middleware.Abort(c, err)
		return
	}
	if err := middleware.SpendChallenge(c); err != nil {
		middleware.Abort(c, err)
		return
	}
	err := h.Database.SoftDeleteFile(c.Request.Context(), userID, f.ID, h.now())
	h.record(c, userID, userID, audit.ActionFileDelete, fileResource(f.ID), err, nil)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) RestoreFile(c *gin.Context) {
	userID := middleware.UserID(c)
	id, ok := fileIDParam(c)
	if !ok {
		return
	}
	if err := h.Database.RestoreFile(c.Request.Context(), userID, id); err != nil {
		middleware.Abort(c, err)
		return
	}
	h.record(c, userID, userID, audit.ActionFileUpdate, fileResource(id), nil, map[string]any{"restored": true})
	c.Status(http.StatusOK)
}

func (h *Handler) DownloadFile(c *gin.Context) {
	h.serveFile(c, audit.ActionFileDownload, "attachment")
}

func (h *Handler) PreviewFile(c *gin.Context) {
	h.serveFile(c, audit.ActionFilePreview, "inline")
}

// serveFile writes the plaintext of the caller's file. Encrypted files need
// ?password=.
func (h *Handler) serveFile(c *gin.Context, action audit.Action, disposition string) {
	userID := middleware.UserID(c)
	f, ok := h.ownedFile(c)
	if !ok {
		return
	}
	if err := h.checkFileAccess(c, f, userID, action); err != nil {
		middleware.Abort(c, err)
		return
	}

	data, err := h.Vault.ReadWithPassword(c.Request.Context(), f.ID, c.Query("password"))
	h.record(c, userID, userID, action, fileResource(f.ID), err, map[string]any{"encrypted": f.Encrypted})
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	if action == audit.ActionFileDownload {
		if err := h.Database.RecordDownload(c.Request.Context(), f.ID, h.now()); err != nil {
			h.Logger.Warnf("Failed to update download count of file %d: %s", f.ID, err)
		}
	}
	writeContent(c, f, data, disposition)
}

func writeContent(c *gin.Context, f *vault.File, data []byte, disposition string) {
	contentType := f.MimeType
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.Header("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": f.Name}))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, contentType, data)
}

func (h *Handler) EncryptFile(c *gin.Context) {
	userID := middleware.UserID(c)
	f, ok := h.ownedFile(c)
	if !ok {
		return
	}
	var req = &EncryptReq{}
	if !bind(c, req) {
		return
	}
	if err := h.checkFileAccess(c, f, userID, audit.ActionFileEncrypt); err != nil {
		middleware.Abort(c, err)
		return
	}
	if f.Encrypted {
		h.record(c, userID, userID, audit.ActionFileEncrypt, fileResource(f.ID), errs.ErrAlreadyEncrypted, nil)
		middleware.Abort(c, errs.ErrAlreadyEncrypted)
		return
	}
	if err := middleware.SpendChallenge(c); err != nil {
		middleware.Abort(c, err)
		return
	}

	updated, err := h.Vault.Encrypt(c.Request.Context(), f.ID, req.Password)
	h.record(c, userID, userID, audit.ActionFileEncrypt, fileResource(f.ID), err, nil)
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, fileRes(updated))
}

// DecryptFile either returns the plaintext once (permanent=false) or
// replaces the stored ciphertext with it.
func (h *Handler) DecryptFile(c *gin.Context) {
	userID := middleware.UserID(c)
	f, ok := h.ownedFile(c)
	if !ok {
		return
	}
	var req = &DecryptReq{}
	if !bind(c, req) {
		return
	}
	if err := h.checkFileAccess(c, f, userID, audit.ActionFileDecrypt); err != nil {
		middleware.Abort(c, err)
		return
	}
	if !f.Encrypted {
		h.record(c, userID, userID, audit.ActionFileDecrypt, fileResource(f.ID), errs.ErrNotEncrypted, nil)
		middleware.Abort(c, errs.ErrNotEncrypted)
		return
	}
	if err := middleware.SpendChallenge(c); err != nil {
		middleware.Abort(c, err)
		return
	}

	ctx := c.Request.Context()
	data, err := h.Vault.Decrypt(ctx, f.ID, req.Password, req.Permanent)
	h.record(c, userID, userID, audit.ActionFileDecrypt, fileResource(f.ID), err, map[string]any{"permanent": req.Permanent})
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	if !req.Permanent {
		writeContent(c, f, data, "attachment")
		return
	}
	clear(data)

	updated, err := h.Vault.ReadFile(ctx, f.ID)
	if errors.Is(err, errs.ErrNotFound) {
		// deleted right after decrypting
		c.Status(http.StatusOK)
		return
	}
	if err != nil {
		middleware.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, fileRes(updated))
}
