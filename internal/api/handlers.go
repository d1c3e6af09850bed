package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"

	"go.uber.org/zap"

	"github.com/nanome-ai/plugin-vault/internal/events"
	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/logging"
	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

// ─── GET /files ─────────────────────────────────────────────────────────────

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	ctx, err := s.scope(r, rel)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	key := r.Header.Get(protocol.KeyHeader)

	if isFilePath(rel) {
		data, err := s.store.ReadFile(ctx, rel, key)
		if err == nil {
			writeContent(w, r, rel, data)
			return
		}
		// folders may have dots in their names
		if !errors.Is(err, filestore.ErrNotFile) {
			s.fail(w, r, err)
			return
		}
	}

	s.sweep()
	listing, err := s.store.List(ctx, rel, key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sendJSON(w, http.StatusOK, protocol.ListResponse{Success: true, Listing: *listing})
}

// ─── POST /files ────────────────────────────────────────────────────────────

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	if s.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	}
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var maxBytes *http.MaxBytesError
		if !errors.As(err, &maxBytes) {
			err = badRequest("Invalid form data")
		}
		metrics.RecordCommand("invalid", s.fail(w, r, err))
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	cmd, err := parseCommand(r)
	if err != nil {
		metrics.RecordCommand("invalid", s.fail(w, r, err))
		return
	}

	status := http.StatusOK
	resp, err := s.execute(r, rel, cmd)
	if err != nil {
		status = s.fail(w, r, err)
	} else {
		sendJSON(w, status, resp)
	}
	metrics.RecordCommand(cmd.Name(), status)
}

// execute runs cmd against the item at rel and returns the response body.
func (s *Server) execute(r *http.Request, rel string, cmd Command) (any, error) {
	ok := protocol.SuccessResponse{Success: true}
	key := cmd.Key()

	scoped := []string{rel}
	if c, isMove := cmd.(MoveCmd); isMove {
		scoped = append(scoped, c.Folder)
	}
	ctx, err := s.scope(r, scoped...)
	if err != nil {
		return nil, err
	}
	rel = pathsafe.Clean(rel)

	switch c := cmd.(type) {
	case CreateCmd:
		if err := s.store.CreatePath(ctx, rel, key); err != nil {
			return nil, err
		}
		s.publishEvent(events.EventCreate, rel)
		return ok, nil

	case DeleteCmd:
		if err := s.store.DeletePath(ctx, rel, key); err != nil {
			return nil, err
		}
		s.publishEvent(events.EventDelete, rel)
		return ok, nil

	case EncryptCmd:
		if err := s.store.EncryptFolder(ctx, rel, key); err != nil {
			return nil, err
		}
		s.publishEvent(events.EventEncrypt, rel)
		return ok, nil

	case DecryptCmd:
		if err := s.store.DecryptFolder(ctx, rel, key); err != nil {
			return nil, err
		}
		s.publishEvent(events.EventDecrypt, rel)
		return ok, nil

	case VerifyCmd:
		valid := s.store.IsKeyValid(ctx, rel, key)
		return protocol.VerifyResponse{Success: true, Valid: valid}, nil

	case RenameCmd:
		renamed, err := s.store.RenamePath(ctx, rel, c.NewName, key)
		if err != nil {
			return nil, err
		}
		s.publishEvent(events.EventRename, renamed)
		return ok, nil

	case MoveCmd:
		moved, err := s.store.MovePath(ctx, rel, c.Folder, key)
		if err != nil {
			return nil, err
		}
		s.publishEvent(events.EventMove, moved)
		return ok, nil

	case UploadCmd:
		return s.upload(ctx, rel, c)

	case UploadInitCmd:
		if err := s.checkFolderKey(ctx, rel, key); err != nil {
			return nil, err
		}
		id, err := s.uploads.Init(ctx, rel, c.FileName, c.Size, key)
		if err != nil {
			return nil, err
		}
		return protocol.UploadInitResponse{Success: true, ID: id}, nil

	case UploadChunkCmd:
		f, err := c.Chunk.Open()
		if err != nil {
			return nil, fmt.Errorf("open chunk: %w", err)
		}
		defer f.Close()
		progress, err := s.uploads.Chunk(ctx, c.UploadID, c.FileName, c.ContentRange, f, key)
		if err != nil {
			return nil, err
		}
		if progress.Complete {
			s.publishEvent(events.EventUpload, progress.File)
		}
		return protocol.UploadChunkResponse{
			Success:  true,
			Received: progress.Received,
			Complete: progress.Complete,
			File:     progress.File,
		}, nil

	case UploadCancelCmd:
		if err := s.uploads.Cancel(ctx, c.UploadID); err != nil {
			return nil, err
		}
		return ok, nil
	}
	return nil, badRequest("Invalid command")
}

// checkFolderKey requires rel to exist and key to open its lock.
func (s *Server) checkFolderKey(ctx context.Context, rel, key string) error {
	if !s.store.Exists(rel) {
		return pathsafe.ErrNotFound
	}
	if !s.store.IsKeyValid(ctx, rel, key) {
		return filestore.ErrForbidden
	}
	return nil
}

// partName returns the filename the client sent for fh. The multipart
// reader keeps only the last path element, but uploads may name subfolders.
func partName(fh *multipart.FileHeader) string {
	_, params, err := mime.ParseMediaType(fh.Header.Get("Content-Disposition"))
	if err == nil && params["filename"] != "" {
		return params["filename"]
	}
	return fh.Filename
}

type uploadPart struct {
	name string
	data []byte
}

// upload stores a batch of files. Every part is validated and read before
// the first write, so an invalid part rejects the whole batch.
func (s *Server) upload(ctx context.Context, rel string, c UploadCmd) (any, error) {
	key := c.Key()
	if err := s.checkFolderKey(ctx, rel, key); err != nil {
		return nil, err
	}

	parts := make([]uploadPart, 0, len(c.Files))
	usage := map[string]int64{} // bytes per destination account
	for _, fh := range c.Files {
		raw := partName(fh)
		name, err := filestore.SanitizeFilename(raw)
		if err != nil {
			return nil, badRequest("Invalid file name: %q", raw)
		}
		if !filestore.AllowedExtension(name) {
			return nil, badRequest("Invalid file extension: %q", raw)
		}
		dest := path.Join(rel, path.Dir(name))
		if !filestore.InScope(ctx, dest) {
			return nil, errOutOfScope
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("read part %s: %w", fh.Filename, err)
		}
		account, _ := filestore.AccountOf(dest)
		usage[account] += int64(len(data))
		parts = append(parts, uploadPart{name: name, data: data})
	}
	for account, size := range usage {
		if err := s.store.CheckStorage(account, size); err != nil {
			return nil, err
		}
	}

	stored := make([]string, 0, len(parts))
	for _, p := range parts {
		file, err := s.store.AddFile(ctx, rel, p.name, p.data, key)
		if err != nil {
			logging.WithContext(ctx).Warn("upload batch stopped",
				zap.Int("stored", len(stored)),
				zap.String("failed", path.Join(rel, p.name)),
				zap.Error(err))
			return nil, err
		}
		stored = append(stored, file)
		s.publishEvent(events.EventUpload, file)
	}
	return protocol.UploadResponse{Success: true, Files: stored}, nil
}
