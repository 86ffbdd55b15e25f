package http

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/pkg/conv"
	"github.com/sandevgo/chatd/pkg/log"
)

type messageRequest struct {
	Text   string          `json:"text"`
	Model  string          `json:"model,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

// readMessage builds the user message from a JSON body or a multipart form.
// It returns the paths of stored uploads so a failed turn can remove them.
func (s *Server) readMessage(c *gin.Context) (core.Message, []string, error) {
	var (
		req   messageRequest
		files []*multipart.FileHeader
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		form, err := c.MultipartForm()
		if err != nil {
			return core.Message{}, nil, fmt.Errorf("invalid form: %w", err)
		}
		req.Text = c.PostForm("text")
		req.Model = c.PostForm("model")
		if raw := c.PostForm("config"); raw != "" {
			req.Config = json.RawMessage(raw)
		}
		files = form.File["files"]
	} else if err := c.ShouldBindJSON(&req); err != nil {
		return core.Message{}, nil, fmt.Errorf("invalid request: %w", err)
	}

	if strings.TrimSpace(req.Text) == "" && len(files) == 0 {
		return core.Message{}, nil, fmt.Errorf("message needs text or files")
	}
	if len(req.Config) > 0 && !json.Valid(req.Config) {
		return core.Message{}, nil, fmt.Errorf("config is not valid JSON")
	}

	b := core.NewMessage(core.RoleUser)
	if req.Text != "" {
		b.Text(req.Text)
	}

	var stored []string
	for _, fh := range files {
		path, mimeType, err := s.storeUpload(c, fh)
		if err != nil {
			removeAll(stored)
			return core.Message{}, nil, err
		}
		stored = append(stored, path)

		if strings.HasPrefix(mimeType, "image/") {
			b.Image(path, mimeType)
		} else {
			b.File(path, mimeType)
		}
	}

	return b.Model(req.Model).Config(req.Config).Build(), stored, nil
}

func (s *Server) storeUpload(c *gin.Context, fh *multipart.FileHeader) (string, string, error) {
	if limit := s.cfg.MaxUploadMB << 20; limit > 0 && fh.Size > limit {
		return "", "", fmt.Errorf("%s exceeds %d MB", fh.Filename, s.cfg.MaxUploadMB)
	}

	dir := filepath.Join(s.uploads, currentUser(c).ID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", fmt.Errorf("create uploads dir: %w", err)
	}

	path := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(fh.Filename)))
	if err := c.SaveUploadedFile(fh, path); err != nil {
		return "", "", fmt.Errorf("save %s: %w", fh.Filename, err)
	}

	mimeType, err := conv.DetectMime(path)
	if err != nil {
		_ = os.Remove(path)
		return "", "", err
	}
	return path, mimeType, nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

// handleSendMessage runs a full turn and returns the final assistant message.
func (s *Server) handleSendMessage(c *gin.Context) {
	msg, stored, err := s.readMessage(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	reply, err := s.chats.SendTurn(c.Request.Context(), c.Param("id"), currentUser(c).ID, msg)
	if err != nil {
		removeAll(stored)
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// handleStartStream accepts a streaming turn; output is read from the websocket.
func (s *Server) handleStartStream(c *gin.Context) {
	msg, stored, err := s.readMessage(c)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := s.chats.StartStreamTurn(c.Request.Context(), c.Param("id"), currentUser(c).ID, msg)
	if err != nil {
		removeAll(stored)
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ack)
}

func (s *Server) handleGetUpload(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		abort(c, http.StatusBadRequest, "invalid file name")
		return
	}

	path := filepath.Join(s.uploads, currentUser(c).ID, name)
	if _, err := os.Stat(path); err != nil {
		log.FromCtx(c.Request.Context()).Debug().Err(err).Str("file", name).Msg("upload not found")
		abort(c, http.StatusNotFound, "file not found")
		return
	}
	c.File(path)
}
