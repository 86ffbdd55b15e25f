package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/service/chat"
	"github.com/sandevgo/chatd/pkg/conv"
)

func (s *Server) handleListChats(c *gin.Context) {
	chats, err := s.chats.ListChats(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	if chats == nil {
		chats = []core.Chat{}
	}
	c.JSON(http.StatusOK, chats)
}

func (s *Server) handleCreateChat(c *gin.Context) {
	var req chat.ChatCreate
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
	}

	created, err := s.chats.CreateChat(c.Request.Context(), currentUser(c).ID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *Server) handleGetChat(c *gin.Context) {
	view, err := s.chats.GetChat(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleUpdateChat(c *gin.Context) {
	var req chat.ChatUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	updated, err := s.chats.UpdateChat(c.Request.Context(), currentUser(c).ID, c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteChat(c *gin.Context) {
	if err := s.chats.DeleteChat(c.Request.Context(), currentUser(c).ID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleExportChat renders the transcript as sanitized HTML, or as raw
// Markdown with ?format=md.
func (s *Server) handleExportChat(c *gin.Context) {
	md, err := s.chats.Transcript(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	switch c.DefaultQuery("format", "html") {
	case "md", "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(md))
	case "html":
		page := "<!doctype html>\n<html><head><meta charset=\"utf-8\"></head><body>\n" +
			conv.MarkdownToHTML([]byte(md)) +
			"</body></html>\n"
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
	default:
		abort(c, http.StatusBadRequest, "format must be html or md")
	}
}
