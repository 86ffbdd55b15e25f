package http

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/tools"
)

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) handleListModels(c *gin.Context) {
	entries, err := s.catalog.List(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) handleGetModel(c *gin.Context) {
	info, err := s.catalog.Lookup(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type toolView struct {
	core.ToolDefinition
	RequiresKey bool          `json:"requires_key"`
	Provider    core.Provider `json:"provider,omitempty"`
	UserHasKey  bool          `json:"user_has_key"`
}

func newToolView(t *tools.Tool, stored []core.Provider) toolView {
	v := toolView{ToolDefinition: t.Definition(), RequiresKey: t.RequiresAPIKey()}
	if v.RequiresKey {
		v.Provider = t.APIProvider()
		v.UserHasKey = slices.Contains(stored, v.Provider)
	}
	return v
}

func (s *Server) handleListTools(c *gin.Context) {
	stored, err := s.keys.ListProviders(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}

	list := s.tools.List()
	out := make([]toolView, 0, len(list))
	for _, t := range list {
		out = append(out, newToolView(t, stored))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetTool(c *gin.Context) {
	t, err := s.tools.Get(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	stored, err := s.keys.ListProviders(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newToolView(t, stored))
}

// handleRunTool invokes a tool directly with the JSON body as arguments.
func (s *Server) handleRunTool(c *gin.Context) {
	ctx := c.Request.Context()
	name := c.Param("name")

	args := map[string]any{}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			abort(c, http.StatusBadRequest, "invalid arguments: "+err.Error())
			return
		}
	}

	box, err := s.tools.Toolbox(ctx, currentUser(c).ID, s.keys, []string{name})
	if err != nil {
		fail(c, err)
		return
	}

	result, err := box.Invoke(ctx, core.ToolCall{ID: uuid.NewString(), Name: name, Args: args})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleListKeys(c *gin.Context) {
	providers, err := s.keys.ListProviders(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	if providers == nil {
		providers = []core.Provider{}
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

type keyRequest struct {
	Key string `json:"key" binding:"required"`
}

func (s *Server) handleSetKey(c *gin.Context) {
	var req keyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	provider := core.Provider(c.Param("provider"))
	if err := s.keys.SetAPIKey(c.Request.Context(), currentUser(c).ID, provider, req.Key); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": provider})
}

func (s *Server) handleDeleteKey(c *gin.Context) {
	provider := core.Provider(c.Param("provider"))
	if err := s.keys.DeleteAPIKey(c.Request.Context(), currentUser(c).ID, provider); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
