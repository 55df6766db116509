package toolserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/SergiySeletsky/mem0-sub000/internal/errs"
	"github.com/SergiySeletsky/mem0-sub000/internal/graphtraversal"
	"github.com/SergiySeletsky/mem0-sub000/internal/memory"
	"github.com/SergiySeletsky/mem0-sub000/internal/retrieval"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "service": "memoryd"})
}

type addMemoriesRequest struct {
	UserID  string   `json:"user_id"`
	AppName string   `json:"app_name"`
	Texts   []string `json:"texts"`
}

func (s *Server) handleAddMemories(c echo.Context) error {
	var req addMemoriesRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || len(req.Texts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and texts are required")
	}

	outcomes := s.memory.AddBatch(c.Request().Context(), req.UserID, req.AppName, req.Texts)
	results := make([]map[string]any, len(outcomes))
	for i, o := range outcomes {
		item := map[string]any{"event": o.Event, "memory": req.Texts[i]}
		if o.MemoryID != "" {
			item["id"] = o.MemoryID
		}
		if o.Err != nil {
			item["error"] = o.Err.Error()
		}
		results[i] = item
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleGetMemory(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	var asOf *time.Time
	if raw := c.QueryParam("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "as_of must be RFC3339")
		}
		asOf = &t
	}
	includeSuperseded := c.QueryParam("include_superseded") == "true"

	mem, err := s.memory.GetMemory(c.Request().Context(), userID, c.Param("id"), asOf, includeSuperseded)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "memory not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, mem)
}

func (s *Server) handleListMemories(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	opts := memory.ListOptions{
		Limit:             intParam(c, "limit", 50),
		Offset:            intParam(c, "offset", 0),
		IncludeSuperseded: c.QueryParam("include_superseded") == "true",
	}
	if raw := c.QueryParam("as_of"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "as_of must be RFC3339")
		}
		opts.AsOf = &t
	}

	mems, total, err := s.memory.ListMemories(c.Request().Context(), userID, opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":   total,
		"offset":  opts.Offset,
		"limit":   opts.Limit,
		"results": mems,
	})
}

type updateMemoryRequest struct {
	UserID  string `json:"user_id"`
	AppName string `json:"app_name"`
	Text    string `json:"text"`
}

func (s *Server) handleUpdateMemory(c echo.Context) error {
	var req updateMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and text are required")
	}

	updated, err := s.memory.SupersedeMemory(c.Request().Context(), req.UserID, req.AppName, c.Param("id"), req.Text)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "memory not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"updated": updated})
}

func intParam(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func (s *Server) handleDeleteMemory(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if err := s.memory.DeleteMemory(c.Request().Context(), userID, c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type searchRequest struct {
	UserID       string   `json:"user_id"`
	AppName      string   `json:"app_name"`
	Query        string   `json:"query"`
	TopK         int      `json:"top_k"`
	Mode         string   `json:"mode"` // "hybrid" (default), "vector", or "text"
	Categories   []string `json:"categories"`
	CreatedAfter string   `json:"created_after"` // RFC3339
}

func (s *Server) handleSearch(c echo.Context) error {
	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and query are required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 10
	}
	mode := retrieval.Mode(req.Mode)
	if mode == "" {
		mode = retrieval.ModeHybrid
	}

	filter := retrieval.Filter{Categories: req.Categories}
	if req.CreatedAfter != "" {
		t, err := time.Parse(time.RFC3339, req.CreatedAfter)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "created_after must be RFC3339")
		}
		filter.Since = &t
	}

	result, err := s.search.Search(c.Request().Context(), req.UserID, req.AppName, req.Query, topK, mode, filter)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type graphSearchRequest struct {
	UserID   string `json:"user_id"`
	AppName  string `json:"app_name"`
	Query    string `json:"query"`
	Mode     string `json:"mode"` // "vector" or "terms"
	Limit    int    `json:"limit"`
	MaxDepth int    `json:"max_depth"`
}

func (s *Server) handleGraphSearch(c echo.Context) error {
	var req graphSearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" || req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id and query are required")
	}

	ctx := c.Request().Context()
	opts := graphtraversal.Options{Limit: req.Limit, MaxHops: req.MaxDepth}
	var results []graphtraversal.MemoryResult
	var err error
	if req.Mode == "terms" {
		results, err = s.graph.SearchByTerms(ctx, req.UserID, req.AppName, req.Query, opts)
	} else {
		results, err = s.graph.SearchByVector(ctx, req.UserID, req.AppName, req.Query, opts)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleRebuildCommunities(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if err := s.communities.Rebuild(c.Request().Context(), userID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (s *Server) handleDeleteEntity(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}
	if err := s.entity.DeleteEntity(c.Request().Context(), userID, c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
