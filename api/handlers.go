// Package api exposes the task dashboard over HTTP. Every route acts on the
// caller's workspace; task intents go through the synchronizer so the
// collection only changes after the store confirms a write.
package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
	"todo-api/session"
	"todo-api/tasksync"
	"todo-api/view"
)

const maxBodySize = 64 << 10 // 64 KiB

type workspaceHandler func(c echo.Context, ws *Workspace) error

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, reg *Registry, auth Authenticator, logger *log.Logger) {
	g := e.Group("/api", RequestMetrics(logger))
	with := func(h workspaceHandler) echo.HandlerFunc { return withWorkspace(reg, auth, h) }

	g.GET("/tasks", with(listTasks))
	g.POST("/tasks", with(addTask))
	g.POST("/tasks/reload", with(reloadTasks))
	g.POST("/tasks/:id/toggle", with(toggleTask))
	g.PUT("/tasks/:id", with(updateTask))
	g.DELETE("/tasks/:id", with(removeTask))

	g.PUT("/view/edit/:id", with(openEdit))
	g.DELETE("/view/edit", with(closeEdit))
	g.PUT("/view/menu/:id", with(toggleMenu))
	g.DELETE("/view/menu", with(closeMenu))

	g.GET("/notices", with(listNotices))
	g.GET("/notices/stream", with(streamNotices), tokenFromQuery)
	g.DELETE("/notices", with(clearNotices))
	g.DELETE("/notices/:id", with(dismissNotice))

	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// withWorkspace authenticates the request, attaches the caller's session to
// the request context and makes sure the collection has been loaded.
func withWorkspace(reg *Registry, auth Authenticator, h workspaceHandler) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		sess, err := requestSession(c, auth)
		if err != nil {
			m.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Kind: domain.KindUnauthenticated.String()})
		}
		req := c.Request()
		c.SetRequest(req.WithContext(session.WithContext(req.Context(), sess)))

		ws := reg.Workspace(sess)
		start := time.Now()
		err = ws.ensureLoaded(c.Request().Context())
		m.ObserveStore(time.Since(start))
		if err != nil {
			return writeError(c, err)
		}
		return h(c, ws)
	}
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindPrecondition:
		return http.StatusBadRequest
	case domain.KindEmptyResult:
		return http.StatusNotFound
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	}
	return http.StatusBadGateway
}

func writeError(c echo.Context, err error) error {
	kind := domain.Classify(err)
	metricsFrom(c).SetErrorStage(kind.String())
	return c.JSON(statusFor(kind), errorResponse{Error: err.Error(), Kind: kind.String()})
}

func badRequest(c echo.Context, msg string) error {
	metricsFrom(c).SetErrorStage("decode")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg, Kind: domain.KindPrecondition.String()})
}

func notInCollection(id string) error {
	return fmt.Errorf("task %s is not in the collection: %w", id, domain.ErrNoRows)
}

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
}

func decodeStrict(data []byte, v any) error {
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// listTasks applies the search and status query, when given, to the view
// filter and returns the visible tasks.
func listTasks(c echo.Context, ws *Workspace) error {
	m := metricsFrom(c)
	m.SetOp("list")

	q := c.QueryParams()
	if q.Has("search") || q.Has("status") {
		f := ws.View.Snapshot().Filter
		if q.Has("search") {
			f.Search = q.Get("search")
		}
		if q.Has("status") {
			f.Status = view.ParseStatus(q.Get("status"))
		}
		ws.View.SetFilter(f)
	}

	tasks := ws.Tasks.Tasks()
	ws.View.Prune(tasks)
	snap := ws.View.Snapshot()
	visible := snap.Filter.Apply(tasks)
	m.SetTasksReturned(len(visible))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: visible, Counts: view.CountTasks(tasks), View: snap})
}

func reloadTasks(c echo.Context, ws *Workspace) error {
	m := metricsFrom(c)
	m.SetOp(string(tasksync.OpLoad))
	start := time.Now()
	err := ws.reload(c.Request().Context())
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, err)
	}
	return listTasks(c, ws)
}

// addTask accepts either a bare JSON string title or a structured object.
func addTask(c echo.Context, ws *Workspace) error {
	m := metricsFrom(c)
	m.SetOp(string(tasksync.OpAdd))

	data, err := readBody(c)
	if err != nil {
		return badRequest(c, "invalid body")
	}
	var in tasksync.AddInput
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '"' {
		var title string
		if err := sonic.ConfigStd.Unmarshal(trimmed, &title); err != nil {
			return badRequest(c, "invalid body")
		}
		in = tasksync.TitleOnly(title)
	} else if err := decodeStrict(data, &in); err != nil {
		return badRequest(c, "invalid body")
	}

	start := time.Now()
	created, err := ws.Tasks.Add(c.Request().Context(), in)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, taskResponse{Task: created})
}

// toggleTask flips completion. The body carries the state the client saw;
// without it the locally known state is used.
func toggleTask(c echo.Context, ws *Workspace) error {
	m := metricsFrom(c)
	m.SetOp(string(tasksync.OpToggle))
	id := c.Param("id")

	var body toggleRequest
	data, err := readBody(c)
	if err != nil {
		return badRequest(c, "invalid body")
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := decodeStrict(data, &body); err != nil {
			return badRequest(c, "invalid body")
		}
	}
	current := false
	if body.IsComplete != nil {
		current = *body.IsComplete
	} else if t, ok := ws.Tasks.Get(id); ok {
		current = t.IsComplete
	}

	start := time.Now()
	toggled, err := ws.Tasks.Toggle(c.Request().Context(), id, current)
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, taskResponse{Task: toggled})
}

// updateTask saves the edit form for id and closes the edit slot on success.
func updateTask(c echo.Context, ws *Workspace) error {
	m := metricsFrom(c)
	m.SetOp(string(tasksync.OpUpdate))
	id := c.Param("id")

	data, err := readBody(c)
	if err != nil {
		return badRequest(c, "invalid body")
	}
	var body updateRequest
	if err := decodeStrict(data, &body); err != nil {
		return badRequest(c, "invalid body")
	}
	if body.ID != "" && body.ID != id {
		return badRequest(c, "id does not match the path")
	}
	draft := view.Draft{
		ID:         id,
		Title:      body.Title,
		Category:   domain.Category(body.Category),
		Priority:   domain.Priority(body.Priority),
		IsComplete: body.IsComplete,
	}
	if !draft.CanSave() {
		return writeError(c, domain.ErrEmptyTitle)
	}

	start := time.Now()
	stored, err := ws.Tasks.Update(c.Request().Context(), draft.Task())
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, err)
	}
	if editing, ok := ws.View.Editing(); ok && editing == id {
		ws.View.CloseEdit()
	}
	return c.JSON(http.StatusOK, taskResponse{Task: stored})
}

func removeTask(c echo.Context, ws *Workspace) error {
	m := metricsFrom(c)
	m.SetOp(string(tasksync.OpRemove))

	start := time.Now()
	err := ws.Tasks.Remove(c.Request().Context(), c.Param("id"))
	m.ObserveStore(time.Since(start))
	if err != nil {
		return writeError(c, err)
	}
	ws.View.Prune(ws.Tasks.Tasks())
	return c.NoContent(http.StatusNoContent)
}

// openEdit makes id the edit target and returns the prefilled form.
func openEdit(c echo.Context, ws *Workspace) error {
	metricsFrom(c).SetOp("edit")
	id := c.Param("id")
	t, ok := ws.Tasks.Get(id)
	if !ok {
		return writeError(c, notInCollection(id))
	}
	ws.View.OpenEdit(id)
	draft := view.NewDraft(t)
	return c.JSON(http.StatusOK, editResponse{Editing: id, Draft: &draft})
}

func closeEdit(c echo.Context, ws *Workspace) error {
	metricsFrom(c).SetOp("edit")
	ws.View.CloseEdit()
	return c.JSON(http.StatusOK, editResponse{})
}

func toggleMenu(c echo.Context, ws *Workspace) error {
	metricsFrom(c).SetOp("menu")
	id := c.Param("id")
	if _, ok := ws.Tasks.Get(id); !ok {
		return writeError(c, notInCollection(id))
	}
	open := ws.View.ToggleMenu(id)
	resp := menuResponse{Open: open}
	if open {
		resp.Menu = id
	}
	return c.JSON(http.StatusOK, resp)
}

func closeMenu(c echo.Context, ws *Workspace) error {
	metricsFrom(c).SetOp("menu")
	ws.View.CloseMenu()
	return c.JSON(http.StatusOK, menuResponse{})
}

func listNotices(c echo.Context, ws *Workspace) error {
	metricsFrom(c).SetOp("notices")
	return c.JSON(http.StatusOK, noticesResponse{Notices: ws.Tray.List()})
}

func clearNotices(c echo.Context, ws *Workspace) error {
	metricsFrom(c).SetOp("notices")
	ws.Tray.Clear()
	return c.NoContent(http.StatusNoContent)
}

func dismissNotice(c echo.Context, ws *Workspace) error {
	metricsFrom(c).SetOp("notices")
	ws.Tray.Dismiss(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
