package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskforge-board/board"
	"taskforge-board/domain"
)

const headerIdempotencyKey = "Idempotency-Key"

var errDuplicateRequest = errors.New("request with this idempotency key was already processed")

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type countResponse struct {
	Count int `json:"count"`
}

type createDefaultBoardRequest struct {
	ProjectName string `json:"projectName"`
}

type createBoardRequest struct {
	Name    string          `json:"name"`
	Columns []domain.Column `json:"columns,omitempty"`
}

type reorderColumnsRequest struct {
	ColumnIDs []string `json:"columnIds"`
}

type repositionRequest struct {
	Index    *int   `json:"index"`
	ColumnID string `json:"columnId,omitempty"`
}

type changeStatusRequest struct {
	ColumnID string `json:"columnId"`
}

type bulkMoveRequest struct {
	Moves []board.Move `json:"moves"`
}

type handlers struct {
	engine  Engine
	auth    Authenticator
	deduper Deduper
	broker  *Broker
	log     *log.Logger
}

// Register wires up all API routes on the provided Echo instance. deduper
// may be nil, in which case Idempotency-Key headers are ignored; a nil
// broker disables the board event stream.
func Register(e *echo.Echo, engine Engine, auth Authenticator, deduper Deduper, broker *Broker, logger *log.Logger) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	h := &handlers{engine: engine, auth: auth, deduper: deduper, broker: broker, log: logger}
	e.JSONSerializer = SonicSerializer{}

	e.GET("/healthz", healthz)

	e.GET("/api/projects/:projectId/boards", h.route("/api/projects/:projectId/boards", h.listBoards))
	e.POST("/api/projects/:projectId/boards", h.route("/api/projects/:projectId/boards", h.createBoard))
	e.GET("/api/projects/:projectId/boards/default", h.route("/api/projects/:projectId/boards/default", h.defaultBoard))
	e.POST("/api/projects/:projectId/boards/default", h.route("/api/projects/:projectId/boards/default", h.createDefaultBoard))
	e.POST("/api/projects/:projectId/tasks", h.route("/api/projects/:projectId/tasks", h.createTask))

	e.GET("/api/boards/:boardId", h.route("/api/boards/:boardId", h.getBoard))
	e.PATCH("/api/boards/:boardId", h.route("/api/boards/:boardId", h.updateBoard))
	e.DELETE("/api/boards/:boardId", h.route("/api/boards/:boardId", h.deleteBoard))
	e.PUT("/api/boards/:boardId/columns/order", h.route("/api/boards/:boardId/columns/order", h.reorderColumns))
	e.POST("/api/boards/:boardId/columns/:columnId/archive", h.route("/api/boards/:boardId/columns/:columnId/archive", h.archiveColumn))
	e.POST("/api/boards/:boardId/columns/:columnId/renumber", h.route("/api/boards/:boardId/columns/:columnId/renumber", h.renumberColumn))
	e.GET("/api/boards/:boardId/tasks", h.route("/api/boards/:boardId/tasks", h.boardTasks))
	e.GET("/api/boards/:boardId/stats", h.route("/api/boards/:boardId/stats", h.statistics))
	e.POST("/api/boards/:boardId/moves", h.route("/api/boards/:boardId/moves", h.bulkMove))
	e.POST("/api/boards/:boardId/reconcile", h.route("/api/boards/:boardId/reconcile", h.reconcile))
	if broker != nil {
		e.GET("/api/boards/:boardId/events", queryTokenAuth(h.route("/api/boards/:boardId/events", h.streamBoard)))
	}

	e.GET("/api/tasks/:taskId", h.route("/api/tasks/:taskId", h.getTask))
	e.DELETE("/api/tasks/:taskId", h.route("/api/tasks/:taskId", h.deleteTask))
	e.PUT("/api/tasks/:taskId/position", h.route("/api/tasks/:taskId/position", h.reposition))
	e.PUT("/api/tasks/:taskId/status", h.route("/api/tasks/:taskId/status", h.changeStatus))
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// request is the per-call state shared by every handler.
type request struct {
	c         echo.Context
	ctx       context.Context
	principal Principal
	metrics   *requestMetrics
	internal  error
}

type handlerFunc func(r *request) error

// route authenticates the caller and records request metrics around fn.
func (h *handlers) route(path string, fn handlerFunc) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, ctx := newRequestMetrics(c.Request().Context(), h.log, c.Request().Method, path)
		r := &request{c: c, ctx: ctx, metrics: metrics}
		defer func() {
			metrics.Log(c.Response().Status, errors.Join(err, r.internal))
		}()

		authStart := time.Now()
		p, authErr := h.auth.PrincipalFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Code: "unauthorized", Message: authErr.Error()})
		}
		r.principal = p
		r.ctx = board.WithActor(ctx, p.UserID)
		c.SetRequest(c.Request().WithContext(r.ctx))
		return fn(r)
	}
}

// statusForError maps engine errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrCannotDeleteDefaultBoard), errors.Is(err, domain.ErrBoardNotEmpty):
		return http.StatusBadRequest
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindConflict, domain.KindConcurrency:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errForbidden):
		return "forbidden"
	case errors.Is(err, errDuplicateRequest):
		return "duplicate_request"
	case errors.Is(err, errBodyTooLarge):
		return "body_too_large"
	}
	return domain.CodeOf(err)
}

func (h *handlers) fail(r *request, stage string, err error) error {
	r.metrics.SetErrorStage(stage)
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		r.internal = err
		h.log.WithError(err).WithFields(log.Fields{
			"route":  r.metrics.route,
			"userId": r.principal.UserID,
		}).Error("board request failed")
		return r.c.JSON(status, errorResponse{Code: "internal", Message: "internal error"})
	}
	r.metrics.Set("error_code", errorCode(err))
	return r.c.JSON(status, errorResponse{Code: errorCode(err), Message: err.Error()})
}

func (h *handlers) badBody(r *request, err error) error {
	if errors.Is(err, errBodyTooLarge) {
		return h.fail(r, "decode", err)
	}
	r.metrics.SetErrorStage("decode")
	return r.c.JSON(http.StatusBadRequest, errorResponse{Code: "invalid_body", Message: err.Error()})
}

func (h *handlers) respond(r *request, status int, body any) error {
	start := time.Now()
	err := r.c.JSON(status, body)
	r.metrics.ObserveEncode(time.Since(start))
	if err != nil {
		r.metrics.SetErrorStage("encode_response")
	}
	return err
}

// timed runs an engine call and records its duration.
func timed[T any](r *request, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	r.metrics.ObserveEngine(time.Since(start))
	return v, err
}

// boardFor loads the board and checks the caller's access to its project.
func (h *handlers) boardFor(r *request, level access) (domain.Board, error) {
	b, err := timed(r, func() (domain.Board, error) {
		return h.engine.GetBoard(r.ctx, r.c.Param("boardId"))
	})
	if err != nil {
		return domain.Board{}, err
	}
	if err := r.principal.authorize(b.ProjectID, level); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// taskFor loads the task and checks the caller's access to its project.
func (h *handlers) taskFor(r *request, level access) (domain.Task, error) {
	t, err := timed(r, func() (domain.Task, error) {
		return h.engine.GetTask(r.ctx, r.c.Param("taskId"))
	})
	if err != nil {
		return domain.Task{}, err
	}
	if err := r.principal.authorize(t.ProjectID, level); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (h *handlers) listBoards(r *request) error {
	projectID := r.c.Param("projectId")
	if err := r.principal.authorize(projectID, accessView); err != nil {
		return h.fail(r, "authorize", err)
	}
	boards, err := timed(r, func() ([]domain.BoardSummary, error) {
		return h.engine.ListBoards(r.ctx, projectID)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	r.metrics.Set("boards_returned", len(boards))
	return h.respond(r, http.StatusOK, boards)
}

func (h *handlers) createBoard(r *request) error {
	projectID := r.c.Param("projectId")
	if err := r.principal.authorize(projectID, accessManage); err != nil {
		return h.fail(r, "authorize", err)
	}
	var req createBoardRequest
	if err := decodeBody(r.c.Request().Body, &req); err != nil {
		return h.badBody(r, err)
	}
	b, err := timed(r, func() (domain.Board, error) {
		return h.engine.CreateBoard(r.ctx, projectID, req.Name, req.Columns)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusCreated, b)
}

func (h *handlers) defaultBoard(r *request) error {
	projectID := r.c.Param("projectId")
	if err := r.principal.authorize(projectID, accessView); err != nil {
		return h.fail(r, "authorize", err)
	}
	b, err := timed(r, func() (domain.Board, error) {
		return h.engine.DefaultBoard(r.ctx, projectID)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusOK, b)
}

func (h *handlers) createDefaultBoard(r *request) error {
	projectID := r.c.Param("projectId")
	if err := r.principal.authorize(projectID, accessEdit); err != nil {
		return h.fail(r, "authorize", err)
	}
	var req createDefaultBoardRequest
	if err := decodeBody(r.c.Request().Body, &req); err != nil {
		return h.badBody(r, err)
	}
	b, err := timed(r, func() (domain.Board, error) {
		return h.engine.CreateDefaultBoard(r.ctx, projectID, req.ProjectName)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusCreated, b)
}

func (h *handlers) getBoard(r *request) error {
	b, err := h.boardFor(r, accessView)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	return h.respond(r, http.StatusOK, b)
}

func (h *handlers) updateBoard(r *request) error {
	b, err := h.boardFor(r, accessManage)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	var upd board.BoardUpdate
	if err := decodeBody(r.c.Request().Body, &upd); err != nil {
		return h.badBody(r, err)
	}
	updated, err := timed(r, func() (domain.Board, error) {
		return h.engine.UpdateBoard(r.ctx, b.ID, upd)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusOK, updated)
}

func (h *handlers) deleteBoard(r *request) error {
	b, err := h.boardFor(r, accessManage)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	if _, err := timed(r, func() (struct{}, error) {
		return struct{}{}, h.engine.DeleteBoard(r.ctx, b.ID)
	}); err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusOK, successResponse{Success: true})
}

func (h *handlers) reorderColumns(r *request) error {
	b, err := h.boardFor(r, accessManage)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	var req reorderColumnsRequest
	if err := decodeBody(r.c.Request().Body, &req); err != nil {
		return h.badBody(r, err)
	}
	if _, err := timed(r, func() (domain.Board, error) {
		return h.engine.ReorderColumns(r.ctx, b.ID, req.ColumnIDs)
	}); err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusOK, successResponse{Success: true})
}

func (h *handlers) archiveColumn(r *request) error {
	b, err := h.boardFor(r, accessManage)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	n, err := timed(r, func() (int, error) {
		return h.engine.ArchiveColumnTasks(r.ctx, b.ID, r.c.Param("columnId"))
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	r.metrics.Set("tasks_archived", n)
	return h.respond(r, http.StatusOK, countResponse{Count: n})
}

func (h *handlers) renumberColumn(r *request) error {
	b, err := h.boardFor(r, accessManage)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	n, err := timed(r, func() (int, error) {
		return h.engine.Renumber(r.ctx, b.ID, r.c.Param("columnId"))
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	r.metrics.Set("tasks_written", n)
	return h.respond(r, http.StatusOK, countResponse{Count: n})
}

func (h *handlers) reconcile(r *request) error {
	b, err := h.boardFor(r, accessManage)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	n, err := timed(r, func() (int, error) {
		return h.engine.Reconcile(r.ctx, b.ID)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	r.metrics.Set("tasks_written", n)
	return h.respond(r, http.StatusOK, countResponse{Count: n})
}

func (h *handlers) boardTasks(r *request) error {
	b, err := h.boardFor(r, accessView)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	bt, err := timed(r, func() (domain.BoardTasks, error) {
		return h.engine.BoardTasks(r.ctx, b.ID)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	n := 0
	for _, ts := range bt.Columns {
		n += len(ts)
	}
	r.metrics.Set("tasks_returned", n)
	return h.respond(r, http.StatusOK, bt)
}

func (h *handlers) statistics(r *request) error {
	b, err := h.boardFor(r, accessView)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	stats, err := timed(r, func() (domain.BoardStatistics, error) {
		return h.engine.Statistics(r.ctx, b.ID)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusOK, stats)
}

func (h *handlers) bulkMove(r *request) error {
	b, err := h.boardFor(r, accessEdit)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	var req bulkMoveRequest
	if err := decodeBody(r.c.Request().Body, &req); err != nil {
		return h.badBody(r, err)
	}

	key := strings.TrimSpace(r.c.Request().Header.Get(headerIdempotencyKey))
	if key != "" && h.deduper != nil {
		r.metrics.Set("idempotency_key", true)
		added, err := h.deduper.Add(r.ctx, r.principal.UserID, key)
		if err != nil {
			return h.fail(r, "dedupe", err)
		}
		if !added {
			return h.fail(r, "dedupe", errDuplicateRequest)
		}
	}

	res, err := timed(r, func() (board.BulkResult, error) {
		return h.engine.BulkMove(r.ctx, b.ID, req.Moves)
	})
	if err != nil {
		if key != "" && h.deduper != nil {
			if rerr := h.deduper.Remove(context.WithoutCancel(r.ctx), r.principal.UserID, key); rerr != nil {
				h.log.WithError(rerr).WithField("boardId", b.ID).Warn("idempotency key rollback failed")
			}
		}
		return h.fail(r, "engine", err)
	}
	r.metrics.Set("tasks_moved", res.Moved)
	r.metrics.Set("tasks_failed", len(res.Failed))
	return h.respond(r, http.StatusOK, res)
}

func (h *handlers) createTask(r *request) error {
	projectID := r.c.Param("projectId")
	if err := r.principal.authorize(projectID, accessEdit); err != nil {
		return h.fail(r, "authorize", err)
	}
	var in board.NewTask
	if err := decodeBody(r.c.Request().Body, &in); err != nil {
		return h.badBody(r, err)
	}
	in.ProjectID = projectID
	if in.CreatorID == "" {
		in.CreatorID = r.principal.UserID
	}
	t, err := timed(r, func() (domain.Task, error) {
		return h.engine.CreateTask(r.ctx, in)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusCreated, t)
}

func (h *handlers) getTask(r *request) error {
	t, err := h.taskFor(r, accessView)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	return h.respond(r, http.StatusOK, t)
}

func (h *handlers) deleteTask(r *request) error {
	t, err := h.taskFor(r, accessEdit)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	if _, err := timed(r, func() (struct{}, error) {
		return struct{}{}, h.engine.DeleteTask(r.ctx, t.ID)
	}); err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusOK, successResponse{Success: true})
}

func (h *handlers) reposition(r *request) error {
	t, err := h.taskFor(r, accessEdit)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	var req repositionRequest
	if err := decodeBody(r.c.Request().Body, &req); err != nil {
		return h.badBody(r, err)
	}
	if req.Index == nil {
		return h.badBody(r, errors.New("index is required"))
	}
	moved, err := timed(r, func() (domain.Task, error) {
		return h.engine.Reposition(r.ctx, t.ID, *req.Index, req.ColumnID)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusOK, moved)
}

func (h *handlers) changeStatus(r *request) error {
	t, err := h.taskFor(r, accessEdit)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	var req changeStatusRequest
	if err := decodeBody(r.c.Request().Body, &req); err != nil {
		return h.badBody(r, err)
	}
	moved, err := timed(r, func() (domain.Task, error) {
		return h.engine.ChangeStatus(r.ctx, t.ID, req.ColumnID)
	})
	if err != nil {
		return h.fail(r, "engine", err)
	}
	return h.respond(r, http.StatusOK, moved)
}
