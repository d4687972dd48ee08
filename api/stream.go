package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"taskforge-board/domain"
)

const actionBoardDeleted = "board.deleted"

var errStreamUnsupported = errors.New("stream unsupported")

// Broker fans board changes out to the event streams of this instance.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.BoardChange]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan domain.BoardChange]struct{})}
}

func (b *Broker) subscribe(boardID string) chan domain.BoardChange {
	ch := make(chan domain.BoardChange, 1)
	b.mu.Lock()
	if b.subs[boardID] == nil {
		b.subs[boardID] = make(map[chan domain.BoardChange]struct{})
	}
	b.subs[boardID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(boardID string, ch chan domain.BoardChange) {
	b.mu.Lock()
	delete(b.subs[boardID], ch)
	if len(b.subs[boardID]) == 0 {
		delete(b.subs, boardID)
	}
	b.mu.Unlock()
}

// BoardChanged wakes every stream of the board. Each stream keeps only the
// latest pending change since it re-reads the whole board anyway.
func (b *Broker) BoardChanged(_ context.Context, change domain.BoardChange) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[change.BoardID] {
		select {
		case ch <- change:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- change:
			default:
			}
		}
	}
}

func (b *Broker) subscribers(boardID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[boardID])
}

// streamBoard sends the board's tasks as server-sent events, once on connect
// and again after every change.
func (h *handlers) streamBoard(r *request) error {
	b, err := h.boardFor(r, accessView)
	if err != nil {
		return h.fail(r, "lookup", err)
	}
	res := r.c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return h.fail(r, "stream", errStreamUnsupported)
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	ch := h.broker.subscribe(b.ID)
	defer h.broker.unsubscribe(b.ID, ch)

	sent := 0
	defer func() { r.metrics.Set("events_sent", sent) }()
	for {
		bt, err := h.engine.BoardTasks(r.ctx, b.ID)
		if err != nil {
			r.metrics.SetErrorStage("engine")
			r.internal = err
			return nil
		}
		data, err := sonic.Marshal(bt)
		if err != nil {
			r.metrics.SetErrorStage("encode_response")
			r.internal = err
			return nil
		}
		if err := writeEvent(res, "board", data); err != nil {
			return nil
		}
		flusher.Flush()
		sent++

		select {
		case <-r.ctx.Done():
			return nil
		case change := <-ch:
			if change.Action == actionBoardDeleted {
				_ = writeEvent(res, "deleted", []byte(`{"boardId":"`+b.ID+`"}`))
				flusher.Flush()
				return nil
			}
		}
	}
}

// queryTokenAuth lets EventSource clients, which cannot set headers, pass
// the bearer token as access_token.
func queryTokenAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if req.Header.Get(echo.HeaderAuthorization) == "" {
			if tok := c.QueryParam("access_token"); tok != "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
			}
		}
		return next(c)
	}
}

func writeEvent(w http.ResponseWriter, event string, data []byte) error {
	if _, err := w.Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
