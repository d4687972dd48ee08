package api

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestGzipBodyCloseReleasesRequestBody(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write([]byte(`{"moves":[]}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	raw := &closeTracker{Reader: &buf}
	req := httptest.NewRequest(http.MethodPost, "/api/boards/b1/moves", nil)
	req.Body = raw
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()

	e := echo.New()
	c := e.NewContext(req, rec)
	var got []byte
	h := GzipRequestMiddleware()(func(c echo.Context) error {
		body := c.Request().Body
		var err error
		if got, err = io.ReadAll(body); err != nil {
			return err
		}
		return body.Close()
	})
	if err := h(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(got) != `{"moves":[]}` {
		t.Fatalf("unexpected body %q", got)
	}
	if !raw.closed {
		t.Fatalf("closing the decompressed body must close the request body")
	}
	if c.Request().Header.Get(echo.HeaderContentEncoding) != "" {
		t.Fatalf("content encoding should be cleared after decompression")
	}
}
