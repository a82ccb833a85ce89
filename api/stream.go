package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const sseDataPrefix = "data: "

// tokenFromQuery lets EventSource clients, which cannot set headers, pass the
// bearer token as ?token=.
func tokenFromQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if token := c.QueryParam("token"); token != "" && req.Header.Get(echo.HeaderAuthorization) == "" {
			req.Header.Set(echo.HeaderAuthorization, bearerPrefix+token)
		}
		return next(c)
	}
}

// streamNotices sends the visible toasts, oldest first, then every new toast
// as a server-sent event until the client goes away.
func streamNotices(c echo.Context, ws *Workspace) error {
	metricsFrom(c).SetOp("notices.stream")
	res := c.Response()
	if _, ok := res.Writer.(http.Flusher); !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	ws.streams.Add(1)
	defer ws.streams.Add(-1)
	ch, stop := ws.Tray.Subscribe()
	defer stop()

	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	current := ws.Tray.List()
	for i := len(current) - 1; i >= 0; i-- {
		if err := writeEvent(res, current[i]); err != nil {
			return err
		}
	}
	res.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case toast := <-ch:
			if err := writeEvent(res, toast); err != nil {
				c.Logger().Error(err)
				return err
			}
			res.Flush()
		}
	}
}

func writeEvent(res *echo.Response, v any) error {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(sseDataPrefix)+len(data)+2)
	buf = append(buf, sseDataPrefix...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	_, err = res.Write(buf)
	return err
}
