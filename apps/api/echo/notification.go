package echoapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/notification"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

type notificationApi struct {
	svc      *notification.Service
	logger   core.Logger
	upgrader websocket.Upgrader
}

// registerNotificationAPI mounts the notification endpoints. liveJWT authenticates the websocket
// handshake, where browsers cannot set an Authorization header.
func registerNotificationAPI(g *echo.Group, jwt, liveJWT echo.MiddlewareFunc, svc *notification.Service, logger core.Logger) {
	api := notificationApi{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // token auth, no cookies
		},
	}

	ng := g.Group("/notifications")
	ng.GET("/live", api.live, liveJWT)

	ag := ng.Group("", jwt)
	ag.GET("", api.list)
	ag.GET("/unread-count", api.unreadCount)
	ag.POST("/read-all", api.markAllRead)
	ag.POST("/:id/read", api.markRead)
}

func (api *notificationApi) list(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	notifs, err := api.svc.List(ctx.Request().Context(), sess, ctx.QueryParam("unread") == "true")
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	return ctx.JSON(http.StatusOK, notifs)
}

func (api *notificationApi) unreadCount(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	count, err := api.svc.UnreadCount(ctx.Request().Context(), sess)
	if err != nil {
		return errors.Wrap(err, "counting notifications")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: count})
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.MarkRead(ctx.Request().Context(), sess, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	count, err := api.svc.MarkAllRead(ctx.Request().Context(), sess)
	if err != nil {
		return errors.Wrap(err, "marking notifications read")
	}
	return ctx.JSON(http.StatusOK, CountResponse{Count: count})
}

// live pushes the unread notifications of the user over a websocket, on connection and whenever
// they change, until the client goes away.
func (api *notificationApi) live(ctx echo.Context) error {
	sess, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	conn, err := api.upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader already replied
	}
	defer conn.Close()

	feed := newLiveFeed(conn)
	unsubscribe, err := api.svc.Subscribe(ctx.Request().Context(), sess, feed.push)
	if err != nil {
		api.logger.Error("subscribing to notifications", err, sess)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(wsWriteWait))
		return nil
	}
	defer unsubscribe()

	go feed.readUntilClosed()
	feed.writeLoop()
	return nil
}

// liveFeed serializes the writes of one websocket connection.
type liveFeed struct {
	conn    *websocket.Conn
	updates chan []notification.Notification
	done    chan struct{}
	once    sync.Once
}

func newLiveFeed(conn *websocket.Conn) *liveFeed {
	return &liveFeed{
		conn:    conn,
		updates: make(chan []notification.Notification, 1),
		done:    make(chan struct{}),
	}
}

// push keeps only the latest snapshot when the client is slower than the updates.
func (f *liveFeed) push(notifs []notification.Notification) {
	for {
		select {
		case <-f.done:
			return
		case f.updates <- notifs:
			return
		default:
			select {
			case <-f.updates:
			default:
			}
		}
	}
}

func (f *liveFeed) stop() {
	f.once.Do(func() { close(f.done) })
}

func (f *liveFeed) readUntilClosed() {
	defer f.stop()
	_ = f.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	f.conn.SetPongHandler(func(string) error {
		return f.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := f.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *liveFeed) writeLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer f.stop()

	for {
		select {
		case <-f.done:
			return
		case notifs := <-f.updates:
			_ = f.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := f.conn.WriteJSON(LiveUpdate{Unread: len(notifs), Notifications: notifs}); err != nil {
				return
			}
		case <-ticker.C:
			_ = f.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := f.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type LiveUpdate struct {
	Unread        int                         `json:"unread"`
	Notifications []notification.Notification `json:"notifications"`
}
