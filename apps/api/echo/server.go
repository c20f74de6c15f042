package echoapi

import (
	"context"
	"mime"
	"net/http"
	"path"

	ut "github.com/go-playground/universal-translator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/coursework"
	"github.com/trezcool/shule/core/notification"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	"github.com/trezcool/shule/services/files"
)

type (
	Options struct {
		Conf       *core.Config
		Logger     core.Logger
		Translator ut.Translator

		UserSvc         *user.Service
		SchoolSvc       *school.Service
		CourseworkSvc   *coursework.Service
		AttendanceSvc   *attendance.Service
		NotificationSvc *notification.Service

		// MemoryFiles, when set, is served under /files for the memory file store URLs.
		MemoryFiles *files.MemoryStore
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts           *Options
		app            *echo.Echo
		signalShutdown func()
	}
)

var _ Server = (*server)(nil)

// NewServer builds the API. signalShutdown is called when a handler hits an unrecoverable error.
func NewServer(opts *Options, signalShutdown func()) Server {
	s := &server{
		opts:           opts,
		app:            echo.New(),
		signalShutdown: signalShutdown,
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{conf.FrontendBaseURL},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)
	if s.opts.MemoryFiles != nil {
		s.app.GET("/files/*", serveMemoryFile(s.opts.MemoryFiles))
	}

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConfig(conf))
	liveJWT := middleware.JWTWithConfig(jwtConfig(conf, "query:token"))

	registerUserAPI(v1, jwt, s.opts.UserSvc, conf)
	registerSchoolAPI(v1, jwt, s.opts.SchoolSvc, s.opts.UserSvc)
	registerCourseworkAPI(v1, jwt, s.opts.CourseworkSvc)
	registerAttendanceAPI(v1, jwt, s.opts.AttendanceSvc)
	registerNotificationAPI(v1, jwt, liveJWT, s.opts.NotificationSvc, s.opts.Logger)
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Conf.Server.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Shule API!")
}

func serveMemoryFile(store *files.MemoryStore) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		p := ctx.Param("*")
		b, ok := store.Get(p)
		if !ok {
			return errHttpNotFound
		}
		contentType := mime.TypeByExtension(path.Ext(p))
		if contentType == "" {
			contentType = echo.MIMEOctetStream
		}
		return ctx.Blob(http.StatusOK, contentType, b)
	}
}
