package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/attendance"
	"github.com/trezcool/shule/core/coursework"
	"github.com/trezcool/shule/core/event"
	"github.com/trezcool/shule/core/notification"
	"github.com/trezcool/shule/core/school"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	"github.com/trezcool/shule/services/files"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/services/queue"
	"github.com/trezcool/shule/storage/database"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	if err := run(conf, logger); err != nil {
		logger.Fatal(fmt.Sprintf("%v", err), err)
	}
}

func run(conf *core.Config, logger *logsvc.RollbarLogger) error {
	// =========================================================================
	// Set up Dependencies

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := database.NewRecordStore(ctx, conf, logger)
	if err != nil {
		return errors.Wrap(err, "setting up record store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("closing record store", err)
		}
	}()

	fileStore, err := files.New(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "setting up file store")
	}
	memoryFiles, _ := fileStore.(*files.MemoryStore)

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}

	bus, runBus, err := newBus(ctx, conf, logger)
	if err != nil {
		return errors.Wrap(err, "setting up event bus")
	}

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)

	usrSvc := user.NewService(store, mailSvc, validate, logger, conf)
	schoolSvc := school.NewService(store, validate)
	courseworkSvc := coursework.NewService(store, fileStore, bus, logger, validate)
	attendanceSvc := attendance.NewService(store, usrSvc, logger)
	notificationSvc := notification.NewService(store, logger)
	notification.NewFanout(store, usrSvc, logger).Register(bus)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// handlers are registered: start consuming
	go func() {
		if err := runBus(ctx); err != nil && errors.Cause(err) != context.Canceled {
			logger.Error(fmt.Sprintf("event consumer stopped: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	if conf.Server.DebugHost != "" {
		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()
	}

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(
		&echoapi.Options{
			Conf:            conf,
			Logger:          logger,
			Translator:      translator,
			UserSvc:         usrSvc,
			SchoolSvc:       schoolSvc,
			CourseworkSvc:   courseworkSvc,
			AttendanceSvc:   attendanceSvc,
			NotificationSvc: notificationSvc,
			MemoryFiles:     memoryFiles,
		},
		func() {
			select {
			case shutdown <- syscall.SIGTERM:
			default:
			}
		},
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err := <-serverErrors:
		return errors.Wrap(err, "server error")

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		stopCtx, stop := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer stop()

		if err := server.Stop(stopCtx); err != nil {
			return errors.Wrap(err, "could not stop server gracefully")
		}
	}
	return nil
}

// newBus returns the configured event bus and the func consuming it, which blocks until ctx is done.
func newBus(ctx context.Context, conf *core.Config, logger core.Logger) (event.Bus, func(context.Context) error, error) {
	switch conf.Events.Backend {
	case "", "local":
		return event.NewLocalBus(), func(context.Context) error { return nil }, nil
	case "redis":
		bus, err := queue.NewRedisBus(ctx, conf, logger)
		if err != nil {
			return nil, nil, err
		}
		run := func(ctx context.Context) error {
			defer func() { _ = bus.Close() }()
			return bus.Run(ctx)
		}
		return bus, run, nil
	default:
		return nil, nil, errors.Errorf("unknown events backend %q", conf.Events.Backend)
	}
}
