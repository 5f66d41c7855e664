package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	echoapi "github.com/sankofadev/ripoti/apps/api/echo"
	"github.com/sankofadev/ripoti/core"
	"github.com/sankofadev/ripoti/core/user"
	emailsvc "github.com/sankofadev/ripoti/services/email"
	logsvc "github.com/sankofadev/ripoti/services/logger"
	"github.com/sankofadev/ripoti/storage/database"
	sqlxrepos "github.com/sankofadev/ripoti/storage/database/sqlx"
)

func main() {
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(std, core.Conf)
	logger.Enable(!(core.Conf.Debug || core.Conf.TestMode))

	if err := run(logger); err != nil {
		logger.Fatal("server error", err)
	}
}

func run(logger core.Logger) error {
	// set up DB
	db, err := database.Open(core.Conf)
	if err != nil {
		return err
	}
	defer db.Close()

	if err = database.Migrate(db); err != nil {
		return err
	}

	// set up services
	var mailSvc core.EmailService
	if core.Conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}
	usrSvc := user.NewService(
		sqlxrepos.NewUserRepository(db),
		sqlxrepos.NewInviteRepository(db),
		mailSvc,
	)

	// the system account must exist before the first request comes in
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err = usrSvc.EnsureSuperAdmin(ctx); err != nil {
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	app := echoapi.NewServer(
		&echoapi.Options{
			Addr:     core.Conf.Server.Addr,
			Logger:   logger,
			UserSvc:  usrSvc,
			Shutdown: shutdown,
		},
	)

	serverErrs := make(chan error, 1)
	go func() { serverErrs <- app.Start() }()

	select {
	case err = <-serverErrs:
		return err
	case sig := <-shutdown:
		logger.Info("shutting down", sig)

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		return app.Stop(stopCtx)
	}
}
