// Package cmd is the broker entry point.  It contains the on-disk
// configuration file utilities, signal processing logic, and so on.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/zonemaster/zmbroker/internal/zmb"
	"golang.org/x/sys/unix"
)

// Main is the entry point of the broker.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)

	envs := errors.Must(parseEnvironment())
	errors.Check(envs.Validate())

	baseLogger := errors.Must(envs.buildLogger())
	mainLogger := baseLogger.With(slogutil.KeyPrefix, "main")

	mainLogger.InfoContext(
		ctx,
		"zmbroker starting",
		"version", zmb.Version(),
		"revision", zmb.Revision(),
		"branch", zmb.Branch(),
	)

	errColl := errors.Must(envs.buildErrColl())

	conf := errors.Must(parseConfig(envs.ConfPath))
	errors.Check(conf.Validate())

	b := newBuilder(&builderConfig{
		envs:       envs,
		conf:       conf,
		baseLogger: baseLogger,
		errColl:    errColl,
	})

	errors.Check(b.initLanguage(ctx))

	errors.Check(b.initProfiles(ctx))

	errors.Check(b.initStore(ctx))

	errors.Check(b.initLookuper(ctx))

	errors.Check(b.initRPC(ctx))

	errors.Check(b.initDebugSvc(ctx))

	errors.Check(b.initReclaimer(ctx))

	errors.Check(b.startServices(ctx))

	mainLogger.InfoContext(ctx, "zmbroker started", "engine", conf.Engine)

	// Unregister the signal behavior for ctx so that shutdown is driven by
	// the handler below.
	stop()
	ctx = context.WithoutCancel(ctx)

	os.Exit(b.sigHdlr.handle(ctx))
}
