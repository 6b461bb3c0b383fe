package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/zonemaster/zmbroker/internal/debugsvc"
	"github.com/zonemaster/zmbroker/internal/errcoll"
	"github.com/zonemaster/zmbroker/internal/language"
	"github.com/zonemaster/zmbroker/internal/metrics"
	"github.com/zonemaster/zmbroker/internal/profiles"
	"github.com/zonemaster/zmbroker/internal/rpcsvc"
	"github.com/zonemaster/zmbroker/internal/store/sqlstore"
	"github.com/zonemaster/zmbroker/internal/translate"
	"github.com/zonemaster/zmbroker/internal/zmbvalidate"
	"github.com/zonemaster/zmbroker/internal/zonedata"
)

// rpcTimeout is the timeout of all RPC server operations.
const rpcTimeout = 60 * time.Second

// builderConfig contains the common dependencies of all builder steps.
type builderConfig struct {
	envs       *environment
	conf       *configuration
	baseLogger *slog.Logger
	errColl    errcoll.Interface
}

// builder contains the logic of configuring and combining the services of the
// broker.  Its fields are filled in by the init methods, roughly in the order
// they are declared.
type builder struct {
	envs       *environment
	conf       *configuration
	baseLogger *slog.Logger
	errColl    errcoll.Interface

	promRegistry *prometheus.Registry

	locales    *language.Locales
	profileReg *profiles.Registry
	translator *translate.Catalog
	validator  *zmbvalidate.Validator

	store    *sqlstore.Store
	lookuper *zonedata.Lookuper

	rpc   *rpcsvc.Service
	debug *debugsvc.Service

	reclaimer *reclaimer

	sigHdlr *signalHandler
}

// newBuilder returns a new properly initialized *builder.
func newBuilder(c *builderConfig) (b *builder) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &builder{
		envs:       c.envs,
		conf:       c.conf,
		baseLogger: c.baseLogger,
		errColl:    c.errColl,

		promRegistry: reg,

		sigHdlr: newSignalHandler(c.baseLogger.With(slogutil.KeyPrefix, "sighdlr")),
	}
}

// initLanguage initializes the locale set and the message catalog.
func (b *builder) initLanguage(_ context.Context) (err error) {
	b.locales, err = language.New(b.conf.LocaleList)
	if err != nil {
		return fmt.Errorf("parsing locale list: %w", err)
	}

	b.translator, err = translate.NewCatalog(b.envs.LocaleDir, b.locales.Tags())
	if err != nil {
		return fmt.Errorf("loading message catalogs: %w", err)
	}

	return nil
}

// initProfiles initializes the profile registry and the validator.
func (b *builder) initProfiles(_ context.Context) (err error) {
	b.profileReg, err = profiles.New(b.conf.PublicProfiles, b.conf.PrivateProfiles)
	if err != nil {
		return fmt.Errorf("building profile registry: %w", err)
	}

	b.validator = zmbvalidate.New(&zmbvalidate.Config{
		Profiles:   b.profileReg,
		Locales:    b.locales,
		Translator: b.translator,
	})

	return nil
}

// initStore opens the job store and applies pending schema migrations.
func (b *builder) initStore(ctx context.Context) (err error) {
	storeMtrc, err := metrics.NewStore(metrics.Namespace, b.promRegistry)
	if err != nil {
		return fmt.Errorf("registering store metrics: %w", err)
	}

	b.store, err = sqlstore.New(ctx, &sqlstore.Config{
		Logger:  b.baseLogger.With(slogutil.KeyPrefix, "sqlstore"),
		Metrics: storeMtrc,
		Engine:  b.conf.Engine,
		DSN:     b.conf.DSN,
	})
	if err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	return nil
}

// initLookuper initializes the DNS lookuper of the data-prefill methods.
func (b *builder) initLookuper(_ context.Context) (err error) {
	b.lookuper, err = zonedata.New(&zonedata.Config{
		Logger:    b.baseLogger.With(slogutil.KeyPrefix, "zonedata"),
		ErrColl:   b.errColl,
		Upstreams: b.envs.Resolvers,
	})
	if err != nil {
		return fmt.Errorf("initializing lookuper: %w", err)
	}

	return nil
}

// initRPC initializes the JSON-RPC service.
func (b *builder) initRPC(_ context.Context) (err error) {
	rpcMtrc, err := metrics.NewRPCSvc(metrics.Namespace, b.promRegistry)
	if err != nil {
		return fmt.Errorf("registering rpc metrics: %w", err)
	}

	addr, err := netip.ParseAddr(b.envs.ListenAddr)
	if err != nil {
		return fmt.Errorf("env LISTEN_ADDR: %w", err)
	}

	b.rpc = rpcsvc.New(&rpcsvc.Config{
		Logger:     b.baseLogger.With(slogutil.KeyPrefix, "rpcsvc"),
		ErrColl:    b.errColl,
		Metrics:    rpcMtrc,
		Validator:  b.validator,
		Store:      b.store,
		Lookuper:   b.lookuper,
		Translator: b.translator,
		Locales:    b.locales,
		Profiles:   b.profileReg,

		ListenAddr: netip.AddrPortFrom(addr, b.envs.ListenPort),
		LockQueue:  b.conf.LockQueue,

		ReuseWindow: b.conf.ReuseWindow,
		Timeout:     rpcTimeout,

		EnableAddAPIUser:  b.conf.EnableAddAPIUser,
		EnableAddBatchJob: b.conf.EnableAddBatchJob,
	})

	return nil
}

// initDebugSvc initializes the debug HTTP API, when one is configured.
func (b *builder) initDebugSvc(_ context.Context) (err error) {
	if b.envs.DebugAddr == "" {
		return nil
	}

	b.debug = debugsvc.New(&debugsvc.Config{
		Logger:   b.baseLogger.With(slogutil.KeyPrefix, "debugsvc"),
		Registry: b.promRegistry,
		Addr:     b.envs.DebugAddr,
	})

	return nil
}

// initReclaimer initializes the stale-test reclaimer, when one is configured.
func (b *builder) initReclaimer(_ context.Context) (err error) {
	if b.conf.ReclaimStaleAfter == 0 {
		return nil
	}

	b.reclaimer = newReclaimer(&reclaimerConfig{
		logger:    b.baseLogger.With(slogutil.KeyPrefix, "reclaimer"),
		errColl:   b.errColl,
		store:     b.store,
		olderThan: b.conf.ReclaimStaleAfter,
	})

	return nil
}

// startServices starts the long-running services and registers them with the
// signal handler, in shutdown order.
func (b *builder) startServices(ctx context.Context) (err error) {
	err = b.rpc.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting rpc service: %w", err)
	}

	b.sigHdlr.add(b.rpc)

	if b.debug != nil {
		err = b.debug.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting debug api: %w", err)
		}

		b.sigHdlr.add(b.debug)
	}

	if b.reclaimer != nil {
		b.reclaimer.start()
		b.sigHdlr.add(b.reclaimer)
	}

	b.sigHdlr.addClose(b.store)

	return nil
}
