// Package rpcsvc contains the JSON-RPC service of the broker: the HTTP
// listener, the method dispatch, and the handlers of all public methods.
package rpcsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/zonemaster/zmbroker/internal/errcoll"
	"github.com/zonemaster/zmbroker/internal/language"
	"github.com/zonemaster/zmbroker/internal/metrics"
	"github.com/zonemaster/zmbroker/internal/profiles"
	"github.com/zonemaster/zmbroker/internal/store"
	"github.com/zonemaster/zmbroker/internal/translate"
	"github.com/zonemaster/zmbroker/internal/zmbvalidate"
	"github.com/zonemaster/zmbroker/internal/zonedata"
)

// maxReqBodySize bounds the request body of one RPC call.
const maxReqBodySize = 5 * 1024 * 1024

// Lookuper performs the DNS lookups of the data-prefill methods.
//
// See [zonedata.Lookuper].
type Lookuper interface {
	HostByName(ctx context.Context, hostname string) (addrs []string, err error)
	ParentZoneData(ctx context.Context, domain string) (zd *zonedata.ZoneData, err error)
}

// Config is the RPC service configuration.
type Config struct {
	// Logger is used to log the operation of the service.  It must not be
	// nil.
	Logger *slog.Logger

	// ErrColl collects internal errors.  It must not be nil.
	ErrColl errcoll.Interface

	// Metrics records per-method request metrics.  It must not be nil.
	Metrics *metrics.RPCSvc

	// Validator checks and normalizes method parameters.  It must not be nil.
	Validator *zmbvalidate.Validator

	// Store is the job store.  It must not be nil.
	Store store.Interface

	// Lookuper serves get_host_by_name and get_data_from_parent_zone.  It
	// must not be nil.
	Lookuper Lookuper

	// Translator renders result messages.  It must not be nil.
	Translator translate.Interface

	// Locales is the set of supported languages.  It must not be nil.
	Locales *language.Locales

	// Profiles is the registry of engine profiles.  It must not be nil.
	Profiles *profiles.Registry

	// ListenAddr is the address the HTTP listener binds to.
	ListenAddr netip.AddrPort

	// LockQueue, when non-nil, pins every created test to that queue tag,
	// overriding the queue parameter of submissions.
	LockQueue *int

	// ReuseWindow is the age within which a finished test with the same
	// fingerprint is returned instead of creating a new one.
	ReuseWindow time.Duration

	// Timeout is the timeout of all HTTP server operations.
	Timeout time.Duration

	// EnableAddAPIUser exposes the add_api_user method.
	EnableAddAPIUser bool

	// EnableAddBatchJob exposes the add_batch_job method.
	EnableAddBatchJob bool
}

// Service is the JSON-RPC service of the broker.
type Service struct {
	logger  *slog.Logger
	errColl errcoll.Interface
	metrics *metrics.RPCSvc

	validator  *zmbvalidate.Validator
	store      store.Interface
	lookuper   Lookuper
	translator translate.Interface
	locales    *language.Locales
	profiles   *profiles.Registry

	srv *http.Server

	methods map[string]methodFunc

	lockQueue *int

	reuseWindow time.Duration

	enableAddAPIUser  bool
	enableAddBatchJob bool
}

// methodFunc handles one RPC method.  A returned *rpcError is sent as the
// error object; any other error is mapped by [errorToRPC].
type methodFunc func(ctx context.Context, ci *callInfo) (result any, err error)

// callInfo carries the per-call data a handler may need.
type callInfo struct {
	// params is the raw parameter object of the call.
	params json.RawMessage

	// remoteIP is the address of the calling client.
	remoteIP netip.Addr
}

// New returns a new properly initialized *Service.
func New(c *Config) (svc *Service) {
	svc = &Service{
		logger:  c.Logger,
		errColl: c.ErrColl,
		metrics: c.Metrics,

		validator:  c.Validator,
		store:      c.Store,
		lookuper:   c.Lookuper,
		translator: c.Translator,
		locales:    c.Locales,
		profiles:   c.Profiles,

		lockQueue: c.LockQueue,

		reuseWindow: c.ReuseWindow,

		enableAddAPIUser:  c.EnableAddAPIUser,
		enableAddBatchJob: c.EnableAddBatchJob,
	}

	svc.methods = map[string]methodFunc{
		"version_info":              svc.versionInfo,
		"profile_names":             svc.profileNames,
		"get_language_tags":         svc.getLanguageTags,
		"get_host_by_name":          svc.getHostByName,
		"get_data_from_parent_zone": svc.getDataFromParentZone,
		"start_domain_test":         svc.startDomainTest,
		"test_progress":             svc.testProgress,
		"get_test_params":           svc.getTestParams,
		"get_test_results":          svc.getTestResults,
		"get_test_history":          svc.getTestHistory,
		"add_api_user":              svc.addAPIUser,
		"add_batch_job":             svc.addBatchJob,
		"get_batch_job_result":      svc.getBatchJobResult,
	}

	svc.srv = &http.Server{
		Addr:              c.ListenAddr.String(),
		Handler:           svc,
		ReadTimeout:       c.Timeout,
		WriteTimeout:      c.Timeout,
		IdleTimeout:       c.Timeout,
		ReadHeaderTimeout: c.Timeout,
	}

	return svc
}

// Start starts the HTTP listener.  It does not wait for the listener to
// actually go online.
func (svc *Service) Start(ctx context.Context) (err error) {
	go func() {
		srvErr := svc.srv.ListenAndServe()
		if srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			panic(srvErr)
		}
	}()

	svc.logger.InfoContext(ctx, "server is started", "addr", svc.srv.Addr)

	return nil
}

// Shutdown gracefully shuts the HTTP listener down.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	err = svc.srv.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutting down rpc server: %w", err)
	}

	svc.logger.InfoContext(ctx, "server is shutdown", "addr", svc.srv.Addr)

	return nil
}

// type check
var _ http.Handler = (*Service)(nil)

// ServeHTTP implements the [http.Handler] interface for *Service.
func (svc *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)

		return
	}

	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxReqBodySize))
	if err != nil {
		svc.writeError(ctx, w, nil, &rpcError{
			Code:    codeParseError,
			Message: msgParseError,
		})

		return
	}

	req := &request{}
	err = json.Unmarshal(body, req)
	if err != nil {
		svc.writeError(ctx, w, nil, &rpcError{
			Code:    codeParseError,
			Message: msgParseError,
		})

		return
	}

	svc.dispatch(ctx, w, r, req)
}

// dispatch routes one parsed request to its method handler and writes the
// response.
func (svc *Service) dispatch(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	req *request,
) {
	start := time.Now()

	h, ok := svc.methods[req.Method]
	if !ok || !svc.methodEnabled(req.Method) {
		svc.metrics.ObserveRequest(req.Method, "not_found", time.Since(start))
		svc.writeError(ctx, w, req.ID, &rpcError{
			Code:    codeMethodNotFound,
			Message: msgMethodNotFound,
		})

		return
	}

	ci := &callInfo{
		params:   req.Params,
		remoteIP: remoteIP(r),
	}

	if req.Method == "add_api_user" && !isLoopback(ci.remoteIP) {
		svc.metrics.ObserveRequest(req.Method, "denied", time.Since(start))
		svc.writeError(ctx, w, req.ID, &rpcError{
			Code:    codeInternalError,
			Message: msgDenied,
			Data: map[string]any{
				"remote_ip": ci.remoteIP.String(),
			},
		})

		return
	}

	result, err := h(ctx, ci)
	if err != nil {
		svc.respondError(ctx, w, req, err, start)

		return
	}

	svc.metrics.ObserveRequest(req.Method, "ok", time.Since(start))
	svc.writeJSON(ctx, w, &resultResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	})
}

// respondError writes the error response for a failed method call, collecting
// internal errors along the way.
func (svc *Service) respondError(
	ctx context.Context,
	w http.ResponseWriter,
	req *request,
	err error,
	start time.Time,
) {
	var rerr *rpcError
	if errors.As(err, &rerr) {
		svc.metrics.ObserveRequest(req.Method, "invalid_params", time.Since(start))
		svc.writeError(ctx, w, req.ID, rerr)

		return
	}

	rerr, isUser := errorToRPC(err)
	if isUser {
		svc.metrics.ObserveRequest(req.Method, "user_error", time.Since(start))
		svc.logger.DebugContext(ctx, "user error", "method", req.Method, slogutil.KeyError, err)
	} else {
		svc.metrics.ObserveRequest(req.Method, "internal_error", time.Since(start))
		errcoll.Collect(ctx, svc.errColl, svc.logger, "handling "+req.Method, err)
	}

	svc.writeError(ctx, w, req.ID, rerr)
}

// methodEnabled reports whether method is exposed by the configuration.
func (svc *Service) methodEnabled(method string) (ok bool) {
	switch method {
	case "add_api_user":
		return svc.enableAddAPIUser
	case "add_batch_job":
		return svc.enableAddBatchJob
	default:
		return true
	}
}

// writeError writes one JSON-RPC error response.
func (svc *Service) writeError(
	ctx context.Context,
	w http.ResponseWriter,
	id json.RawMessage,
	rerr *rpcError,
) {
	svc.writeJSON(ctx, w, &errorResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   rerr,
	})
}

// writeJSON writes resp as the HTTP response body.
func (svc *Service) writeJSON(ctx context.Context, w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		svc.logger.DebugContext(ctx, "writing response", slogutil.KeyError, err)
	}
}

// effectiveQueue returns the queue tag a created test ends up on: the locked
// queue of this instance when one is configured, and the submitted one
// otherwise.
func (svc *Service) effectiveQueue(submitted int) (queue int) {
	if svc.lockQueue != nil {
		return *svc.lockQueue
	}

	return submitted
}

// invalidParams converts validation problems into the wire error object.
func invalidParams(probs []*zmbvalidate.Problem) (rerr *rpcError) {
	return &rpcError{
		Code:    codeInvalidParams,
		Message: msgInvalidParams,
		Data:    probs,
	}
}

// remoteIP parses the client address of r.  An unparsable address yields the
// zero [netip.Addr], which is never loopback.
func remoteIP(r *http.Request) (ip netip.Addr) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	ip, err = netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}

	return ip
}

// isLoopback reports whether ip is a loopback address, including the
// IPv4-mapped form.
func isLoopback(ip netip.Addr) (ok bool) {
	return ip.Unmap().IsLoopback()
}
