// Package zmbtest contains simple mocks for common interfaces and other test
// utilities of the broker.
package zmbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zonemaster/zmbroker/internal/errcoll"
	"github.com/zonemaster/zmbroker/internal/language"
	"github.com/zonemaster/zmbroker/internal/profiles"
	"github.com/zonemaster/zmbroker/internal/store"
	"github.com/zonemaster/zmbroker/internal/translate"
	"github.com/zonemaster/zmbroker/internal/zmb"
	"github.com/zonemaster/zmbroker/internal/zmbvalidate"
	"github.com/zonemaster/zmbroker/internal/zonedata"
)

// Timeout is the common timeout for tests.
const Timeout = 1 * time.Second

// LocaleList is the common configured locale list for tests.
const LocaleList = "en_US.UTF-8 sv_SE.UTF-8 nb_NO.UTF-8"

// NewLocales returns a standard locale set for tests.
func NewLocales(tb testing.TB) (l *language.Locales) {
	tb.Helper()

	l, err := language.New(LocaleList)
	require.NoError(tb, err)

	return l
}

// NewProfiles returns a standard profile registry for tests.  It contains
// only the default profile.
func NewProfiles(tb testing.TB) (r *profiles.Registry) {
	tb.Helper()

	r, err := profiles.New(nil, nil)
	require.NoError(tb, err)

	return r
}

// NewValidator returns a standard validator for tests, using [NewLocales],
// [NewProfiles], and a source-form translator.
func NewValidator(tb testing.TB) (v *zmbvalidate.Validator) {
	tb.Helper()

	return zmbvalidate.New(&zmbvalidate.Config{
		Profiles:   NewProfiles(tb),
		Locales:    NewLocales(tb),
		Translator: &Translator{
			OnEntry: func(ent *zmb.ResultEntry, _ string) (msg string) {
				return ent.Module + ":" + ent.Tag
			},
			OnMessage: func(msgid, _ string) (msg string) { return msgid },
		},
	})
}

// NewParams returns common normalized test params for tests.
func NewParams(domain string) (p *zmb.TestParams) {
	return &zmb.TestParams{
		Domain:  domain,
		Profile: profiles.Default,
	}
}

// Interface Mocks
//
// Keep entities within a module/package in alphabetic order.

// type check
var _ errcoll.Interface = (*ErrorCollector)(nil)

// ErrorCollector is an [errcoll.Interface] for tests.
type ErrorCollector struct {
	OnCollect func(ctx context.Context, err error)
}

// NewErrorCollector returns a new *ErrorCollector with a no-op OnCollect.
func NewErrorCollector() (c *ErrorCollector) {
	return &ErrorCollector{
		OnCollect: func(_ context.Context, _ error) {},
	}
}

// Collect implements the [errcoll.Interface] interface for *ErrorCollector.
func (c *ErrorCollector) Collect(ctx context.Context, err error) {
	c.OnCollect(ctx, err)
}

// Lookuper is a mock of the DNS lookuper of the RPC service for tests.
type Lookuper struct {
	OnHostByName     func(ctx context.Context, hostname string) (addrs []string, err error)
	OnParentZoneData func(ctx context.Context, domain string) (zd *zonedata.ZoneData, err error)
}

// HostByName implements the rpcsvc.Lookuper interface for *Lookuper.
func (l *Lookuper) HostByName(ctx context.Context, hostname string) (addrs []string, err error) {
	return l.OnHostByName(ctx, hostname)
}

// ParentZoneData implements the rpcsvc.Lookuper interface for *Lookuper.
func (l *Lookuper) ParentZoneData(
	ctx context.Context,
	domain string,
) (zd *zonedata.ZoneData, err error) {
	return l.OnParentZoneData(ctx, domain)
}

// type check
var _ store.Interface = (*Store)(nil)

// Store is a [store.Interface] for tests.
type Store struct {
	OnCreateTest   func(ctx context.Context, req *store.CreateTestRequest) (id zmb.TestID, err error)
	OnClaimNext    func(ctx context.Context, queue, maxRunning int) (id zmb.TestID, ok bool, err error)
	OnSetProgress  func(ctx context.Context, id zmb.TestID, progress int) (err error)
	OnStoreResults func(ctx context.Context, id zmb.TestID, entries []*zmb.ResultEntry) (err error)
	OnReadTest     func(ctx context.Context, id zmb.TestID) (t *zmb.Test, err error)
	OnHistory      func(ctx context.Context, req *store.HistoryRequest) (entries []*zmb.HistoryEntry, err error)
	OnCreateBatch  func(ctx context.Context, req *store.CreateBatchRequest) (batchID uint64, err error)
	OnBatchStatus  func(ctx context.Context, batchID uint64) (st *zmb.BatchStatus, err error)
	OnAddUser      func(ctx context.Context, u *zmb.User) (added int, err error)
	OnVerifyUser   func(ctx context.Context, username, apiKey string) (ok bool, err error)
	OnReclaimStale func(ctx context.Context, olderThan time.Duration) (n int, err error)
}

// CreateTest implements the [store.Interface] interface for *Store.
func (s *Store) CreateTest(
	ctx context.Context,
	req *store.CreateTestRequest,
) (id zmb.TestID, err error) {
	return s.OnCreateTest(ctx, req)
}

// ClaimNext implements the [store.Interface] interface for *Store.
func (s *Store) ClaimNext(
	ctx context.Context,
	queue int,
	maxRunning int,
) (id zmb.TestID, ok bool, err error) {
	return s.OnClaimNext(ctx, queue, maxRunning)
}

// SetProgress implements the [store.Interface] interface for *Store.
func (s *Store) SetProgress(ctx context.Context, id zmb.TestID, progress int) (err error) {
	return s.OnSetProgress(ctx, id, progress)
}

// StoreResults implements the [store.Interface] interface for *Store.
func (s *Store) StoreResults(
	ctx context.Context,
	id zmb.TestID,
	entries []*zmb.ResultEntry,
) (err error) {
	return s.OnStoreResults(ctx, id, entries)
}

// ReadTest implements the [store.Interface] interface for *Store.
func (s *Store) ReadTest(ctx context.Context, id zmb.TestID) (t *zmb.Test, err error) {
	return s.OnReadTest(ctx, id)
}

// History implements the [store.Interface] interface for *Store.
func (s *Store) History(
	ctx context.Context,
	req *store.HistoryRequest,
) (entries []*zmb.HistoryEntry, err error) {
	return s.OnHistory(ctx, req)
}

// CreateBatch implements the [store.Interface] interface for *Store.
func (s *Store) CreateBatch(
	ctx context.Context,
	req *store.CreateBatchRequest,
) (batchID uint64, err error) {
	return s.OnCreateBatch(ctx, req)
}

// BatchStatus implements the [store.Interface] interface for *Store.
func (s *Store) BatchStatus(ctx context.Context, batchID uint64) (st *zmb.BatchStatus, err error) {
	return s.OnBatchStatus(ctx, batchID)
}

// AddUser implements the [store.Interface] interface for *Store.
func (s *Store) AddUser(ctx context.Context, u *zmb.User) (added int, err error) {
	return s.OnAddUser(ctx, u)
}

// VerifyUser implements the [store.Interface] interface for *Store.
func (s *Store) VerifyUser(ctx context.Context, username, apiKey string) (ok bool, err error) {
	return s.OnVerifyUser(ctx, username, apiKey)
}

// ReclaimStale implements the [store.Interface] interface for *Store.
func (s *Store) ReclaimStale(
	ctx context.Context,
	olderThan time.Duration,
) (n int, err error) {
	return s.OnReclaimStale(ctx, olderThan)
}

// type check
var _ translate.Interface = (*Translator)(nil)

// Translator is a [translate.Interface] for tests.
type Translator struct {
	OnEntry   func(ent *zmb.ResultEntry, locale string) (msg string)
	OnMessage func(msgid, locale string) (msg string)
}

// Entry implements the [translate.Interface] interface for *Translator.
func (t *Translator) Entry(ent *zmb.ResultEntry, locale string) (msg string) {
	return t.OnEntry(ent, locale)
}

// Message implements the [translate.Interface] interface for *Translator.
func (t *Translator) Message(msgid, locale string) (msg string) {
	return t.OnMessage(msgid, locale)
}
