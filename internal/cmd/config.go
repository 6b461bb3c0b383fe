package cmd

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Defaults of the INI configuration.
const (
	defaultReuseWindow = 600 * time.Second

	defaultDBHost = "localhost"
	defaultDBName = "zonemaster"
	defaultDBUser = "zonemaster"

	defaultSQLitePath = "/var/lib/zonemaster/db.sqlite"

	defaultLocaleList = "en_US.UTF-8"
)

// configuration is the parsed INI configuration of the broker.
type configuration struct {
	// LockQueue, when non-nil, is the queue tag this instance pins created
	// tests to.
	LockQueue *int

	// Engine is the store backend name.
	Engine string

	// DSN is the data source name built from the DB section.
	DSN string

	// LocaleList is the space-separated list of supported locales.
	LocaleList string

	// PublicProfiles and PrivateProfiles map profile names to profile file
	// paths.
	PublicProfiles  map[string]string
	PrivateProfiles map[string]string

	// ReuseWindow is the age within which a finished test is reused.
	ReuseWindow time.Duration

	// ReclaimStaleAfter is the age after which a claimed test that made no
	// progress is handed out again.  Zero disables reclaiming.
	ReclaimStaleAfter time.Duration

	// EnableAddAPIUser and EnableAddBatchJob expose the corresponding RPC
	// methods.
	EnableAddAPIUser  bool
	EnableAddBatchJob bool
}

// parseConfig reads and parses the INI configuration file at path.
func parseConfig(path string) (c *configuration, err error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	c = &configuration{
		PublicProfiles:  map[string]string{},
		PrivateProfiles: map[string]string{},
	}

	db := f.Section("DB")
	c.Engine = strings.ToLower(db.Key("engine").MustString("sqlite"))
	switch c.Engine {
	case "sqlite", "postgresql", "mysql":
		// Known engine.
	default:
		return nil, fmt.Errorf("DB.engine: unknown engine %q", c.Engine)
	}
	c.DSN = buildDSN(c.Engine, db)

	zm := f.Section("ZONEMASTER")
	c.ReuseWindow = time.Duration(
		zm.Key("age_reuse_previous_test").MustInt(int(defaultReuseWindow.Seconds())),
	) * time.Second
	c.ReclaimStaleAfter = time.Duration(
		zm.Key("reclaim_stale_test_after").MustInt(0),
	) * time.Second

	if zm.HasKey("lock_on_queue") {
		q := zm.Key("lock_on_queue").MustInt(0)
		c.LockQueue = &q
	}

	rpc := f.Section("RPCAPI")
	c.EnableAddAPIUser = rpc.Key("enable_add_api_user").MustBool(false)
	c.EnableAddBatchJob = rpc.Key("enable_add_batch_job").MustBool(true)

	c.LocaleList = f.Section("LANGUAGE").Key("locale").MustString(defaultLocaleList)

	for _, k := range f.Section("PUBLIC_PROFILES").Keys() {
		c.PublicProfiles[k.Name()] = k.String()
	}

	for _, k := range f.Section("PRIVATE_PROFILES").Keys() {
		c.PrivateProfiles[k.Name()] = k.String()
	}

	return c, nil
}

// Validate returns an error if the configuration is invalid.
func (c *configuration) Validate() (err error) {
	if c.ReuseWindow < 0 {
		return fmt.Errorf("ZONEMASTER.age_reuse_previous_test: must not be negative")
	}

	if c.ReclaimStaleAfter < 0 {
		return fmt.Errorf("ZONEMASTER.reclaim_stale_test_after: must not be negative")
	}

	if c.LockQueue != nil && *c.LockQueue < 0 {
		return fmt.Errorf("ZONEMASTER.lock_on_queue: must not be negative")
	}

	return nil
}

// buildDSN assembles the driver data source name from the DB section.
func buildDSN(engine string, db *ini.Section) (dsn string) {
	name := db.Key("database_name").MustString(defaultDBName)
	user := db.Key("user").MustString(defaultDBUser)
	password := db.Key("password").String()
	host := db.Key("database_host").MustString(defaultDBHost)

	switch engine {
	case "sqlite":
		return db.Key("database_name").MustString(defaultSQLitePath)
	case "postgresql":
		port := db.Key("database_port").MustInt(5432)
		u := &url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(user, password),
			Host:   fmt.Sprintf("%s:%d", host, port),
			Path:   "/" + name,
		}

		return u.String()
	case "mysql":
		port := db.Key("database_port").MustInt(3306)

		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", user, password, host, port, name)
	default:
		// Already validated by the engine key lookup.
		return ""
	}
}
