package mapidb

import "time"

// Options configures a Pool/DB. Field defaults match the wire-protocol
// table: unset zero values are replaced by DefaultOptions()'s values by
// Open.
type Options struct {
	// Host is the TCP host to connect to. Default "127.0.0.1".
	Host string

	// Port is the TCP port to connect to. Default 50000.
	Port int

	// Database is the database name to authenticate against. Default
	// "monetdb".
	Database string

	// Username and Password are the login credentials. Default
	// "monetdb"/"monetdb".
	Username string
	Password string

	// PoolSize is the number of Connection workers the Pool maintains.
	// Default 10.
	PoolSize int

	// ConnectTimeout bounds the initial TCP dial. Default 10s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds every Framer.Receive call. Default 10s.
	ReadTimeout time.Duration

	// SendTimeout bounds every Framer.Send call. Default 10s.
	SendTimeout time.Duration

	// Schema, if set, is applied with "set schema <name>" after connect.
	Schema string

	// Role, if set, is applied with "set role <name>" after connect.
	Role string

	// TimeZoneOffsetMinutes is sent as "set time zone interval" at
	// connect time. Default 0 (UTC).
	TimeZoneOffsetMinutes int

	// Name is a label for this pool. Default "default". The Pool's
	// prepared-statement cache belongs to the Pool value itself and is not
	// keyed by Name.
	Name string

	// Logger receives structured logs from every core component. If nil,
	// Open installs a noop logger.
	Logger Logger

	// LogLevel is a level name, default "INFO". It is not applied to
	// Logger: a Logger's minimum level is fixed when it is built (see
	// NewLogger).
	LogLevel string

	// DebugMode enables raw wire tracing of framed messages at Debug
	// level.
	DebugMode bool

	// HealthCheckInterval, if non-zero, makes the Pool periodically ping
	// idle Live workers and demote failures to Dead. Zero disables
	// health checking. Default 0.
	HealthCheckInterval time.Duration

	// TransactionTimeout bounds how long a Transaction may remain open
	// before the Pool's abandoned-transaction monitor force-closes its
	// Connection. Zero means unset and is replaced by the 5 minute
	// default; set DisableTransactionTimeout to turn the monitor off
	// entirely.
	TransactionTimeout time.Duration

	// OnConnected, OnDisconnected, OnReconnecting observe the DB
	// façade's aggregate StateMachine transitions.
	OnConnected    StateChangeHandler
	OnDisconnected StateChangeHandler
	OnReconnecting StateChangeHandler
}

// DisableTransactionTimeout is a sentinel for Options.TransactionTimeout:
// assign it to explicitly turn off the abandoned-transaction monitor,
// since the zero value there means "unset" and is replaced by the
// default.
const DisableTransactionTimeout time.Duration = -1

// DefaultOptions returns Options populated with the wire-protocol table's
// defaults.
func DefaultOptions() Options {
	return Options{
		Host:                  "127.0.0.1",
		Port:                  50000,
		Database:              "monetdb",
		Username:              "monetdb",
		Password:              "monetdb",
		PoolSize:              10,
		ConnectTimeout:        10 * time.Second,
		ReadTimeout:           10 * time.Second,
		SendTimeout:           10 * time.Second,
		TimeZoneOffsetMinutes: 0,
		Name:                  "default",
		LogLevel:              "INFO",
		TransactionTimeout:    5 * time.Minute,
	}
}

// withDefaults fills any zero-valued field in o with DefaultOptions'
// value, without disturbing fields the caller explicitly set.
func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.Host == "" {
		o.Host = d.Host
	}
	if o.Port == 0 {
		o.Port = d.Port
	}
	if o.Database == "" {
		o.Database = d.Database
	}
	if o.Username == "" {
		o.Username = d.Username
	}
	if o.Password == "" {
		o.Password = d.Password
	}
	if o.PoolSize == 0 {
		o.PoolSize = d.PoolSize
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = d.SendTimeout
	}
	if o.Name == "" {
		o.Name = d.Name
	}
	if o.LogLevel == "" {
		o.LogLevel = d.LogLevel
	}
	if o.TransactionTimeout == 0 {
		o.TransactionTimeout = d.TransactionTimeout
	} else if o.TransactionTimeout == DisableTransactionTimeout {
		o.TransactionTimeout = 0
	}
	if o.Logger == nil {
		o.Logger = NewNoopLogger()
	}
	return o
}
