package gormsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"runtime"
	"time"

	"go.uber.org/zap"
	gormdriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// DB holds a pool of read-only connections and a single writer, so writes
// are serialized in-process instead of contending on SQLITE_BUSY.
type DB struct {
	R *gorm.DB
	W *gorm.DB
}

type Tx struct {
	*gorm.DB
}

type cbfn func(tx *Tx) error

func (db *DB) ReadTX(ctx context.Context, fn cbfn) error {
	return db.R.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	}, &sql.TxOptions{ReadOnly: true})
}

func (db *DB) WriteTX(ctx context.Context, fn cbfn) error {
	return db.W.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Tx{DB: tx})
	})
}

func (db *DB) WriteSQLDB() (*sql.DB, error) {
	return db.W.DB()
}

func (db *DB) Close() error {
	var firstErr error
	for _, g := range []*gorm.DB{db.R, db.W} {
		if err := closeGORM(g); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ io.Closer = (*DB)(nil)

// Options tunes Open. The zero value is usable.
type Options struct {
	// Logger receives slow queries and errors. Nil keeps gorm silent.
	Logger        *zap.Logger
	SlowThreshold time.Duration
	BusyTimeout   time.Duration
	ReadConns     int
}

// pragmas are applied by the driver on every new connection.
var pragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"cache_size(-20000)",
	"foreign_keys(1)",
	"trusted_schema(OFF)",
}

func buildDSN(file string, readOnly bool, busyTimeout time.Duration) string {
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	if readOnly {
		q.Add("_pragma", "query_only(1)")
	} else {
		q.Add("_pragma", "query_only(0)")
		q.Set("_txlock", "immediate")
	}
	// modernc expects the pragma values unescaped.
	dsn, _ := url.QueryUnescape(q.Encode())
	return file + "?" + dsn
}

func gormLogger(opts Options) logger.Interface {
	if opts.Logger == nil {
		return logger.Discard
	}
	return logger.New(
		zap.NewStdLog(opts.Logger.Named("gorm")),
		logger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
			Colorful:                  false,
		},
	)
}

func openHandle(file string, readOnly bool, opts Options) (*gorm.DB, error) {
	g, err := gorm.Open(gormdriver.Dialector{DriverName: "sqlite", DSN: buildDSN(file, readOnly, opts.BusyTimeout)}, &gorm.Config{
		PrepareStmt: true,
		Logger:      gormLogger(opts),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		_ = closeGORM(g)
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)
	if readOnly {
		sqlDB.SetMaxOpenConns(opts.ReadConns)
		sqlDB.SetMaxIdleConns(opts.ReadConns)
	} else {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	return g, nil
}

func Open(file string, opts Options) (*DB, error) {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = time.Second
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	if opts.ReadConns <= 0 {
		opts.ReadConns = runtime.NumCPU()
	}

	// The writer goes first so the WAL switch happens on a writable handle.
	writer, err := openHandle(file, false, opts)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	reader, err := openHandle(file, true, opts)
	if err != nil {
		_ = closeGORM(writer)
		return nil, fmt.Errorf("open read db: %w", err)
	}
	return &DB{R: reader, W: writer}, nil
}

// Ping checks both pools.
func (db *DB) Ping(ctx context.Context) error {
	for name, g := range map[string]*gorm.DB{"reader": db.R, "writer": db.W} {
		sqlDB, err := g.DB()
		if err != nil {
			return fmt.Errorf("%s sql db: %w", name, err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", name, err)
		}
	}
	return nil
}

func closeGORM(g *gorm.DB) error {
	if g == nil {
		return nil
	}
	sqlDB, err := g.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
