package vfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/zerologadapter"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"io"
	"io/fs"
)

// Default queries, a table named assets with a name and a bytea data column.
const (
	DefaultPGOpen   = "SELECT data FROM assets WHERE name = $1"
	DefaultPGExists = "SELECT EXISTS(SELECT 1 FROM assets WHERE name = $1)"
)

type PGQueries struct {
	Open   string `yaml:"open"`
	Exists string `yaml:"exists"`
}

// type PGConf struct {{{

// Serves files stored in a PostgreSQL table.
type PGConf struct {
	Database string    `yaml:"database"`
	Queries  PGQueries `yaml:"queries"`
} // }}}

// type pgMount struct {{{

type pgMount struct {
	l  zerolog.Logger
	co PGConf
	db *pgxpool.Pool
} // }}}

// func NewPGMount {{{

// Connects to the database and prepares the queries on every connection.
func NewPGMount(ctx context.Context, co PGConf, l *zerolog.Logger) (Mount, error) {
	if co.Database == "" {
		return nil, errors.New("Missing database")
	}

	if co.Queries.Open == "" {
		co.Queries.Open = DefaultPGOpen
	}

	if co.Queries.Exists == "" {
		co.Queries.Exists = DefaultPGExists
	}

	pm := &pgMount{
		l:  l.With().Str("mod", "vfs").Str("mount", "pgsql").Logger(),
		co: co,
	}

	poolConf, err := pgxpool.ParseConfig(co.Database)
	if err != nil {
		return nil, err
	}

	cc := poolConf.ConnConfig
	cc.LogLevel = pgx.LogLevelInfo
	cc.Logger = zerologadapter.NewLogger(pm.l)

	poolConf.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Prepare(ctx, "vfs-open", co.Queries.Open); err != nil {
			return err
		}

		if _, err := conn.Prepare(ctx, "vfs-exists", co.Queries.Exists); err != nil {
			return err
		}

		return nil
	}

	if pm.db, err = pgxpool.ConnectConfig(ctx, poolConf); err != nil {
		return nil, err
	}

	return pm, nil
} // }}}

func (pm *pgMount) Name() string {
	return "pgsql:" + pm.db.Config().ConnConfig.Host + "/" + pm.db.Config().ConnConfig.Database
}

// func pgMount.Open {{{

// The whole row is read into memory, there is no streaming out of a bytea.
func (pm *pgMount) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var data []byte

	if err := pm.db.QueryRow(ctx, "vfs-open", name).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
		}

		pm.l.Err(err).Str("func", "Open").Str("file", name).Send()
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(data)), nil
} // }}}

// func pgMount.Exists {{{

func (pm *pgMount) Exists(ctx context.Context, name string) bool {
	var ok bool

	if err := pm.db.QueryRow(ctx, "vfs-exists", name).Scan(&ok); err != nil {
		pm.l.Err(err).Str("func", "Exists").Str("file", name).Send()
		return false
	}

	return ok
} // }}}

func (pm *pgMount) Close() error {
	// Close() blocks until every connection is returned, do not hold up a reload for it.
	go pm.db.Close()
	return nil
}
