// Package storage builds kv.Store backends from short location strings such as
// "file:./data/ls.json" or "redis://localhost:6379/0".
package storage

import (
	"context"
	"strings"

	apperrors "github.com/jrsteele09/sider-auth/internal/errors"
	"github.com/jrsteele09/sider-auth/kv"
	"github.com/jrsteele09/sider-auth/kv/filestore"
	"github.com/jrsteele09/sider-auth/kv/keyringstore"
	"github.com/jrsteele09/sider-auth/kv/memstore"
	"github.com/jrsteele09/sider-auth/kv/redisstore"
	"github.com/jrsteele09/sider-auth/kv/sqlitestore"
)

// Open returns the backend described by location.
//
//	memory:             in-process map
//	file:<path>         JSON file
//	sqlite:<path>       SQLite database
//	redis://host:port/n Redis hash
//	keyring[:service]   OS keychain
func Open(ctx context.Context, location string) (kv.Store, error) {
	location = strings.TrimSpace(location)
	scheme, rest, _ := strings.Cut(location, ":")

	switch strings.ToLower(scheme) {
	case "memory", "mem":
		return memstore.New(), nil
	case "file":
		return filestore.New(rest)
	case "sqlite":
		return sqlitestore.Open(rest)
	case "redis", "rediss":
		opts, err := redisstore.OptionsFromURL(location)
		if err != nil {
			return nil, err
		}
		return redisstore.New(ctx, opts)
	case "keyring":
		return keyringstore.New(rest), nil
	}
	return nil, apperrors.Wrapf(apperrors.ErrUnsupported, "storage location %q", location)
}
