//go:build !(cgo && sqlite3_cgo)

package db

// The default driver runs an embedded SQLite build on wazero and needs no cgo.
import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
