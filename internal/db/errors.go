package db

import "errors"

var (
	// ErrKeyNotFound is returned by Get and HGetAll for an absent key.
	ErrKeyNotFound = errors.New("db: key not found")
	// ErrIndexNotFound is returned by searches against a missing FT index.
	ErrIndexNotFound = errors.New("db: index not found")
	// ErrIndexExists is returned by CreateIndex when the name is taken.
	ErrIndexExists = errors.New("db: index already exists")
)

// Op names the server command that failed.
type Op string

const (
	OpGet         Op = "GET"
	OpSet         Op = "SET"
	OpDel         Op = "DEL"
	OpExpire      Op = "EXPIRE"
	OpScan        Op = "SCAN"
	OpHSet        Op = "HSET"
	OpHGetAll     Op = "HGETALL"
	OpHIncrBy     Op = "HINCRBY"
	OpCreateIndex Op = "FT.CREATE"
	OpIndexInfo   Op = "FT.INFO"
	OpSearch      Op = "FT.SEARCH"
)

// Error is a backend failure annotated with the command and, where one
// applies, the key it touched.
type Error struct {
	Op  Op
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return string(e.Op) + ": " + e.Err.Error()
	}
	return string(e.Op) + " " + e.Key + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
