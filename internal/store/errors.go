package store

import (
	"errors"

	"github.com/JakeFAU/lcf-connectors/internal/crawler"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists signals a duplicate primary key on create.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrReferenced signals that a connection is still used by jobs.
	ErrReferenced = errors.New("connection is referenced by jobs")
	// ErrConnectorNotRegistered aliases the registry error so callers can
	// test for it without importing crawler.
	ErrConnectorNotRegistered = crawler.ErrConnectorNotRegistered
)

// FetchMax bounds the number of names loaded per query.
const FetchMax = 200
