// Package repository implements data access for users, tokens, payments
// and date requests over database/sql, plus an in-memory request store for
// tests and local development.  Sentinel errors defined here let higher
// layers distinguish failure scenarios without string matching: handlers
// map ErrForbidden to 403, ErrRequestNotFound to 404 and ErrStateConflict
// to 409.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// resource they are not a party to.
var ErrForbidden = errors.New("forbidden")

// ErrRequestNotFound is returned when no date request exists for the
// given ID.
var ErrRequestNotFound = errors.New("date request not found")

// ErrStateConflict is returned by guarded updates when the request no
// longer satisfies the transition's guard, e.g. a second refund attempt
// finding the deposit already finalized.  Exactly one of two racing
// writers observes success; the other receives this error.
var ErrStateConflict = errors.New("state conflict")
