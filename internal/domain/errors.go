package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrNegativeRate   = errors.New("negative funding rate arbitrage not supported")
	ErrNoPosition     = errors.New("no position for symbol")
	ErrBothLegsFailed = errors.New("both legs failed")
)
