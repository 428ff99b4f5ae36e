package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the parent of every unknown market/player/order error.
	ErrNotFound = errors.New("model: not found")

	// ErrUnknownMarket is returned for operations on a market id that does not exist.
	ErrUnknownMarket = fmt.Errorf("%w: unknown market", ErrNotFound)

	// ErrUnknownPlayer is returned for operations on a player id that does not exist.
	ErrUnknownPlayer = fmt.Errorf("%w: unknown player", ErrNotFound)

	// ErrDuplicateMarket is returned when a market id is already registered.
	ErrDuplicateMarket = errors.New("model: market already exists")

	// ErrDuplicatePlayer is returned when a player id is already registered.
	ErrDuplicatePlayer = errors.New("model: player already exists")

	// ErrLimitExceeded is returned when a configured cap would be exceeded.
	ErrLimitExceeded = errors.New("model: limit exceeded")

	// ErrPositionLimit is returned when an order's full quantity would push
	// the absolute net position past the market's limit.
	ErrPositionLimit = fmt.Errorf("%w: position limit", ErrLimitExceeded)

	// ErrMissingValuation is returned when resolution lacks a true value
	// for one or more basic markets.
	ErrMissingValuation = errors.New("model: missing true values")

	// ErrInvalidValuation is returned when a supplied true value is not
	// strictly positive.
	ErrInvalidValuation = errors.New("model: true value must be positive")

	// ErrInvalidInput is returned for malformed requests rejected at the boundary.
	ErrInvalidInput = errors.New("model: invalid input")
)
