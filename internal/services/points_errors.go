package services

import "errors"

var (
	// ErrPointsInvalidInput signals the caller provided invalid points data.
	ErrPointsInvalidInput = errors.New("points: invalid input")
	// ErrPointsInvalidAmount indicates a non-positive point amount.
	ErrPointsInvalidAmount = errors.New("points: invalid amount")
	// ErrPointsInsufficient indicates the user's balance cannot cover the debit.
	ErrPointsInsufficient = errors.New("points: insufficient balance")
)
