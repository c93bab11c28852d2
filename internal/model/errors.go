package model

import "errors"

var (
	// User related errors
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")

	// Password reset errors
	ErrResetNotFound = errors.New("password reset not found")

	// Profile image errors
	ErrImageNotFound = errors.New("image not found")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
