package domain

import "errors"

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("task not found")
	ErrStorage                = errors.New("storage failure")
	ErrNotificationPermission = errors.New("notification permission not granted")
	ErrSync                   = errors.New("sync failed")
)
