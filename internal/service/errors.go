package service

import (
	"errors"

	"gorm.io/gorm"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrFollowSelf     = errors.New("cannot follow self")
	ErrInvalidContent = errors.New("invalid content")
)

// notFound maps a missing store row to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
