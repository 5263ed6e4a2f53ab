package config

import (
	"errors"
	"io/fs"
	"time"
)

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// ParseDuration parses a duration string with a fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
