package storage

import "errors"

var (
	ErrLoadConfig   = errors.New("failed to load realm config")
	ErrSaveConfig   = errors.New("failed to save realm config")
	ErrDeleteConfig = errors.New("failed to delete realm config")
	ErrListRealms   = errors.New("failed to list realms")

	ErrFailedToParseRedisURL = errors.New("failed to parse redis connection url")
	ErrRedisNotReady         = errors.New("redis did not become ready within the given time period")
	ErrFailedToParseDBConfig = errors.New("failed to parse postgres config")
	ErrPostgresNotReady      = errors.New("failed to open postgres connection")
	ErrFailedToMigrate       = errors.New("failed to apply migrations")
	ErrHealthcheckFailed     = errors.New("storage healthcheck failed")
)
