package services

import "errors"

// Server errors
var (
	ErrServerInvalidInput = errors.New("server: invalid input")
	ErrServerInvalidIP    = errors.New("server: invalid IP address")
	ErrServerNoKey        = errors.New("server: no private key and no platform key available")
)

// Service errors
var (
	ErrServiceInvalidInput = errors.New("service: invalid input")
	ErrServiceWrongType    = errors.New("service: operation not supported for this service type")
	ErrServiceDestroyed    = errors.New("service: marked for destruction")
	ErrServiceNotCreated   = errors.New("service: not created on the server yet")
)

// Plugin errors
var (
	ErrPluginInvalidInput = errors.New("plugin: invalid input")
	ErrPluginNotManaged   = errors.New("plugin: not managed on this server")
)

// Provisioning errors
var (
	ErrOrderInvalidInput = errors.New("provisioning: invalid input")
	ErrNoCloudProvider   = errors.New("provisioning: no cloud provider configured")
)

// Backup errors
var (
	ErrBackupNotConfigured = errors.New("backup: object storage not configured")
	ErrBackupInvalidMode   = errors.New("backup: invalid mode")
)

// Encryption errors
var (
	ErrEncryptionFailed = errors.New("encryption: failed to encrypt data")
	ErrDecryptionFailed = errors.New("encryption: failed to decrypt data")
)
