package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithUpdate adds update_id context to logger.
func (l *Logger) WithUpdate(updateID string) *Logger {
	return &Logger{logger: l.logger.With().Str("update_id", updateID).Logger()}
}

// WithDevice adds device_uuid context to logger.
func (l *Logger) WithDevice(deviceUUID string) *Logger {
	return &Logger{logger: l.logger.With().Str("device_uuid", deviceUUID).Logger()}
}

// WithPackage adds package_name/version context to logger.
func (l *Logger) WithPackage(name, version string) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("package_name", name).
			Str("package_version", version).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }

// Info logs an info message.
func (l *Logger) Info(msg string) { l.logger.Info().Msg(msg) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string) { l.logger.Warn().Msg(msg) }

// Error logs an error message.
func (l *Logger) Error(err error, msg string) { l.logger.Error().Err(err).Msg(msg) }

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) { l.logger.Fatal().Err(err).Msg(msg) }

// UpdateAccepted logs an update being accepted for install.
func (l *Logger) UpdateAccepted(updateID string) {
	l.logger.Info().Str("update_id", updateID).Msg("update accepted")
}

// UpdateStateChanged logs a lifecycle transition.
func (l *Logger) UpdateStateChanged(updateID, state string) {
	l.logger.Info().
		Str("update_id", updateID).
		Str("state", state).
		Msg("update state changed")
}

// UpdateFailed logs an update lifecycle failure.
func (l *Logger) UpdateFailed(updateID, reason string) {
	l.logger.Error().
		Str("update_id", updateID).
		Str("reason", reason).
		Msg("update failed")
}

// ChunkWritten logs a chunk reassembled into a transfer's scratch file.
func (l *Logger) ChunkWritten(packageName string, index int64) {
	l.logger.Debug().
		Str("package_name", packageName).
		Int64("chunk_index", index).
		Msg("chunk written")
}

// TransferCompleted logs a completed package reassembly.
func (l *Logger) TransferCompleted(packageName string, totalSize int64, duration time.Duration) {
	l.logger.Info().
		Str("package_name", packageName).
		Int64("total_size", totalSize).
		Float64("duration_seconds", duration.Seconds()).
		Msg("package transfer completed")
}

// AuthSucceeded logs a successful authentication.
func (l *Logger) AuthSucceeded(clientID string) {
	l.logger.Info().Str("client_id", clientID).Msg("authenticated")
}

// AuthFailed logs a failed authentication attempt.
func (l *Logger) AuthFailed(clientID string, err error) {
	l.logger.Error().Str("client_id", clientID).Err(err).Msg("authentication failed")
}

// ConnectionEstablished logs connection establishment on the remote
// gateway's peer transport.
func (l *Logger) ConnectionEstablished(remoteAddr string, connectionID string) {
	l.logger.Info().
		Str("remote_addr", remoteAddr).
		Str("connection_id", connectionID).
		Msg("QUIC connection established")
}

// ConnectionFailed logs connection failure.
func (l *Logger) ConnectionFailed(remoteAddr string, err error) {
	l.logger.Error().
		Str("remote_addr", remoteAddr).
		Err(err).
		Msg("QUIC connection failed")
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
