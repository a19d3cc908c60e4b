package httpclient

import (
	"log/slog"
)

// ClientFactory creates HTTP clients with appropriate circuit breaker protection
// based on service names. This decouples services from circuit breaker management.
type ClientFactory struct {
	manager       *CircuitBreakerManager
	defaultConfig Config
	logger        *slog.Logger
}

// NewClientFactory creates a new client factory.
// If manager is nil, uses the DefaultManager.
func NewClientFactory(manager *CircuitBreakerManager) *ClientFactory {
	if manager == nil {
		manager = DefaultManager
	}

	return &ClientFactory{
		manager:       manager,
		defaultConfig: DefaultConfig(),
		logger:        slog.Default(),
	}
}

// WithDefaultConfig sets the default client config used when creating clients.
func (f *ClientFactory) WithDefaultConfig(cfg Config) *ClientFactory {
	f.defaultConfig = cfg
	return f
}

// WithLogger sets the logger for the factory.
func (f *ClientFactory) WithLogger(logger *slog.Logger) *ClientFactory {
	f.logger = logger
	f.defaultConfig.Logger = logger
	return f
}

// CreateClientForService creates an HTTP client for a specific service.
// The client uses a circuit breaker from the manager, so clients for the same
// service share breaker state.
//
// Service names in use:
//   - "popular_tracks" - the external popularity-service lookup voicecache
//     uses to size a track's voice-cache budget
func (f *ClientFactory) CreateClientForService(serviceName string) *Client {
	// Get or create circuit breaker for this service
	breaker := f.manager.GetOrCreate(serviceName)

	// Get the service's effective config for acceptable status codes
	cbConfig := f.manager.GetServiceConfig(serviceName)

	// Create client config
	cfg := f.defaultConfig
	cfg.AcceptableStatusCodes = cbConfig.AcceptableStatusCodes

	// Create client with the shared breaker
	client := NewWithBreaker(cfg, breaker)

	f.logger.Debug("created HTTP client for service",
		slog.String("service", serviceName),
		slog.String("circuit_state", breaker.State().String()),
	)

	return client
}

// Manager returns the underlying circuit breaker manager.
func (f *ClientFactory) Manager() *CircuitBreakerManager {
	return f.manager
}
