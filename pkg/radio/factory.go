package radio

// New constructs the backend instance for cfg. It dispatches on the config
// tag; BackendNone is invalid input here, since it means "no backend should
// exist" rather than a null-object backend — callers check for it before
// invoking the factory.
func New(cfg RadioConfig) (Connection, error) {
	switch cfg.Type {
	case BackendSerial:
		if cfg.Device == "" {
			return nil, Errf(ErrInvalidConfig, "serial backend requires a device path")
		}
		return newSerialConnection(), nil

	case BackendNetwork:
		if cfg.Host == "" || cfg.Port <= 0 {
			return nil, Errf(ErrInvalidConfig, "network backend requires host and port")
		}
		return newNetworkConnection(), nil

	case BackendUDP:
		if cfg.IP == "" || cfg.UDPPort <= 0 {
			return nil, Errf(ErrInvalidConfig, "udp backend requires ip and port")
		}
		return newUDPConnection(), nil

	case BackendNone:
		return nil, Errf(ErrInvalidConfig, "backend type none cannot be constructed")

	default:
		return nil, Errf(ErrInvalidConfig, "unknown backend type %q", cfg.Type)
	}
}
