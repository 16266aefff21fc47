package webrtc

import (
	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"

	"go.uber.org/zap"
)

// Factory builds Devices sharing one transport configuration.
type Factory struct {
	cfg    Config
	logger *zap.SugaredLogger
}

func NewFactory(cfg Config, logger *zap.SugaredLogger) *Factory {
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) NewDevice(constraint domain.MediaConstraint) (ports.MediaDevice, error) {
	return NewDevice(f.cfg, constraint, f.logger)
}
