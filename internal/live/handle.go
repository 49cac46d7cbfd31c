package live

import (
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain/repositories"
	"github.com/satriahrh/sahayak/internal/capture"
	"github.com/satriahrh/sahayak/internal/playback"
)

// sessionHandle owns every resource of one session. teardown is the only
// release path and runs at most once.
type sessionHandle struct {
	id       string
	gen      uint64
	capture  *capture.Pipeline
	playback *playback.Queue
	conn     repositories.LiveConnection
	logger   *zap.Logger

	once sync.Once
}

func (h *sessionHandle) teardown() {
	h.once.Do(func() {
		if h.capture != nil {
			h.capture.Stop()
		}
		if h.conn != nil {
			if err := h.conn.Close(); err != nil {
				h.logger.Warn("Failed to close live connection", zap.String("sessionID", h.id), zap.Error(err))
			}
		}
		if h.playback != nil {
			h.playback.Shutdown()
		}
		h.logger.Info("Session resources released", zap.String("sessionID", h.id))
	})
}
