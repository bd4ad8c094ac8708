package capture

import (
	"context"
	"log/slog"

	"github.com/itshop/voiceqa/internal/audio"
)

// DeviceOpener opens the configured Pulse source, falling back per the
// audio selection policy.
func DeviceOpener(input string, fallback string, logger *slog.Logger) OpenFunc {
	return func(ctx context.Context) (Source, error) {
		selection, err := audio.SelectDevice(ctx, input, fallback)
		if err != nil {
			return nil, err
		}
		if selection.Warning != "" && logger != nil {
			logger.Warn(selection.Warning)
		}
		return audio.StartCapture(ctx, selection.Device)
	}
}
