//go:build !azurespeech

package stt

import "log/slog"

// AzureAvailable reports whether this binary was built with the Azure SDK.
const AzureAvailable = false

func newAzureRecognizer(AzureConfig, FrameSource, *slog.Logger) (Recognizer, error) {
	return nil, ErrUnsupported
}
