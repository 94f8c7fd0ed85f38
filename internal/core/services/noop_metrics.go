package services

import (
	"time"

	"sidescreen/internal/core/domain"
)

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) SessionStarted(domain.DeviceID) {}
func (NoopMetrics) SessionEnded(domain.DeviceID, domain.SessionState) {}
func (NoopMetrics) FrameSent(int, time.Duration) {}
func (NoopMetrics) FrameSkipped(string) {}
func (NoopMetrics) CompressFailed() {}
func (NoopMetrics) FrameCompressed(time.Duration) {}
func (NoopMetrics) FrameCaptured(domain.SourceID, time.Duration, error) {}
func (NoopMetrics) PairingFinished(string, time.Duration) {}
func (NoopMetrics) DeviceConnected(domain.TransportKind) {}
func (NoopMetrics) DeviceDisconnected(domain.TransportKind) {}
func (NoopMetrics) InputDropped(string) {}
