package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type SessionID string

type SessionState string

const (
	SessionInitializing SessionState = "initializing"
	SessionStreaming    SessionState = "streaming"
	SessionDraining     SessionState = "draining"
	SessionFaulted      SessionState = "faulted"
	SessionStopped      SessionState = "stopped"
)

func (s SessionState) Terminal() bool {
	return s == SessionStopped
}

const (
	CodecJPEG = "jpeg"

	MinFPS     = 1
	MaxFPS     = 120
	MinQuality = 1
	MaxQuality = 100

	// Bounds applied by quality updates on a running session.
	AdjustMinFPS     = 15
	AdjustMinQuality = 10
)

// SessionConfig is immutable once a session has been started with it.
type SessionConfig struct {
	TargetFPS   int
	Quality     int
	Codec       string
	MaxSessions int // 0 defers to the manager's cap
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TargetFPS: 30,
		Quality:   80,
		Codec:     CodecJPEG,
	}
}

func (c SessionConfig) Validate() error {
	if c.TargetFPS < MinFPS || c.TargetFPS > MaxFPS {
		return NewError("start", KindInvalidConfig,
			fmt.Sprintf("target fps %d outside [%d,%d]", c.TargetFPS, MinFPS, MaxFPS), nil)
	}
	if c.Quality < MinQuality || c.Quality > MaxQuality {
		return NewError("start", KindInvalidConfig,
			fmt.Sprintf("quality %d outside [%d,%d]", c.Quality, MinQuality, MaxQuality), nil)
	}
	if c.MaxSessions < 0 {
		return NewError("start", KindInvalidConfig, "max sessions must be >= 0", nil)
	}
	return nil
}

// FrameInterval is the tick period for fps.
func FrameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = MinFPS
	}
	return time.Second / time.Duration(fps)
}

type QualitySettings struct {
	Quality int
	FPS     int
}

// ClampQuality bounds a runtime quality update to [10,100] and [15,120].
func ClampQuality(quality, fps int) QualitySettings {
	return QualitySettings{
		Quality: clamp(quality, AdjustMinQuality, MaxQuality),
		FPS:     clamp(fps, AdjustMinFPS, MaxFPS),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DeriveSessionID is stable for a (source, device) pair, which is what makes
// a second session for the same pair detectable.
func DeriveSessionID(source SourceID, device DeviceID) SessionID {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(device))
	return SessionID("ses_" + hex.EncodeToString(h.Sum(nil))[:20])
}

type SessionSnapshot struct {
	ID               SessionID
	DeviceID         DeviceID
	SourceID         SourceID
	State            SessionState
	Config           SessionConfig
	Effective        QualitySettings
	FramesSent       uint64
	BytesSent        uint64
	FramesSkipped    uint64
	CompressFailures uint64
	LastFrameSentAt  time.Time
	StartedAt        time.Time
	FaultReason      string
}
