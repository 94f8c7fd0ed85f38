package http

import (
	"time"

	"sidescreen/internal/core/domain"
)

type sessionView struct {
	ID               domain.SessionID    `json:"id"`
	DeviceID         domain.DeviceID     `json:"device_id"`
	SourceID         domain.SourceID     `json:"source_id"`
	State            domain.SessionState `json:"state"`
	TargetFPS        int                 `json:"target_fps"`
	TargetQuality    int                 `json:"target_quality"`
	Codec            string              `json:"codec"`
	FPS              int                 `json:"fps"`
	Quality          int                 `json:"quality"`
	FramesSent       uint64              `json:"frames_sent"`
	BytesSent        uint64              `json:"bytes_sent"`
	FramesSkipped    uint64              `json:"frames_skipped"`
	CompressFailures uint64              `json:"compress_failures"`
	LastFrameSentAt  *time.Time          `json:"last_frame_sent_at,omitempty"`
	StartedAt        time.Time           `json:"started_at"`
	FaultReason      string              `json:"fault_reason,omitempty"`
}

func newSessionView(s domain.SessionSnapshot) sessionView {
	v := sessionView{
		ID:               s.ID,
		DeviceID:         s.DeviceID,
		SourceID:         s.SourceID,
		State:            s.State,
		TargetFPS:        s.Config.TargetFPS,
		TargetQuality:    s.Config.Quality,
		Codec:            s.Config.Codec,
		FPS:              s.Effective.FPS,
		Quality:          s.Effective.Quality,
		FramesSent:       s.FramesSent,
		BytesSent:        s.BytesSent,
		FramesSkipped:    s.FramesSkipped,
		CompressFailures: s.CompressFailures,
		StartedAt:        s.StartedAt,
		FaultReason:      s.FaultReason,
	}
	if !s.LastFrameSentAt.IsZero() {
		t := s.LastFrameSentAt
		v.LastFrameSentAt = &t
	}
	return v
}

type deviceView struct {
	ID          domain.DeviceID      `json:"id"`
	Name        string               `json:"name"`
	Transport   domain.TransportKind `json:"transport"`
	Address     string               `json:"address,omitempty"`
	Touch       bool                 `json:"touch"`
	Codecs      []string             `json:"codecs,omitempty"`
	State       domain.PairingState  `json:"state"`
	Connected   bool                 `json:"connected"`
	Trusted     bool                 `json:"trusted"`
	Streams     int                  `json:"streams"`
	ConnectedAt *time.Time           `json:"connected_at,omitempty"`
	LastSeen    *time.Time           `json:"last_seen,omitempty"`
}

func newDeviceView(s domain.DeviceStatus) deviceView {
	v := deviceView{
		ID:        s.Device.ID,
		Name:      s.Device.Name,
		Transport: s.Device.Transport,
		Address:   s.Device.Address,
		Touch:     s.Device.Capabilities.Touch,
		Codecs:    s.Device.Capabilities.Codecs,
		State:     s.State,
		Connected: s.Connected,
		Trusted:   s.Trusted,
		Streams:   s.Streams,
	}
	if !s.ConnectedAt.IsZero() {
		t := s.ConnectedAt
		v.ConnectedAt = &t
	}
	if !s.LastSeen.IsZero() {
		t := s.LastSeen
		v.LastSeen = &t
	}
	return v
}

type sourceView struct {
	ID          domain.SourceID `json:"id"`
	X           int             `json:"x"`
	Y           int             `json:"y"`
	Width       int             `json:"width"`
	Height      int             `json:"height"`
	RefreshHint int             `json:"refresh_hint,omitempty"`
}

func newSourceView(d domain.FrameSourceDescriptor) sourceView {
	return sourceView{
		ID:          d.ID,
		X:           d.Bounds.X,
		Y:           d.Bounds.Y,
		Width:       d.Bounds.Width,
		Height:      d.Bounds.Height,
		RefreshHint: d.RefreshHint,
	}
}
