package protocol

import "google.golang.org/protobuf/encoding/protowire"

func (p *PairingRequest) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.HostID)
	b = appendString(b, 2, p.HostName)
	b = appendString(b, 3, p.Version)
	b = appendString(b, 4, p.Nonce)
	b = appendInt(b, 5, int64(p.MaxFPS))
	for _, c := range p.Codecs {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, c)
	}
	b = appendBool(b, 7, p.Trusted)
	return b
}

func (p *PairingRequest) Unmarshal(b []byte) error {
	*p = PairingRequest{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &p.HostID)
		case 2:
			return readString(typ, b, &p.HostName)
		case 3:
			return readString(typ, b, &p.Version)
		case 4:
			return readString(typ, b, &p.Nonce)
		case 5:
			return readInt(typ, b, &p.MaxFPS)
		case 6:
			return readRepeatedString(typ, b, &p.Codecs)
		case 7:
			return readBool(typ, b, &p.Trusted)
		}
		return 0
	})
}

func (p *PairingResponse) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.Nonce)
	b = appendBool(b, 2, p.Accepted)
	b = appendString(b, 3, p.Reason)
	b = appendString(b, 4, p.DeviceName)
	return b
}

func (p *PairingResponse) Unmarshal(b []byte) error {
	*p = PairingResponse{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &p.Nonce)
		case 2:
			return readBool(typ, b, &p.Accepted)
		case 3:
			return readString(typ, b, &p.Reason)
		case 4:
			return readString(typ, b, &p.DeviceName)
		}
		return 0
	})
}

func (p *StreamStart) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.StreamID)
	b = appendInt(b, 2, int64(p.Width))
	b = appendInt(b, 3, int64(p.Height))
	b = appendString(b, 4, p.Format)
	b = appendInt(b, 5, int64(p.FPS))
	b = appendInt(b, 6, int64(p.Quality))
	return b
}

func (p *StreamStart) Unmarshal(b []byte) error {
	*p = StreamStart{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &p.StreamID)
		case 2:
			return readInt(typ, b, &p.Width)
		case 3:
			return readInt(typ, b, &p.Height)
		case 4:
			return readString(typ, b, &p.Format)
		case 5:
			return readInt(typ, b, &p.FPS)
		case 6:
			return readInt(typ, b, &p.Quality)
		}
		return 0
	})
}

func (p *StreamStartAck) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.StreamID)
	b = appendBool(b, 2, p.Accepted)
	b = appendString(b, 3, p.Reason)
	return b
}

func (p *StreamStartAck) Unmarshal(b []byte) error {
	*p = StreamStartAck{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &p.StreamID)
		case 2:
			return readBool(typ, b, &p.Accepted)
		case 3:
			return readString(typ, b, &p.Reason)
		}
		return 0
	})
}

func (p *StreamStop) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.StreamID)
	b = appendString(b, 2, p.Reason)
	return b
}

func (p *StreamStop) Unmarshal(b []byte) error {
	*p = StreamStop{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &p.StreamID)
		case 2:
			return readString(typ, b, &p.Reason)
		}
		return 0
	})
}

func (p *FrameData) Marshal() []byte {
	b := make([]byte, 0, len(p.Data)+64)
	b = appendString(b, 1, p.StreamID)
	b = appendUint(b, 2, p.Seq)
	b = appendInt(b, 3, int64(p.Width))
	b = appendInt(b, 4, int64(p.Height))
	b = appendString(b, 5, p.Format)
	b = appendInt(b, 6, p.Timestamp)
	b = appendBytes(b, 7, p.Data)
	return b
}

func (p *FrameData) Unmarshal(b []byte) error {
	*p = FrameData{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &p.StreamID)
		case 2:
			return readUint(typ, b, &p.Seq)
		case 3:
			return readInt(typ, b, &p.Width)
		case 4:
			return readInt(typ, b, &p.Height)
		case 5:
			return readString(typ, b, &p.Format)
		case 6:
			return readInt64(typ, b, &p.Timestamp)
		case 7:
			return readBytes(typ, b, &p.Data)
		}
		return 0
	})
}

func (p *InputEvent) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, p.StreamID)
	b = appendString(b, 2, p.Kind)
	b = appendString(b, 3, p.Action)
	b = appendDouble(b, 4, p.X)
	b = appendDouble(b, 5, p.Y)
	b = appendDouble(b, 6, p.Pressure)
	b = appendDouble(b, 7, p.ScrollDX)
	b = appendDouble(b, 8, p.ScrollDY)
	b = appendInt(b, 9, p.Timestamp)
	return b
}

func (p *InputEvent) Unmarshal(b []byte) error {
	*p = InputEvent{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readString(typ, b, &p.StreamID)
		case 2:
			return readString(typ, b, &p.Kind)
		case 3:
			return readString(typ, b, &p.Action)
		case 4:
			return readDouble(typ, b, &p.X)
		case 5:
			return readDouble(typ, b, &p.Y)
		case 6:
			return readDouble(typ, b, &p.Pressure)
		case 7:
			return readDouble(typ, b, &p.ScrollDX)
		case 8:
			return readDouble(typ, b, &p.ScrollDY)
		case 9:
			return readInt64(typ, b, &p.Timestamp)
		}
		return 0
	})
}

func (p *Heartbeat) Marshal() []byte {
	var b []byte
	b = appendInt(b, 1, p.Timestamp)
	b = appendUint(b, 2, p.Seq)
	return b
}

func (p *Heartbeat) Unmarshal(b []byte) error {
	*p = Heartbeat{}
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return readInt64(typ, b, &p.Timestamp)
		case 2:
			return readUint(typ, b, &p.Seq)
		}
		return 0
	})
}
