package track

import (
	"strings"

	"github.com/pion/webrtc/v3"
)

// CodecType represents the video codec a shared track is offered with
type CodecType string

const (
	CodecVP8  CodecType = "vp8"
	CodecVP9  CodecType = "vp9"
	CodecH264 CodecType = "h264"
)

// ParseCodec parses a codec name, defaulting to VP8
func ParseCodec(value string) CodecType {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "vp9":
		return CodecVP9
	case "h264", "h.264", "avc":
		return CodecH264
	default:
		return CodecVP8
	}
}

// MimeType returns the RTP MIME type for the codec
func (c CodecType) MimeType() string {
	switch c {
	case CodecVP9:
		return webrtc.MimeTypeVP9
	case CodecH264:
		return webrtc.MimeTypeH264
	default:
		return webrtc.MimeTypeVP8
	}
}
