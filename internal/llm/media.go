// internal/llm/media.go
package llm

import (
	"encoding/base64"
	"mime"
	"strings"
)

type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Media is one uploaded photo or voice note.
type Media struct {
	Kind     Kind
	Data     []byte
	MIMEType string
}

func (m Media) Empty() bool { return len(m.Data) == 0 }

// baseType strips parameters such as ";codecs=opus" and lowercases.
func baseType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
}

// ImageMIMEType returns the image type, defaulting to JPEG for camera uploads
// that arrive without one.
func (m Media) ImageMIMEType() string {
	mt := baseType(m.MIMEType)
	if !strings.HasPrefix(mt, "image/") {
		return "image/jpeg"
	}
	return mt
}

// DataURL encodes the media as a base64 data URL.
func (m Media) DataURL() string {
	mt := m.ImageMIMEType()
	if m.Kind == KindAudio {
		mt = baseType(m.MIMEType)
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(m.Data)
}

// DefaultAudioExtension is used when an audio MIME type is not recognised.
const DefaultAudioExtension = "webm"

var audioExtensions = map[string]string{
	"audio/webm":   "webm",
	"video/webm":   "webm",
	"audio/ogg":    "ogg",
	"audio/opus":   "ogg",
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/mpga":   "mpga",
	"audio/mp4":    "m4a",
	"audio/m4a":    "m4a",
	"audio/x-m4a":  "m4a",
	"audio/aac":    "m4a",
	"video/mp4":    "mp4",
	"audio/wav":    "wav",
	"audio/wave":   "wav",
	"audio/x-wav":  "wav",
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
}

// AudioExtension maps an audio MIME type to a container extension the
// transcription endpoint accepts.
func AudioExtension(contentType string) string {
	if ext, ok := audioExtensions[baseType(contentType)]; ok {
		return ext
	}
	return DefaultAudioExtension
}

// Extension returns the file extension used when storing the media.
func (m Media) Extension() string {
	if m.Kind == KindAudio {
		return AudioExtension(m.MIMEType)
	}
	switch m.ImageMIMEType() {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/heic":
		return "heic"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}
