// Package media validates and normalizes user-selected files before they go
// to blob storage. Images are decoded, downscaled, and re-encoded to webp;
// audio is sniffed and size-checked but passed through untouched.
package media

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"net/http"
	"strings"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register webp decoder

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/kianjain/shisuka/internal/models"
)

const (
	// AvatarMaxSize bounds avatar dimensions after normalization.
	AvatarMaxSize = 512
	// CoverMaxSize bounds project cover image dimensions.
	CoverMaxSize = 2048
	// WebPQuality is the encode quality for normalized images.
	WebPQuality = 80

	DefaultMaxImageBytes = int64(10 << 20)
	DefaultMaxAudioBytes = int64(50 << 20)
)

// Kind classifies a media payload.
type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Info describes a validated media payload.
type Info struct {
	Kind        Kind
	ContentType string
	Ext         string
}

// Sniff detects and validates the payload type. Only the image and audio
// formats the app supports are accepted.
func Sniff(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, models.NewValidationError("No file content")
	}
	contentType := normalizeContentType(http.DetectContentType(data))

	switch contentType {
	case "image/jpeg", "image/jpg":
		return &Info{Kind: KindImage, ContentType: "image/jpeg", Ext: "jpg"}, nil
	case "image/png":
		return &Info{Kind: KindImage, ContentType: "image/png", Ext: "png"}, nil
	case "image/webp":
		return &Info{Kind: KindImage, ContentType: "image/webp", Ext: "webp"}, nil
	case "audio/mpeg":
		return &Info{Kind: KindAudio, ContentType: "audio/mpeg", Ext: "mp3"}, nil
	case "audio/wave", "audio/wav", "audio/x-wav":
		return &Info{Kind: KindAudio, ContentType: "audio/wav", Ext: "wav"}, nil
	}

	// http.DetectContentType does not know m4a; check the ftyp box directly.
	if isM4A(data) {
		return &Info{Kind: KindAudio, ContentType: "audio/mp4", Ext: "m4a"}, nil
	}

	return nil, models.NewValidationError("Unsupported file type")
}

// NormalizeAvatar validates an avatar image and re-encodes it as a bounded
// webp.
func NormalizeAvatar(data []byte) ([]byte, error) {
	return normalizeImage(data, AvatarMaxSize, DefaultMaxImageBytes)
}

// NormalizeCover validates a project cover image and re-encodes it as a
// bounded webp.
func NormalizeCover(data []byte, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return normalizeImage(data, CoverMaxSize, maxBytes)
}

// ValidateAudio checks the payload is a supported audio format within the
// size cap. Audio is uploaded as-is; no transcoding on the client.
func ValidateAudio(data []byte, maxBytes int64) (*Info, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAudioBytes
	}
	if int64(len(data)) > maxBytes {
		return nil, models.NewValidationError(fmt.Sprintf("Audio too large (max %dMB)", maxBytes/(1<<20)))
	}
	info, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	if info.Kind != KindAudio {
		return nil, models.NewValidationError("Not an audio file")
	}
	return info, nil
}

func normalizeImage(data []byte, maxSize int, maxBytes int64) ([]byte, error) {
	if int64(len(data)) > maxBytes {
		return nil, models.NewValidationError(fmt.Sprintf("Image too large (max %dMB)", maxBytes/(1<<20)))
	}
	info, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	if info.Kind != KindImage {
		return nil, models.NewValidationError("Not an image file")
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, models.NewValidationError("Invalid image file")
	}

	resized := resizeToFit(decoded, maxSize, maxSize)

	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, resized, &webp.Options{Quality: WebPQuality}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scaleW := float64(maxWidth) / float64(w)
	scaleH := float64(maxHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// isM4A checks for an MP4 container with an audio brand.
func isM4A(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return strings.HasPrefix(brand, "M4A") || strings.HasPrefix(brand, "mp4") || strings.HasPrefix(brand, "isom")
}
