package media

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kianjain/shisuka/internal/models"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func mp3Bytes() []byte {
	return append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
}

func wavData() []byte {
	return append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)
}

func m4aBytes() []byte {
	header := []byte{0, 0, 0, 24}
	header = append(header, []byte("ftypM4A ")...)
	return append(header, make([]byte, 64)...)
}

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		wantKind Kind
		wantExt  string
		wantErr  bool
	}{
		{"png", encodePNG(t, 4, 4), KindImage, "png", false},
		{"jpeg", encodeJPEG(t, 4, 4), KindImage, "jpg", false},
		{"mp3 with id3 tag", mp3Bytes(), KindAudio, "mp3", false},
		{"wav", wavData(), KindAudio, "wav", false},
		{"m4a", m4aBytes(), KindAudio, "m4a", false},
		{"empty", nil, "", "", true},
		{"plain text", []byte("hello world, this is not media"), "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Sniff(tt.data)
			if tt.wantErr {
				assert.True(t, models.IsValidation(err), "expected validation error, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, info.Kind)
			assert.Equal(t, tt.wantExt, info.Ext)
		})
	}
}

func TestNormalizeCover(t *testing.T) {
	t.Parallel()

	t.Run("reencodes to webp", func(t *testing.T) {
		t.Parallel()
		out, err := NormalizeCover(encodePNG(t, 100, 60), 0)
		require.NoError(t, err)
		info, err := Sniff(out)
		require.NoError(t, err)
		assert.Equal(t, "webp", info.Ext)
	})

	t.Run("downscales oversized images", func(t *testing.T) {
		t.Parallel()
		out, err := NormalizeCover(encodePNG(t, CoverMaxSize*2, CoverMaxSize), 0)
		require.NoError(t, err)

		decoded, _, err := image.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.LessOrEqual(t, decoded.Bounds().Dx(), CoverMaxSize)
		assert.LessOrEqual(t, decoded.Bounds().Dy(), CoverMaxSize)
		// Aspect ratio survives the downscale.
		assert.Equal(t, 2*decoded.Bounds().Dy(), decoded.Bounds().Dx())
	})

	t.Run("rejects oversize payloads", func(t *testing.T) {
		t.Parallel()
		_, err := NormalizeCover(encodePNG(t, 50, 50), 10)
		assert.True(t, models.IsValidation(err))
	})

	t.Run("rejects audio", func(t *testing.T) {
		t.Parallel()
		_, err := NormalizeCover(wavData(), 0)
		assert.True(t, models.IsValidation(err))
	})

	t.Run("rejects corrupt image data", func(t *testing.T) {
		t.Parallel()
		broken := encodePNG(t, 8, 8)[:12]
		_, err := NormalizeCover(broken, 0)
		assert.True(t, models.IsValidation(err))
	})
}

func TestNormalizeAvatar_BoundsSize(t *testing.T) {
	t.Parallel()

	out, err := NormalizeAvatar(encodePNG(t, AvatarMaxSize*3, AvatarMaxSize*3))
	require.NoError(t, err)

	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.LessOrEqual(t, decoded.Bounds().Dx(), AvatarMaxSize)
	assert.LessOrEqual(t, decoded.Bounds().Dy(), AvatarMaxSize)
}

func TestValidateAudio(t *testing.T) {
	t.Parallel()

	info, err := ValidateAudio(wavData(), 0)
	require.NoError(t, err)
	assert.Equal(t, KindAudio, info.Kind)

	_, err = ValidateAudio(encodePNG(t, 4, 4), 0)
	assert.True(t, models.IsValidation(err), "images are not audio")

	_, err = ValidateAudio(wavData(), 8)
	assert.True(t, models.IsValidation(err), "size cap applies")
}
