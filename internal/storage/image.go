package storage

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"go-identity-service/pkg/apierror"
)

const ProfileImageContentType = "image/jpeg"

// maxSourcePixels bounds decode memory regardless of file size.
const maxSourcePixels = 40_000_000

func IsProfileImageMIME(mimeType string) bool {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp", "image/tiff":
		return true
	default:
		return false
	}
}

// NormalizeProfileImage reads at most maxBytes from r, decodes it, scales it
// to fit a maxDim square and re-encodes it as JPEG. Metadata in the upload
// does not survive.
func NormalizeProfileImage(r io.Reader, maxBytes int64, maxDim int) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, apierror.New("PAYLOAD_TOO_LARGE", "image exceeds the upload limit", "", http.StatusRequestEntityTooLarge)
		}
		return nil, apierror.BadRequest("could not read image", "")
	}
	if int64(len(raw)) > maxBytes {
		return nil, apierror.BadRequest("image too large", "limit "+strconv.FormatInt(maxBytes, 10)+" bytes")
	}
	if len(raw) == 0 {
		return nil, apierror.BadRequest("image is empty", "")
	}

	sniffed := http.DetectContentType(raw[:min(len(raw), 512)])
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil || (!IsProfileImageMIME(sniffed) && !IsProfileImageMIME("image/"+format)) {
		return nil, apierror.BadRequest("unsupported image type", sniffed)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, apierror.BadRequest("invalid image dimensions", strconv.Itoa(cfg.Width)+"x"+strconv.Itoa(cfg.Height))
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, apierror.BadRequest("cannot decode image", "")
	}

	dst := scaleToFit(src, maxDim)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func scaleToFit(src image.Image, maxDim int) image.Image {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	longest := max(width, height)
	scale := 1.0
	if maxDim > 0 && longest > maxDim {
		scale = float64(maxDim) / float64(longest)
	}

	targetWidth := max(int(math.Round(float64(width)*scale)), 1)
	targetHeight := max(int(math.Round(float64(height)*scale)), 1)

	// Flatten onto white so transparent PNG/GIF pixels do not turn black.
	dst := image.NewRGBA(image.Rect(0, 0, targetWidth, targetHeight))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
