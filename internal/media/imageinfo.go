package media

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodable lists the formats that have a registered config decoder.
var decodable = map[string]bool{
	"image/jpeg":     true,
	"image/jpg":      true,
	"image/pjpeg":    true,
	"image/png":      true,
	"image/gif":      true,
	"image/bmp":      true,
	"image/x-ms-bmp": true,
	"image/tiff":     true,
	"image/webp":     true,
}

type ImageInfo struct {
	Format string
	Width  int
	Height int
}

func HasImageDecoder(contentType string) bool {
	return decodable[contentType]
}

// ReadImageInfo reads only the image header and rewinds the file.
func ReadImageInfo(f io.ReadSeeker) (ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(f)
	if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil && err == nil {
		err = seekErr
	}
	if err != nil {
		return ImageInfo{}, &ValidationError{Reason: "corrupt", Message: fmt.Sprintf("image could not be read: %v", err)}
	}
	return ImageInfo{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}
