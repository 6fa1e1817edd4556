package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"AssistantChat/internal/ai"
)

const (
	defaultMaxWidth     = 1280
	defaultMaxSizeBytes = 1 * 1024 * 1024
	defaultQuality      = 80
	minWidth            = 320
)

var (
	ErrEmptyImage       = errors.New("image is empty")
	ErrUnsupportedImage = errors.New("unsupported image")
	ErrImageTooLarge    = errors.New("image too large")
)

// Разрешённые расширения и их MIME-типы.
var mimeByExt = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ProcessedImage: изображение, готовое к загрузке.
type ProcessedImage struct {
	Name      string
	Width     int
	Height    int
	SizeBytes int
	MimeType  string
	Resized   bool
	Data      []byte
}

// File возвращает изображение в виде файла для загрузки ассистенту.
func (p ProcessedImage) File() ai.File {
	return ai.File{Name: p.Name, ContentType: p.MimeType, Data: p.Data}
}

type Processor struct {
	maxWidth    int
	maxSizeByte int
	quality     int
}

// NewProcessor создаёт обработчик. Нулевые и отрицательные лимиты заменяются значениями по умолчанию.
func NewProcessor(maxWidth, maxSizeBytes int) *Processor {
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}
	if maxSizeBytes <= 0 {
		maxSizeBytes = defaultMaxSizeBytes
	}
	return &Processor{
		maxWidth:    maxWidth,
		maxSizeByte: maxSizeBytes,
		quality:     defaultQuality,
	}
}

// Process проверяет изображение и при необходимости уменьшает его.
// Укладывающееся в лимиты изображение возвращается как есть, байт в байт.
// Остальные масштабируются и перекодируются в JPEG, пока не влезут в лимит по размеру.
func (p *Processor) Process(name string, data []byte) (ProcessedImage, error) {
	ext := strings.ToLower(filepath.Ext(name))
	mime, ok := mimeByExt[ext]
	if !ok {
		return ProcessedImage{}, fmt.Errorf("%w: extension %q", ErrUnsupportedImage, ext)
	}
	if len(data) == 0 {
		return ProcessedImage{}, ErrEmptyImage
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ProcessedImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return ProcessedImage{}, fmt.Errorf("%w: invalid image size: %dx%d", ErrUnsupportedImage, cfg.Width, cfg.Height)
	}

	if cfg.Width <= p.maxWidth && len(data) <= p.maxSizeByte {
		return ProcessedImage{
			Name:      filepath.Base(name),
			Width:     cfg.Width,
			Height:    cfg.Height,
			SizeBytes: len(data),
			MimeType:  mime,
			Data:      data,
		}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return ProcessedImage{}, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	origWidth := img.Bounds().Dx()
	origHeight := img.Bounds().Dy()

	resizedWidth := min(origWidth, p.maxWidth)
	resizedHeight := max(1, origHeight*resizedWidth/origWidth)

	var encoded []byte
	for {
		encoded, err = encodeJPEG(resize(img, resizedWidth, resizedHeight), p.quality)
		if err != nil {
			return ProcessedImage{}, err
		}
		if len(encoded) <= p.maxSizeByte {
			break
		}
		if resizedWidth <= minWidth {
			return ProcessedImage{}, fmt.Errorf("%w: exceeds %d bytes even after downscale", ErrImageTooLarge, p.maxSizeByte)
		}
		resizedWidth = max(1, int(float64(resizedWidth)*0.9))
		resizedHeight = max(1, origHeight*resizedWidth/origWidth)
	}

	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return ProcessedImage{
		Name:      base + ".jpg",
		Width:     resizedWidth,
		Height:    resizedHeight,
		SizeBytes: len(encoded),
		MimeType:  "image/jpeg",
		Resized:   true,
		Data:      encoded,
	}, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resize масштабирует методом ближайшего соседа.
func resize(src image.Image, width int, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}
