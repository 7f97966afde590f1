// Package qrcode renders PNG QR codes for patient identifiers.
package qrcode

import (
	"errors"
	"fmt"

	qr "github.com/skip2/go-qrcode"
)

const (
	DefaultSize = 256
	maxSize     = 1024
)

// Generator renders QR codes at a fixed error-correction level.
type Generator struct {
	level qr.RecoveryLevel
}

func NewGenerator() *Generator {
	return &Generator{level: qr.Medium}
}

// PNG encodes content as a size x size PNG. A size of zero uses DefaultSize.
func (g *Generator) PNG(content string, size int) ([]byte, error) {
	if content == "" {
		return nil, errors.New("qr content is required")
	}
	if size == 0 {
		size = DefaultSize
	}
	if size < 64 || size > maxSize {
		return nil, fmt.Errorf("qr size must be between 64 and %d, got %d", maxSize, size)
	}
	png, err := qr.Encode(content, g.level, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}
