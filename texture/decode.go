// Copyright (c) 2026, The Lumen Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package texture

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/anthonynsimon/bild/transform"
	"github.com/h2non/filetype"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Formats are the supported image file formats.
type Formats int32

const (
	None Formats = iota
	PNG
	JPEG
	GIF
	TIFF
	BMP
	WebP
)

var formatNames = [...]string{"none", "png", "jpeg", "gif", "tiff", "bmp", "webp"}

func (f Formats) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Formats(%d)", f)
	}
	return formatNames[f]
}

// ExtToFormat returns the format for a filename extension or a
// mime type subtype, with or without a leading dot.
func ExtToFormat(ext string) (Formats, error) {
	if len(ext) == 0 {
		return None, errors.New("texture: empty image extension")
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	ext = strings.TrimPrefix(ext, "image/")
	switch ext {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "gif":
		return GIF, nil
	case "tif", "tiff":
		return TIFF, nil
	case "bmp":
		return BMP, nil
	case "webp":
		return WebP, nil
	}
	return None, fmt.Errorf("texture: image extension %q not recognized", ext)
}

// ErrNotImage is returned for data recognized as a file type
// other than an image.
var ErrNotImage = errors.New("texture: not an image")

// sniffLen is the number of leading bytes [Detect] looks at.
const sniffLen = 262

// Detect returns the format of encoded image data from its first bytes.
// Images of a type that cannot be decoded return an error naming the type.
func Detect(head []byte) (Formats, error) {
	kind, err := filetype.Match(head)
	if err != nil {
		return None, fmt.Errorf("texture: %w", err)
	}
	if kind == filetype.Unknown {
		return None, errors.New("texture: unknown image format")
	}
	if kind.MIME.Type != "image" {
		return None, fmt.Errorf("%w: %s data", ErrNotImage, kind.Extension)
	}
	return ExtToFormat(kind.MIME.Subtype)
}

// Read decodes an image, inferring the format from its contents.
func Read(r io.Reader) (image.Image, Formats, error) {
	br := bufio.NewReaderSize(r, sniffLen)
	head, _ := br.Peek(sniffLen)
	f, err := Detect(head)
	if err != nil {
		return nil, None, err
	}
	img, _, err := image.Decode(br)
	if err != nil {
		return nil, None, fmt.Errorf("texture: decode %v: %w", f, err)
	}
	return img, f, nil
}

// Open decodes the named image file.
func Open(filename string) (image.Image, Formats, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, None, err
	}
	defer file.Close()
	return Read(file)
}

// OpenFS decodes the named image file of fsys.
func OpenFS(fsys fs.FS, filename string) (image.Image, Formats, error) {
	file, err := fsys.Open(filename)
	if err != nil {
		return nil, None, err
	}
	defer file.Close()
	return Read(file)
}

// ToRGBA returns the image as non-premultiplied 8 bit RGBA with its
// origin at zero, converting it if needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// MipLevels returns the number of levels of a full mip chain
// for the given size, down to 1x1.
func MipLevels(width, height int) int {
	n := 1
	for width > 1 || height > 1 {
		width, height = max(width/2, 1), max(height/2, 1)
		n++
	}
	return n
}

// MipChain returns the image followed by successively halved copies of
// it, down to 1x1. Each level is at least one texel on each side.
func MipChain(img *image.RGBA) []*image.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	chain := []*image.RGBA{img}
	for l := 1; l < MipLevels(w, h); l++ {
		lw, lh := max(w>>l, 1), max(h>>l, 1)
		chain = append(chain, ToRGBA(transform.Resize(chain[l-1], lw, lh, transform.Linear)))
	}
	return chain
}
