package dataset

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	idxImagesMagic = 2051 // 0x00000803
	idxLabelsMagic = 2049 // 0x00000801

	// maxIDXImageSize bounds rows*cols taken from a header.
	maxIDXImageSize = 1 << 20
	// idxPrealloc caps slice capacity reserved from a header count; storage
	// beyond it grows only as data is actually read.
	idxPrealloc = 1 << 16
)

// openIDX opens an IDX file, transparently decompressing *.gz.
func openIDX(filename string) (io.ReadCloser, error) {
	//nolint:gosec // G304: dataset path comes from configuration
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(filename, ".gz") {
		return file, nil
	}
	zr, err := gzip.NewReader(file)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("gzip %s: %w", filename, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{zr, file}, nil
}

// readIDXImages decodes an MNIST image stream.
//
// IDX file format for images:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes (28)
//	number of cols: 4 bytes (28)
//	pixel data: unsigned bytes (0-255)
func readIDXImages(r io.Reader, maxSamples int) ([][]byte, int, error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, fmt.Errorf("failed to read image header: %w", err)
	}
	magic, numImages, numRows, numCols := header[0], int(header[1]), int(header[2]), int(header[3])
	if magic != idxImagesMagic {
		return nil, 0, fmt.Errorf("invalid magic number: got %d, want %d", magic, idxImagesMagic)
	}
	if maxSamples > 0 && numImages > maxSamples {
		numImages = maxSamples
	}

	if numRows <= 0 || numCols <= 0 || numRows > maxIDXImageSize || numCols > maxIDXImageSize ||
		numRows*numCols > maxIDXImageSize {
		return nil, 0, fmt.Errorf("invalid image dimensions %dx%d", numRows, numCols)
	}

	imageSize := numRows * numCols
	images := make([][]byte, 0, min(numImages, idxPrealloc))
	for i := 0; i < numImages; i++ {
		img := make([]byte, imageSize)
		if _, err := io.ReadFull(r, img); err != nil {
			return nil, 0, fmt.Errorf("failed to read image %d: %w", i, err)
		}
		images = append(images, img)
	}
	return images, imageSize, nil
}

// readIDXLabels decodes an MNIST label stream.
//
// IDX file format for labels:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func readIDXLabels(r io.Reader, maxSamples int) ([]byte, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read label header: %w", err)
	}
	if header[0] != idxLabelsMagic {
		return nil, fmt.Errorf("invalid magic number: got %d, want %d", header[0], idxLabelsMagic)
	}
	numLabels := int(header[1])
	if maxSamples > 0 && numLabels > maxSamples {
		numLabels = maxSamples
	}

	labels, err := io.ReadAll(io.LimitReader(r, int64(numLabels)))
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	if len(labels) < numLabels {
		return nil, fmt.Errorf("failed to read labels: got %d of %d: %w", len(labels), numLabels, io.ErrUnexpectedEOF)
	}
	return labels, nil
}

// writeIDXImages encodes images in the layout readIDXImages expects.
func writeIDXImages(w io.Writer, images [][]byte, rows, cols int) error {
	header := [4]uint32{idxImagesMagic, uint32(len(images)), uint32(rows), uint32(cols)}
	if err := binary.Write(w, binary.BigEndian, header); err != nil {
		return err
	}
	for _, img := range images {
		if _, err := w.Write(img); err != nil {
			return err
		}
	}
	return nil
}

// writeIDXLabels encodes labels in the layout readIDXLabels expects.
func writeIDXLabels(w io.Writer, labels []byte) error {
	header := [2]uint32{idxLabelsMagic, uint32(len(labels))}
	if err := binary.Write(w, binary.BigEndian, header); err != nil {
		return err
	}
	_, err := w.Write(labels)
	return err
}
