package imageio

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// IDX magic numbers for unsigned byte images and labels.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

// ReadIDXImages reads an IDX image file, as used by MNIST, and returns
// one [1, rows, cols, 1] float32 tensor per image. Pixel bytes are
// multiplied by scale; zero means 1. At most limit images are read when
// limit is positive.
func ReadIDXImages(r io.Reader, scale float32, limit int) ([]*tensor.Tensor, error) {
	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading idx image header")
	}
	magic, count, rows, cols := header[0], int(header[1]), int(header[2]), int(header[3])
	if magic != idxImagesMagic {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "idx images: magic %d, want %d", magic, idxImagesMagic)
	}
	if rows == 0 || cols == 0 {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "idx images: empty %dx%d image", rows, cols)
	}
	if limit > 0 && count > limit {
		count = limit
	}
	if scale == 0 {
		scale = 1
	}
	shape, err := tensor.NewShape(1, rows, cols, 1)
	if err != nil {
		return nil, errors.Wrap(err, "idx images")
	}

	// The header is not trusted: buffers grow with the bytes actually read.
	var images []*tensor.Tensor
	var buf []byte
	for i := 0; i < count; i++ {
		if buf == nil {
			buf, err = readExactly(r, shape.NumElements())
		} else {
			_, err = io.ReadFull(r, buf)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading idx image %d", i)
		}
		values := make([]float32, len(buf))
		for j, b := range buf {
			values[j] = float32(b) * scale
		}
		t, err := tensor.Make(values, shape)
		if err != nil {
			return nil, err
		}
		images = append(images, t)
	}
	return images, nil
}

// ReadIDXLabels reads an IDX label file. At most limit labels are read
// when limit is positive.
func ReadIDXLabels(r io.Reader, limit int) ([]int, error) {
	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "reading idx label header")
	}
	if header[0] != idxLabelsMagic {
		return nil, errors.Wrapf(tensor.ErrInvalidArgument, "idx labels: magic %d, want %d", header[0], idxLabelsMagic)
	}
	count := int(header[1])
	if limit > 0 && count > limit {
		count = limit
	}
	raw, err := readExactly(r, count)
	if err != nil {
		return nil, errors.Wrap(err, "reading idx labels")
	}
	labels := make([]int, count)
	for i, b := range raw {
		labels[i] = int(b)
	}
	return labels, nil
}

// readExactly reads n bytes without allocating them up front.
func readExactly(r io.Reader, n int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if len(data) < n {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}
