package machine

import (
	"errors"
	"fmt"
	"io"
)

// ImageChunk is the read size used when copying a guest image.
const ImageChunk = 4096

// LoadImage copies a raw image from r into guest memory at off, chunk by
// chunk, until EOF. An image that does not fit fails with ErrImageLoad
// instead of being truncated.
func LoadImage(mem *GuestMemory, r io.Reader, off uint64) (int, error) {
	buf := make([]byte, ImageChunk)
	total := 0
	for {
		n, err := r.Read(buf)
		if n > 0 {
			at := off + uint64(total)
			if _, werr := mem.WriteAt(buf[:n], int64(at)); werr != nil {
				return total, fmt.Errorf("image chunk at %#x: %w", at, errors.Join(ErrImageLoad, werr))
			}
			total += n
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, fmt.Errorf("read image: %w", errors.Join(ErrImageLoad, err))
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("image is 0 bytes: %w", ErrImageLoad)
	}
	return total, nil
}
