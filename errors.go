package pdfviewport

import "errors"

// Error kinds returned by the render pipeline (spec §7). Each is a sentinel
// value; callers should compare with errors.Is or the matching Is* helper.
var (
	// ErrInvalidPath is returned when a document path is empty or malformed.
	ErrInvalidPath = errors.New("pdfviewport: invalid path")
	// ErrDecodeFailure is returned when the rasterizer cannot open a document.
	ErrDecodeFailure = errors.New("pdfviewport: failed to decode document")
	// ErrPageOutOfRange is returned when a page number is not present in the document.
	ErrPageOutOfRange = errors.New("pdfviewport: page out of range")
	// ErrRasterizeFailure is returned when rendering a page fails inside the executor.
	ErrRasterizeFailure = errors.New("pdfviewport: rasterize failure")
	// ErrBufferAttachFailure is returned when a named shared buffer cannot be attached.
	ErrBufferAttachFailure = errors.New("pdfviewport: buffer attach failure")
	// ErrQueueClosed is returned when a request is submitted after shutdown.
	ErrQueueClosed = errors.New("pdfviewport: queue closed")
)

// IsInvalidPath reports whether err is (or wraps) ErrInvalidPath.
func IsInvalidPath(err error) bool { return errors.Is(err, ErrInvalidPath) }

// IsDecodeFailure reports whether err is (or wraps) ErrDecodeFailure.
func IsDecodeFailure(err error) bool { return errors.Is(err, ErrDecodeFailure) }

// IsPageOutOfRange reports whether err is (or wraps) ErrPageOutOfRange.
func IsPageOutOfRange(err error) bool { return errors.Is(err, ErrPageOutOfRange) }

// IsRasterizeFailure reports whether err is (or wraps) ErrRasterizeFailure.
func IsRasterizeFailure(err error) bool { return errors.Is(err, ErrRasterizeFailure) }

// IsBufferAttachFailure reports whether err is (or wraps) ErrBufferAttachFailure.
func IsBufferAttachFailure(err error) bool { return errors.Is(err, ErrBufferAttachFailure) }

// IsQueueClosed reports whether err is (or wraps) ErrQueueClosed.
func IsQueueClosed(err error) bool { return errors.Is(err, ErrQueueClosed) }
