package progress

import (
	"io"

	"github.com/cryptdrive/cdrive/internal/cloud"
)

// Reporter is the interface for reporting the progress of a single transfer.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// Callback adapts a Reporter to the fractional callback the upload and download
// orchestrators report through. total is the byte size the fraction is scaled to.
func Callback(r Reporter, total int64) cloud.ProgressCallback {
	if r == nil {
		return nil
	}
	return func(fraction float64) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		r.Update(int64(fraction * float64(total)))
	}
}

// LineWriter is implemented by UIs that can print above their live bars.
type LineWriter interface {
	// Writer returns an io.Writer that safely outputs above the progress bars.
	Writer() io.Writer

	// IsTerminal returns true if output is to a terminal (progress bars are active)
	IsTerminal() bool
}
