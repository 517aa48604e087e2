package shardbench

import (
	"time"
)

// ProgressObserver receives advisory progress updates, it must not block for long
// and nothing it does affects the outcome of the operation reporting to it
type ProgressObserver interface {
	Progress(phase string, completed, total int, elapsed time.Duration)
}

// ProgressFunc adapts a plain function to ProgressObserver
type ProgressFunc func(phase string, completed, total int, elapsed time.Duration)

func (f ProgressFunc) Progress(phase string, completed, total int, elapsed time.Duration) {
	f(phase, completed, total, elapsed)
}

// Notify is a nil safe call to o.Progress
func Notify(o ProgressObserver, phase string, completed, total int, elapsed time.Duration) {
	if o == nil {
		return
	}
	o.Progress(phase, completed, total, elapsed)
}
