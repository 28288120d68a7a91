package trustee

import (
	"time"

	"github.com/cheggaaa/pb/v3"
)

// progress shows a bar on the terminal, but only for jobs big enough to be worth watching
type progress struct {
	bar *pb.ProgressBar
}

// MaybeProgress returns a progress indicator that only shows for n > 1000
func MaybeProgress(prefix string, n int) *progress {
	mp := &progress{}
	if n > 1000 {
		mp.bar = pb.ProgressBarTemplate(`{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{etime . }}`).New(n)
		mp.bar.Set("prefix", prefix+" ")
		mp.bar.SetRefreshRate(time.Second)
	}
	return mp
}

func (mp *progress) Start() {
	if mp.bar != nil {
		mp.bar.Start()
	}
}

func (mp *progress) Increment() {
	if mp.bar != nil {
		mp.bar.Increment()
	}
}

func (mp *progress) Finish() {
	if mp.bar != nil {
		mp.bar.Finish()
	}
}
