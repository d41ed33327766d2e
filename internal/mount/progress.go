package mount

// Progress is the latest state of one mount worker.
type Progress struct {
	Done     int
	Total    int
	Complete bool
	// Err is the terminal failure message; empty while healthy.
	Err string
}

func initialProgress() Progress {
	return Progress{Done: 0, Total: 100}
}

// Failed reports whether the worker published a failure.
func (p Progress) Failed() bool { return p.Err != "" }

// advances reports whether next may follow p in one worker's stream.
// Neither the byte count nor the fraction may fall, even when the reported
// total changes mid-transfer.
func (p Progress) advances(next Progress) bool {
	if next.Total <= 0 {
		return false
	}
	return next.Done >= p.Done && next.Percentage() >= p.Percentage()
}

// Percentage returns Done/Total in the range [0, 1].
func (p Progress) Percentage() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Done) / float64(p.Total)
	switch {
	case pct < 0:
		return 0
	case pct > 1:
		return 1
	}
	return pct
}
