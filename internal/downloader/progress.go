package downloader

import "sync/atomic"

type progress struct {
	n        atomic.Int64
	total    int64
	reporter ProgressReporter
}

func (d *downloader) newProgress(total, start int64) *progress {
	p := &progress{total: total, reporter: d.progress}
	p.n.Store(start)
	if p.reporter != nil {
		p.reporter.OnProgress(start, total)
	}
	return p
}

func (p *progress) add(n int64) {
	v := p.n.Add(n)
	if p.reporter != nil {
		p.reporter.OnProgress(v, p.total)
	}
}

func (p *progress) set(v int64) {
	p.n.Store(v)
	if p.reporter != nil {
		p.reporter.OnProgress(v, p.total)
	}
}

func (p *progress) written() int64 {
	return p.n.Load()
}
