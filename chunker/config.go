package chunker

import "time"

// Policy holds the chunking and incremental-loading parameters.
type Policy struct {
	LinesPerChunk   int           `yaml:"lines_per_chunk" json:"linesPerChunk"`
	CharsPerChunk   int           `yaml:"chars_per_chunk" json:"charsPerChunk"`
	InitialChunks   int           `yaml:"initial_chunks" json:"initialChunks"`
	ScrollThreshold float64       `yaml:"scroll_threshold" json:"scrollThreshold"` // px from the bottom
	ScrollThrottle  time.Duration `yaml:"scroll_throttle" json:"scrollThrottle"`
}

// DefaultPolicy returns the defaults.
func DefaultPolicy() Policy {
	var p Policy
	p.Defaults()
	return p
}

// Defaults fills zero values.
func (p *Policy) Defaults() {
	if p.LinesPerChunk <= 0 {
		p.LinesPerChunk = 50
	}
	if p.CharsPerChunk <= 0 {
		p.CharsPerChunk = 8000
	}
	if p.InitialChunks <= 0 {
		p.InitialChunks = 2
	}
	if p.ScrollThreshold <= 0 {
		p.ScrollThreshold = 400
	}
	if p.ScrollThrottle <= 0 {
		p.ScrollThrottle = 100 * time.Millisecond
	}
}
