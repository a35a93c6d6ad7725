package chunking

import "fmt"

// Config carries the tunable size parameters from the configuration
// surface: default length-bounded splitting, and the section-aware
// splitting thresholds for oversized sections.
type Config struct {
	ChunkSizeDefault       int `yaml:"chunk_size_default"`
	ChunkOverlapDefault    int `yaml:"chunk_overlap_default"`
	SectionSplitThreshold  int `yaml:"section_split_threshold"`
	SectionSplitSize       int `yaml:"section_split_size"`
	SectionSplitOverlap    int `yaml:"section_split_overlap"`
}

// DefaultConfig returns the numeric defaults named in the configuration
// surface: 1000/200 fallback splitting, 1200-char section threshold,
// 800/150 oversized-section splitting.
func DefaultConfig() Config {
	return Config{
		ChunkSizeDefault:      1000,
		ChunkOverlapDefault:   200,
		SectionSplitThreshold: 1200,
		SectionSplitSize:      800,
		SectionSplitOverlap:   150,
	}
}

// SetDefaults fills any zero-valued fields with the package defaults.
func (c *Config) SetDefaults() {
	d := DefaultConfig()
	if c.ChunkSizeDefault == 0 {
		c.ChunkSizeDefault = d.ChunkSizeDefault
	}
	if c.ChunkOverlapDefault == 0 {
		c.ChunkOverlapDefault = d.ChunkOverlapDefault
	}
	if c.SectionSplitThreshold == 0 {
		c.SectionSplitThreshold = d.SectionSplitThreshold
	}
	if c.SectionSplitSize == 0 {
		c.SectionSplitSize = d.SectionSplitSize
	}
	if c.SectionSplitOverlap == 0 {
		c.SectionSplitOverlap = d.SectionSplitOverlap
	}
}

// Validate enforces that overlaps stay below their target sizes (with a
// larger overlap the splitter would advance only one character per
// piece) and that the section split size stays below the split threshold.
func (c Config) Validate() error {
	if c.ChunkOverlapDefault >= c.ChunkSizeDefault {
		return fmt.Errorf("chunk_overlap_default (%d) must be less than chunk_size_default (%d)", c.ChunkOverlapDefault, c.ChunkSizeDefault)
	}
	if c.SectionSplitOverlap >= c.SectionSplitSize {
		return fmt.Errorf("section_split_overlap (%d) must be less than section_split_size (%d)", c.SectionSplitOverlap, c.SectionSplitSize)
	}
	if c.SectionSplitSize >= c.SectionSplitThreshold {
		return fmt.Errorf("section_split_size (%d) must be less than section_split_threshold (%d)", c.SectionSplitSize, c.SectionSplitThreshold)
	}
	return nil
}
