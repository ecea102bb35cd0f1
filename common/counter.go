package common

// TraversalCounter is consulted by iteration and prefix deletion. Each step
// of the traversal charges 1 + the length of the traversed stem. When Tick
// returns an error the operation aborts with that error
type TraversalCounter interface {
	Tick(units uint64) error
}

// NopCounter never rejects
type NopCounter struct{}

func (NopCounter) Tick(uint64) error { return nil }

// Collector receives cost information while a mutable trie is frozen into
// its persistent form
type Collector interface {
	AddValue(v []byte)
	AddPath(length int)
	AddChildren(num int)
}

// NopCollector discards all cost information
type NopCollector struct{}

func (NopCollector) AddValue([]byte) {}
func (NopCollector) AddPath(int)     {}
func (NopCollector) AddChildren(int) {}

// SizeCollector accumulates the byte and child counts of a commit
type SizeCollector struct {
	NumValues  int
	ValueBytes int
	PathBytes  int
	Children   int
}

func (c *SizeCollector) AddValue(v []byte) {
	c.NumValues++
	c.ValueBytes += len(v)
}

func (c *SizeCollector) AddPath(length int) {
	c.PathBytes += length
}

func (c *SizeCollector) AddChildren(num int) {
	c.Children += num
}
