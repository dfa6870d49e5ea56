package machine

// region is a contiguous block of RAM starting at base.
type region struct {
	base uint64
	data []byte
}

func (r *region) end() uint64 {
	return r.base + uint64(len(r.data))
}

// holds returns true if [addr, addr+length) lies inside the region.
func (r *region) holds(addr, length uint64) bool {
	end := addr + length
	return end >= addr && addr >= r.base && end <= r.end()
}

// memory is the RAM visible to user programs: one image window and one stack
// per program.
type memory struct {
	images []*region
	stacks []*region
}

func newMemory(cfg Config, numApp int) *memory {
	m := &memory{}
	for id := 0; id < numApp; id++ {
		m.images = append(m.images, &region{
			base: cfg.AppBase + uint64(id)*cfg.AppSizeLimit,
			data: make([]byte, cfg.AppSizeLimit),
		})
		m.stacks = append(m.stacks, &region{
			base: cfg.StackBase + uint64(id)*cfg.UserStackSize,
			data: make([]byte, cfg.UserStackSize),
		})
	}
	return m
}

func (m *memory) find(addr, length uint64) *region {
	for _, set := range [][]*region{m.images, m.stacks} {
		for _, r := range set {
			if r.holds(addr, length) {
				return r
			}
		}
	}
	return nil
}

// read copies length bytes starting at addr. It returns nil if the range is
// not backed by a single region.
func (m *memory) read(addr, length uint64) []byte {
	r := m.find(addr, length)
	if r == nil {
		return nil
	}
	off := addr - r.base
	return append([]byte(nil), r.data[off:off+length]...)
}

// write stores p at addr and returns false if the range is not backed by a
// single region.
func (m *memory) write(addr uint64, p []byte) bool {
	r := m.find(addr, uint64(len(p)))
	if r == nil {
		return false
	}
	copy(r.data[addr-r.base:], p)
	return true
}
