package mem

import "testing"

func TestSizeString(t *testing.T) {
	specs := []struct {
		size Size
		exp  string
	}{
		{0, "0B"},
		{12 * Byte, "12B"},
		{1023 * Byte, "1023B"},
		{8 * Kb, "8K"},
		{128 * Kb, "128K"},
		{1536 * Kb, "1536K"},
		{2 * Mb, "2M"},
		{4 * Gb, "4G"},
	}

	for specIndex, spec := range specs {
		if got := spec.size.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestSizeAlign(t *testing.T) {
	specs := []struct {
		size       Size
		align      Size
		expUp      Size
		expAligned bool
	}{
		{0, WordSize, 0, true},
		{1, WordSize, 8, false},
		{8, WordSize, 8, true},
		{13, WordSize, 16, false},
		{4097, 4 * Kb, 8 * Kb, false},
		{8 * Kb, 4 * Kb, 8 * Kb, true},
	}

	for specIndex, spec := range specs {
		if got := spec.size.AlignUp(spec.align); got != spec.expUp {
			t.Errorf("[spec %d] expected AlignUp(%d, %d) to equal %d; got %d", specIndex, spec.size, spec.align, spec.expUp, got)
		}
		if got := spec.size.IsAligned(spec.align); got != spec.expAligned {
			t.Errorf("[spec %d] expected IsAligned(%d, %d) to return %t; got %t", specIndex, spec.size, spec.align, spec.expAligned, got)
		}
	}
}
