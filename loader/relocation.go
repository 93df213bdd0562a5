package loader

type Relocation interface {
	rel()
}

// RelocationValue stores base+Value at base+Addr.
type RelocationValue struct {
	Addr, Size, Value uint64
}

// RelocationImport stores the address of Symbol plus Addend at base+Addr.
// Weak imports resolve to zero when no provider exists.
type RelocationImport struct {
	Addr, Size      uint64
	Addend          uint64
	Symbol, Library string
	Weak            bool
}

func (*RelocationValue) rel()  {}
func (*RelocationImport) rel() {}
