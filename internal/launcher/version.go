package launcher

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	"github.com/wnxd/mcpehost/debugger"
	"github.com/wnxd/mcpehost/internal/patch"
)

var versionSymbols = [...]string{
	"_ZN15SharedConstants12MajorVersionE",
	"_ZN15SharedConstants12MinorVersionE",
	"_ZN15SharedConstants12PatchVersionE",
	"_ZN15SharedConstants15RevisionVersionE",
}

// Releases whose textures need rewriting to render correctly.
var texturePatchRange, _ = version.NewConstraint(">= 1.16.210, < 1.18")

// GameVersion reads the game version out of SharedConstants. Each
// component is a pointer to an int.
func GameVersion(dbg debugger.Debugger, lib patch.Library) (*version.Version, error) {
	var parts [len(versionSymbols)]uint32
	for i, sym := range versionSymbols {
		addr, err := lib.FindSymbol(sym)
		if err != nil || addr == 0 {
			if i == len(versionSymbols)-1 {
				break
			}
			return nil, errors.Wrap(patch.ErrSymbolMissing, sym)
		}
		ptr, err := dbg.ToPointer(addr).MemReadPointer()
		if err != nil {
			return nil, errors.Wrap(err, sym)
		}
		if parts[i], err = ptr.MemReadUint32(); err != nil {
			return nil, errors.Wrap(err, sym)
		}
	}
	return version.NewVersion(fmt.Sprintf("%d.%d.%d.%d", parts[0], parts[1], parts[2], parts[3]))
}

// NeedsTexturePatch reports whether v is a release the texture patch
// exists for.
func NeedsTexturePatch(v *version.Version) bool {
	return v != nil && texturePatchRange.Check(v)
}
