//go:build !native

package modeladapter

import (
	"fmt"

	"tokenforge/internal/token"
)

// NewNative reports that this binary was built without the "native" tag.
// Build with `-tags native` (and a reachable llama.cpp checkout) to get a
// real Adapter backed by internal/native.
func NewNative(modelPath string) (token.Adapter, error) {
	return nil, fmt.Errorf("modeladapter: native backend unavailable: binary built without -tags native")
}
