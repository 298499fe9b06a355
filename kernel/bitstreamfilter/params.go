// params.go provides bitstream filter parameters and the getter interface.

package bitstreamfilter

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaionaro-go/avloop/packet"
)

type Params struct {
	Name          Name
	SkipOnFailure bool
}

type GetChainParamser interface {
	fmt.Stringer

	// Note: "nil" skips initialization of bitstream filter for this stream on this packet,
	//       if you need to just not create filters for a stream at all, then return an empty slice instead.
	GetChainParams(context.Context, packet.Input) []Params
}

// ParseChain parses a comma-separated list of filter names. A name with
// the "?" suffix is skipped on failures instead of failing the stream.
func ParseChain(s string) ([]Params, error) {
	var result []Params
	for _, word := range strings.Split(s, ",") {
		word = strings.TrimSpace(word)
		if word == "" {
			continue
		}
		params := Params{Name: Name(strings.TrimSuffix(word, "?"))}
		params.SkipOnFailure = len(params.Name) != len(word)
		if !params.Name.Exists() {
			return nil, fmt.Errorf("unknown bitstream filter '%s'", params.Name)
		}
		result = append(result, params)
	}
	return result, nil
}
