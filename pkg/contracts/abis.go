package contracts

import (
	"bytes"
	"embed"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/thusd-labs/thusd-go/pkg/deployments"
)

//go:embed abi/*.json
var abiFiles embed.FS

// MulticallKey names the Multicall3 ABI, which is not part of a deployment.
const MulticallKey deployments.ContractKey = "multicall"

// ABIs maps contract keys to parsed ABI documents.
type ABIs map[deployments.ContractKey]*abi.ABI

var (
	defaultABIsOnce sync.Once
	defaultABIs     ABIs
	defaultABIsErr  error
)

// DefaultABIs returns the ABI documents bundled with the client, keyed by contract key,
// including the Multicall3 ABI under MulticallKey.
func DefaultABIs() (ABIs, error) {
	defaultABIsOnce.Do(func() {
		keys := append([]deployments.ContractKey{MulticallKey}, deployments.RequiredContractKeys...)
		out := make(ABIs, len(keys))
		for _, key := range keys {
			content, err := abiFiles.ReadFile("abi/" + string(key) + ".json")
			if err != nil {
				defaultABIsErr = fmt.Errorf("missing bundled ABI for %s: %w", key, err)
				return
			}
			parsed, err := ParseABI(content)
			if err != nil {
				defaultABIsErr = fmt.Errorf("failed to parse bundled ABI for %s: %w", key, err)
				return
			}
			out[key] = parsed
		}
		defaultABIs = out
	})
	return defaultABIs, defaultABIsErr
}

// MustDefaultABIs is DefaultABIs for callers that cannot continue without the bundled ABIs.
func MustDefaultABIs() ABIs {
	abis, err := DefaultABIs()
	if err != nil {
		panic(err)
	}
	return abis
}

// ParseABI parses one JSON ABI document.
func ParseABI(content []byte) (*abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
