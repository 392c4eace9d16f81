package money

import (
	"fmt"
	"sync"
)

// Asset represents a currency or token with its properties.
type Asset struct {
	Code     string // Asset code (EUR, SOL)
	Decimals uint8  // Number of decimal places (2 for EUR cents, 9 for SOL lamports)
	Type     AssetType
}

// AssetType categorizes the asset.
type AssetType int

const (
	AssetTypeFiat AssetType = iota // Fiat currency (EUR)
	AssetTypeNative                // Native chain asset (SOL)
)

// Global asset registry with concurrent access protection.
var (
	assetRegistry = map[string]Asset{
		"EUR": {
			Code:     "EUR",
			Decimals: 2, // cents
			Type:     AssetTypeFiat,
		},
		"SOL": {
			Code:     "SOL",
			Decimals: 9, // lamports
			Type:     AssetTypeNative,
		},
	}
	assetRegistryMu sync.RWMutex
)

// GetAsset retrieves an asset from the registry.
func GetAsset(code string) (Asset, error) {
	assetRegistryMu.RLock()
	asset, ok := assetRegistry[code]
	assetRegistryMu.RUnlock()

	if !ok {
		return Asset{}, fmt.Errorf("money: unknown asset: %s", code)
	}
	return asset, nil
}

// MustGetAsset retrieves an asset and panics if not found (for tests/constants).
func MustGetAsset(code string) Asset {
	asset, err := GetAsset(code)
	if err != nil {
		panic(err)
	}
	return asset
}

// RegisterAsset adds a new asset to the registry (for testing).
func RegisterAsset(asset Asset) error {
	if asset.Code == "" {
		return fmt.Errorf("money: asset code required")
	}
	if asset.Decimals > 18 {
		return fmt.Errorf("money: decimals must be <= 18")
	}

	assetRegistryMu.Lock()
	assetRegistry[asset.Code] = asset
	assetRegistryMu.Unlock()

	return nil
}

// ListAssets returns all registered assets.
func ListAssets() []Asset {
	assetRegistryMu.RLock()
	assets := make([]Asset, 0, len(assetRegistry))
	for _, asset := range assetRegistry {
		assets = append(assets, asset)
	}
	assetRegistryMu.RUnlock()

	return assets
}

// IsFiat returns true if the asset is a fiat currency.
func (a Asset) IsFiat() bool {
	return a.Type == AssetTypeFiat
}

// IsNative returns true if the asset is a native chain asset.
func (a Asset) IsNative() bool {
	return a.Type == AssetTypeNative
}
