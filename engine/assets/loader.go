package assets

import "github.com/spaghettifunk/framepace/engine/renderer/metadata"

type Loader interface {
	// `interface{}` here allows loaders to take type specific parameters
	Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}
