package serializer

import (
	"github.com/saiset-co/sai-cache/types"
)

var customSerializerCreators = make(map[string]types.SerializerCreator)

func RegisterSerializer(serializerName string, creator types.SerializerCreator) {
	customSerializerCreators[serializerName] = creator
}

// NewSerializer builds the codec selected by config, wrapping it with
// transparent compression when enabled.
func NewSerializer(config *types.SerializerConfig) (types.Serializer, error) {
	serializerName := "json"
	if config != nil && config.Type != "" {
		serializerName = config.Type
	}

	var impl types.Serializer

	switch serializerName {
	case "json":
		impl = NewJSONSerializer()
	default:
		creator, exists := customSerializerCreators[serializerName]
		if !exists {
			return nil, types.Errorf(types.ErrSerializerTypeUnknown, "type: %s", serializerName)
		}

		var creatorConfig interface{}
		if config != nil {
			creatorConfig = config.Config
		}

		created, err := creator(creatorConfig)
		if err != nil {
			return nil, err
		}
		impl = created
	}

	if config != nil && config.Compression != nil && config.Compression.Enabled {
		impl = NewCompressingSerializer(impl, config.Compression)
	}

	return impl, nil
}
