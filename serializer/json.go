package serializer

import (
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// JSONSerializer is the default value codec.
type JSONSerializer struct{}

func NewJSONSerializer() types.Serializer {
	return &JSONSerializer{}
}

func (s *JSONSerializer) Marshal(value interface{}) ([]byte, error) {
	data, err := utils.Marshal(value)
	if err != nil {
		return nil, types.Errorf(types.ErrSerializationFailed, "%v", err)
	}
	return data, nil
}

func (s *JSONSerializer) Unmarshal(data []byte, target interface{}) error {
	if err := utils.UnmarshalAny(data, target); err != nil {
		return types.Errorf(types.ErrDeserializationFailed, "%v", err)
	}
	return nil
}

func (s *JSONSerializer) ContentType() string {
	return "application/json"
}
