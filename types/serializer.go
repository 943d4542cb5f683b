package types

type Serializer interface {
	Marshal(value interface{}) ([]byte, error)
	Unmarshal(data []byte, target interface{}) error
	ContentType() string
}

type SerializerCreator func(config interface{}) (Serializer, error)
