package ledger

import "encoding/json"

type (
	// Codec turns event values into payload bytes and back
	Codec interface {
		ContentType() string
		Marshal(v any) ([]byte, error)
		Unmarshal(data []byte, v any) error
	}

	// JSONCodec is the default Codec, backed by encoding/json
	JSONCodec struct{}
)

// ContentTypeJSON is the content type tag reported by JSONCodec
const ContentTypeJSON = "application/json"

var _ Codec = JSONCodec{}

func (JSONCodec) ContentType() string {
	return ContentTypeJSON
}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
