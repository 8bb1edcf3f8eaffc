package push

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype frames are sent with.
const CodecName = "cbor"

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("push: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
	encoding.RegisterCodec(codec{})
}

// codec marshals stream messages as canonical CBOR.
type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) {
	return cborEncMode.Marshal(v)
}

func (codec) Unmarshal(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("push: unmarshal: %w", err)
	}
	return nil
}

func (codec) Name() string {
	return CodecName
}
