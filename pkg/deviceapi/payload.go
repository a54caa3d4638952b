package deviceapi

import (
	"encoding/json"
	"fmt"

	"github.com/benmeehan/iot-provisioner/pkg/signing"
)

// Payload is a request body together with the content type it is signed
// and sent as.
type Payload interface {
	ContentType() string
	Bytes() ([]byte, error)
}

type jsonPayload struct{ value any }

// JSONPayload serializes v with encoding/json. The serialized bytes are
// what the Content-Md5 checksum covers.
func JSONPayload(v any) Payload { return jsonPayload{value: v} }

func (p jsonPayload) ContentType() string { return signing.ContentTypeJSON }

func (p jsonPayload) Bytes() ([]byte, error) {
	data, err := json.Marshal(p.value)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	return data, nil
}

type binaryPayload []byte

// BinaryPayload sends data verbatim as application/octet-stream.
func BinaryPayload(data []byte) Payload { return binaryPayload(data) }

func (p binaryPayload) ContentType() string { return signing.ContentTypeBinary }

func (p binaryPayload) Bytes() ([]byte, error) { return p, nil }
