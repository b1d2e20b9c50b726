// Package serde encodes values as JSON for the command line output.
package serde

import (
	"sync"

	"github.com/ugorji/go/codec"
)

// resolver holds a reusable encoder.
type resolver struct {
	jsonEncoder *codec.Encoder
	jsonHandle  codec.JsonHandle

	jsonData []byte

	jsonMu sync.Mutex
}

var output resolver

func init() {
	output.jsonHandle = codec.JsonHandle{}
	output.jsonHandle.Indent = 2
	output.jsonHandle.HTMLCharsAsIs = true
	output.jsonHandle.TypeInfos = codec.NewTypeInfos([]string{"json"})

	output.jsonData = make([]byte, 0, 4096)
	output.jsonEncoder = codec.NewEncoderBytes(&output.jsonData, &output.jsonHandle)
}

// MarshalJson encodes v as indented JSON.
func MarshalJson[T any](v T) ([]byte, error) {
	output.jsonMu.Lock()
	defer output.jsonMu.Unlock()

	output.jsonData = output.jsonData[:0]
	output.jsonEncoder.ResetBytes(&output.jsonData)

	if err := output.jsonEncoder.Encode(v); err != nil {
		return nil, err
	}

	return append([]byte(nil), output.jsonData...), nil
}
