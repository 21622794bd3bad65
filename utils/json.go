package utils

import (
	"bytes"
	"sync"

	"github.com/bytedance/sonic"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

const maxPooledBuffer = 16 * 1024

// Marshal encodes v with sonic through a pooled buffer. The returned slice is
// owned by the caller.
func Marshal(v interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= maxPooledBuffer {
			bufferPool.Put(buf)
		}
	}()

	if err := sonic.ConfigDefault.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}

	out := bytes.TrimRight(buf.Bytes(), "\n")
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

func Unmarshal[T any](data []byte, target *T) error {
	return sonic.ConfigDefault.Unmarshal(data, target)
}

// ToMap flattens a tagged struct into a generic document.
func ToMap(v interface{}) (map[string]interface{}, error) {
	data, err := sonic.ConfigDefault.Marshal(v)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{})
	if err := sonic.ConfigDefault.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// FromMap is the inverse of ToMap.
func FromMap[T any](doc map[string]interface{}, target *T) error {
	data, err := sonic.ConfigDefault.Marshal(doc)
	if err != nil {
		return err
	}
	return sonic.ConfigDefault.Unmarshal(data, target)
}
