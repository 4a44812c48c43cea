package model

import (
	"bytes"
	"encoding/gob"

	"github.com/miniort/miniort/shapes"
	"github.com/pkg/errors"
)

// Serialize encodes the model to a byte buffer, the form a session is created from.
func (m *Model) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := m.GobSerialize(encoder); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a model previously encoded with Serialize.
func Deserialize(data []byte) (*Model, error) {
	decoder := gob.NewDecoder(bytes.NewReader(data))
	return GobDeserialize(decoder)
}

// GobSerialize model in binary format.
func (m *Model) GobSerialize(encoder *gob.Encoder) (err error) {
	enc := func(e any) {
		if err != nil {
			return
		}
		err = encoder.Encode(e)
		if err != nil {
			err = errors.Wrapf(err, "failed to serialize Model %q", m.Graph.Name)
		}
	}
	enc(m.IRVersion)
	enc(m.OpsetImports)
	enc(m.Graph.Name)
	err = gobSerializeValueInfos(encoder, m.Graph.Inputs, err)
	err = gobSerializeValueInfos(encoder, m.Graph.Outputs, err)
	enc(m.Graph.Nodes)
	return
}

func gobSerializeValueInfos(encoder *gob.Encoder, valueInfos []ValueInfo, err error) error {
	if err != nil {
		return err
	}
	err = encoder.Encode(len(valueInfos))
	if err != nil {
		return errors.Wrapf(err, "failed to serialize value infos")
	}
	for _, vi := range valueInfos {
		err = encoder.Encode(vi.Name)
		if err != nil {
			return errors.Wrapf(err, "failed to serialize value info %q", vi.Name)
		}
		err = vi.Shape.GobSerialize(encoder)
		if err != nil {
			return err
		}
	}
	return nil
}

// GobDeserialize a Model. Returns a new Model or an error.
func GobDeserialize(decoder *gob.Decoder) (m *Model, err error) {
	dec := func(data any) {
		if err != nil {
			return
		}
		err = decoder.Decode(data)
		if err != nil {
			err = errors.Wrapf(err, "failed to deserialize Model")
		}
	}
	m = &Model{Graph: &Graph{}}
	dec(&m.IRVersion)
	dec(&m.OpsetImports)
	dec(&m.Graph.Name)
	m.Graph.Inputs, err = gobDeserializeValueInfos(decoder, err)
	m.Graph.Outputs, err = gobDeserializeValueInfos(decoder, err)
	dec(&m.Graph.Nodes)
	if err != nil {
		m = nil
	}
	return
}

func gobDeserializeValueInfos(decoder *gob.Decoder, err error) ([]ValueInfo, error) {
	if err != nil {
		return nil, err
	}
	var count int
	err = decoder.Decode(&count)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to deserialize value infos")
	}
	valueInfos := make([]ValueInfo, count)
	for ii := range valueInfos {
		err = decoder.Decode(&valueInfos[ii].Name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to deserialize value info name")
		}
		valueInfos[ii].Shape, err = shapes.GobDeserialize(decoder)
		if err != nil {
			return nil, err
		}
	}
	return valueInfos, nil
}
