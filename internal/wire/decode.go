package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// coalesced is the boundary left behind when the relay writes two objects into one frame.
const coalesced = "}{"

// DecodeError describes one frame or fragment that was dropped.
type DecodeError struct {
	Fragment string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode fragment (%d bytes): %v", len(e.Fragment), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one transport frame into envelopes.
//
// A frame normally holds one JSON object. When it does not parse, Decode
// assumes several objects were concatenated without a delimiter, splits on
// "}{", restores the braces and parses each fragment on its own. Fragments
// that still fail are dropped; the returned error (a join of *DecodeError)
// reports them while every envelope that did parse is returned in order.
func Decode(raw []byte) ([]Envelope, error) {
	env, err := decodeOne(raw)
	if err == nil {
		return []Envelope{env}, nil
	}

	s := string(raw)
	parts := strings.Split(s, coalesced)
	if len(parts) == 1 {
		return nil, &DecodeError{Fragment: s, Err: err}
	}

	var (
		out  []Envelope
		errs []error
	)
	last := len(parts) - 1
	for i, p := range parts {
		switch i {
		case 0:
			p += "}"
		case last:
			p = "{" + p
		default:
			p = "{" + p + "}"
		}
		env, err := decodeOne([]byte(p))
		if err != nil {
			errs = append(errs, &DecodeError{Fragment: p, Err: err})
			continue
		}
		out = append(out, env)
	}
	return out, errors.Join(errs...)
}

func decodeOne(raw []byte) (Envelope, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, errors.New("missing type")
	}

	var (
		env Envelope
		err error
	)
	switch f.Type {
	case TypeContent:
		var c Content
		err = unmarshalData(f.Data, &c)
		env = c
	case TypeUserData:
		var u UserData
		err = unmarshalData(f.Data, &u)
		env = u
	case TypeUserAdded:
		var u UserAdded
		err = unmarshalData(f.Data, &u)
		env = u
	case TypeUserRemoved:
		var u UserRemoved
		err = unmarshalData(f.Data, &u)
		env = u
	default:
		env = Unknown{Kind: f.Type, Data: f.Data}
	}
	if err != nil {
		return nil, fmt.Errorf("%s data: %w", f.Type, err)
	}
	return env, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}
