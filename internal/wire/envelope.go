// Package wire encodes and decodes the JSON envelopes exchanged with the session relay.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/and161185/collabify/internal/model"
)

// Envelope types as they appear on the wire.
const (
	TypeContent     = "content"
	TypeUserData    = "user-data"
	TypeUserAdded   = "user-added"
	TypeUserRemoved = "user-removed"
)

// Envelope is one typed message. The concrete type is one of Content,
// UserData, UserAdded, UserRemoved or Unknown.
type Envelope interface {
	Type() string
	isEnvelope()
}

// Content carries a full-content replacement and the sender's pointer.
type Content struct {
	Content  string             `json:"content"`
	Position model.Position     `json:"position"`
	UserData model.UserIdentity `json:"userData"`
}

// UserData assigns the receiving client its identity.
type UserData struct {
	UserData model.UserIdentity `json:"userData"`
}

// UserAdded announces a participant joining the session.
type UserAdded struct {
	UserData model.UserIdentity `json:"userData"`
}

// UserRemoved announces a participant leaving the session.
type UserRemoved struct {
	UserData model.UserIdentity `json:"userData"`
}

// Unknown preserves an envelope of a type this client does not understand.
type Unknown struct {
	Kind string
	Data json.RawMessage
}

func (Content) Type() string     { return TypeContent }
func (UserData) Type() string    { return TypeUserData }
func (UserAdded) Type() string   { return TypeUserAdded }
func (UserRemoved) Type() string { return TypeUserRemoved }
func (u Unknown) Type() string   { return u.Kind }

func (Content) isEnvelope()     {}
func (UserData) isEnvelope()    {}
func (UserAdded) isEnvelope()   {}
func (UserRemoved) isEnvelope() {}
func (Unknown) isEnvelope()     {}

// ContentFromEdit builds the outbound content envelope for a local edit.
func ContentFromEdit(e model.OutboundEdit) Content {
	return Content{Content: e.Content, Position: e.Position, UserData: e.UserData}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an envelope as {"type": ..., "data": ...}.
func Encode(env Envelope) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch e := env.(type) {
	case Unknown:
		data = e.Data
	case nil:
		return nil, fmt.Errorf("encode: nil envelope")
	default:
		data, err = json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", env.Type(), err)
		}
	}
	return json.Marshal(frame{Type: env.Type(), Data: data})
}
