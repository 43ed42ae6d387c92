package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/kaanbt/pazar/internal/store"
)

// The feed is produced by the marketplace's SQLite-backed server, which is
// loose about scalar types: ids arrive as strings but were once numbers,
// product_id is a number, and read is 0/1 rather than a bool. The wire types
// below accept every shape observed in the wild.

type wireMessage struct {
	ID        flexString `json:"id"`
	Sender    string     `json:"sender"`
	Receiver  string     `json:"receiver"`
	ProductID flexInt64  `json:"product_id"`
	Message   string     `json:"message"`
	FilePath  *string    `json:"file_path"`
	CreatedAt string     `json:"created_at"`
	Read      flexBool   `json:"read"`
}

func (w *wireMessage) toMessage() store.Message {
	m := store.Message{
		ID:        string(w.ID),
		Sender:    w.Sender,
		Receiver:  w.Receiver,
		ProductID: int64(w.ProductID),
		Body:      w.Message,
		CreatedAt: w.CreatedAt,
		Read:      bool(w.Read),
	}
	if w.FilePath != nil {
		m.FilePath = *w.FilePath
	}
	return m
}

// flexString decodes a JSON string or number into a string.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// flexInt64 decodes a JSON number or numeric string into an int64.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("parse product_id: %w", err)
	}
	*f = flexInt64(n)
	return nil
}

// flexBool decodes a JSON bool or 0/1 number into a bool.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1":
		*f = true
	case "false", "0", "null":
		*f = false
	default:
		return fmt.Errorf("read flag %q is neither bool nor 0/1", data)
	}
	return nil
}
