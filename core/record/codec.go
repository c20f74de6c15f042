package record

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Encode converts a json-tagged struct (or map) into a Document.
// The reserved id and timestamp keys are dropped: the store owns them.
func Encode(v interface{}) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling document")
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshalling document")
	}
	if doc == nil {
		return nil, errors.Errorf("cannot encode %T as a document", v)
	}
	delete(doc, FieldID)
	delete(doc, FieldCreatedAt)
	delete(doc, FieldUpdatedAt)
	return doc, nil
}

// MustEncode is Encode for values known to be encodable, such as literal maps.
func MustEncode(v interface{}) Document {
	doc, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return doc
}

// NormalizeDocument returns a JSON-normalised copy of doc, without the reserved keys.
func NormalizeDocument(doc Document) (Document, error) {
	if doc == nil {
		return Document{}, nil
	}
	return Encode(doc)
}

// Decode fills the json-tagged struct pointed to by v from rec, including its id and timestamps.
func Decode(rec Record, v interface{}) error {
	doc := make(Document, len(rec.Data)+3)
	for k, val := range rec.Data {
		doc[k] = val
	}
	doc[FieldID] = rec.ID
	if !rec.CreatedAt.IsZero() {
		doc[FieldCreatedAt] = rec.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if !rec.UpdatedAt.IsZero() {
		doc[FieldUpdatedAt] = rec.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshalling record")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrapf(err, "decoding record %q", rec.ID)
	}
	return nil
}
