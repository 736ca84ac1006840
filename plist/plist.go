// Package plist decodes the XML property lists emitted by `diskutil
// info -plist` and `diskutil list -plist`. Only the subset of the
// plist format those tools actually produce is implemented: dict,
// array, string, integer, real, boolean and data; binary plist is not
// supported since diskutil is always asked for -plist (XML) output.
//
// No third-party plist module appears anywhere in the example corpus
// this engine was built from; lima-vm-lima's pkg/plist, built on
// stdlib encoding/xml, is the only plist-shaped code in it and is the
// model this package follows.
package plist

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Document is a decoded plist document.
type Document struct {
	Root Value
}

// Value is one plist value; exactly one field is meaningful depending
// on which plist element produced it.
type Value struct {
	Dict    Dict
	Array   Array
	String  *string
	Integer *int64
	Real    *float64
	Boolean *bool
	Data    []byte
}

// Dict is a plist <dict>.
type Dict map[string]Value

// Array is a plist <array>.
type Array []Value

// Decode parses an XML plist document from r.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode plist: %w", err)
	}
	return &doc, nil
}

func (d *Document) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v Value
			if err := dec.DecodeElement(&v, &t); err != nil {
				return err
			}
			d.Root = v
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return nil
			}
		}
	}
}

func (v *Value) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	switch start.Name.Local {
	case "array":
		var arr Array
		if err := dec.DecodeElement(&arr, &start); err != nil {
			return err
		}
		v.Array = arr
		return nil
	case "dict":
		var sub Dict
		if err := dec.DecodeElement(&sub, &start); err != nil {
			return err
		}
		v.Dict = sub
		return nil
	case "string":
		var txt string
		if err := dec.DecodeElement(&txt, &start); err != nil {
			return err
		}
		v.String = &txt
		return nil
	case "integer":
		var txt string
		if err := dec.DecodeElement(&txt, &start); err != nil {
			return err
		}
		i, err := strconv.ParseInt(strings.TrimSpace(txt), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		v.Integer = &i
		return nil
	case "real":
		var txt string
		if err := dec.DecodeElement(&txt, &start); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(txt), 64)
		if err != nil {
			return fmt.Errorf("invalid real value: %w", err)
		}
		v.Real = &f
		return nil
	case "true":
		b := true
		v.Boolean = &b
		return dec.Skip()
	case "false":
		b := false
		v.Boolean = &b
		return dec.Skip()
	case "data":
		var txt string
		if err := dec.DecodeElement(&txt, &start); err != nil {
			return err
		}
		b64 := strings.Join(strings.Fields(txt), "")
		db, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return fmt.Errorf("invalid base64 data: %w", err)
		}
		v.Data = db
		return nil
	default:
		return fmt.Errorf("unsupported plist type: %s", start.Name.Local)
	}
}

func (a *Array) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	vals := Array{}
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				*a = vals
				return nil
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v Value
			if err := dec.DecodeElement(&v, &t); err != nil {
				return err
			}
			vals = append(vals, v)
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				*a = vals
				return nil
			}
		}
	}
}

func (d *Dict) UnmarshalXML(dec *xml.Decoder, start xml.StartElement) error {
	*d = make(Dict)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "key" {
				return fmt.Errorf("expected <key> element, got <%s>", t.Name.Local)
			}
			var key string
			if err := dec.DecodeElement(&key, &t); err != nil {
				return err
			}
			var vs xml.StartElement
			for {
				vt, err := dec.Token()
				if err != nil {
					return err
				}
				if se, ok := vt.(xml.StartElement); ok {
					vs = se
					break
				}
			}
			var v Value
			if err := dec.DecodeElement(&v, &vs); err != nil {
				return err
			}
			(*d)[key] = v
		case xml.EndElement:
			if t.Name.Local == start.Name.Local {
				return nil
			}
		}
	}
}

// String returns the value at key as a string, if present and of
// string type.
func (d Dict) String(key string) (string, bool) {
	v, ok := d[key]
	if !ok || v.String == nil {
		return "", false
	}
	return *v.String, true
}

// UnsignedInteger returns the value at key as a non-negative integer,
// if present and of integer type. Plist integers decode as signed
// int64; values produced by diskutil for sizes/offsets are always
// non-negative.
func (d Dict) UnsignedInteger(key string) (uint64, bool) {
	v, ok := d[key]
	if !ok || v.Integer == nil || *v.Integer < 0 {
		return 0, false
	}
	return uint64(*v.Integer), true
}

// FirstUnsignedInteger tries each key in order and returns the first
// one present, implementing the schema-variant fallback lists spec'd
// for the metadata reader (e.g. VolumeUsedSpace | UsedSpace |
// VolumeAllocatedSpace).
func (d Dict) FirstUnsignedInteger(keys ...string) (uint64, bool) {
	for _, k := range keys {
		if v, ok := d.UnsignedInteger(k); ok {
			return v, true
		}
	}
	return 0, false
}

// FirstString tries each key in order and returns the first one
// present.
func (d Dict) FirstString(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := d.String(k); ok {
			return v, true
		}
	}
	return "", false
}

// Array returns the value at key as an array, if present.
func (d Dict) Array(key string) (Array, bool) {
	v, ok := d[key]
	if !ok || v.Array == nil {
		return nil, false
	}
	return v.Array, true
}

// FirstArray tries each key in order and returns the first array
// present.
func (d Dict) FirstArray(keys ...string) (Array, bool) {
	for _, k := range keys {
		if v, ok := d[k]; ok && v.Array != nil {
			return v.Array, true
		}
	}
	return nil, false
}

// StringSlice returns the elements of a string array, skipping any
// non-string entries.
func (a Array) StringSlice() []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		if v.String != nil {
			out = append(out, *v.String)
		}
	}
	return out
}
