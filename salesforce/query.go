package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ben-leadtech/etlkit/frame"
)

type queryResponse struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// Query runs soql through the REST query endpoint and follows every
// nextRecordsUrl. Nested relationship objects are flattened into dotted
// column names (Owner.Name) and the attributes metadata is dropped. Columns
// keep the order of the first record that has them.
func (c *Client) Query(ctx context.Context, soql string) (*frame.Frame, error) {
	path := c.dataPath("/query?q=" + url.QueryEscape(soql))
	f := frame.New()

	for page := 1; path != ""; page++ {
		var resp queryResponse
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			if errors.Is(err, ErrMalformedQuery) {
				c.logger.Error("malformed query", "query", soql, "error", err)
			}
			return nil, fmt.Errorf("salesforce: query: %w", err)
		}

		for i, raw := range resp.Records {
			fields, err := decodeRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("salesforce: query: page %d record %d: %w", page, i, err)
			}
			rec := make(map[string]any, len(fields))
			for _, fld := range fields {
				f.AddColumn(fld.name, nil)
				rec[fld.name] = fld.value
			}
			f.AppendRecord(rec)
		}

		c.logger.Debug("fetched query page", "page", page, "records", len(resp.Records), "total", resp.TotalSize)
		if resp.Done {
			break
		}
		path = resp.NextRecordsURL
	}

	return f, nil
}

type field struct {
	name  string
	value any
}

// decodeRecord flattens one JSON record in document order.
func decodeRecord(raw json.RawMessage) ([]field, error) {
	var out []field
	if err := flatten(raw, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func newDecoder(raw []byte) *json.Decoder {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec
}

func flatten(raw []byte, prefix string, out *[]field) error {
	dec := newDecoder(raw)
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}
		if key == "attributes" {
			continue
		}

		value = bytes.TrimSpace(value)
		if len(value) > 0 && value[0] == '{' {
			if err := flatten(value, prefix+key+".", out); err != nil {
				return err
			}
			continue
		}

		var v any
		if err := newDecoder(value).Decode(&v); err != nil {
			return err
		}
		*out = append(*out, field{name: prefix + key, value: normalize(v)})
	}
	return nil
}

// normalize turns JSON numbers into int64 when they are whole and float64
// otherwise.
func normalize(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
