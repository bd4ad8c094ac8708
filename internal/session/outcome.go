package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Outcome is the answer payload for one question. Empty strings mean absent.
// A non-empty Error marks the outcome as failed regardless of other fields.
type Outcome struct {
	Transcript string        `json:"transcript,omitempty"`
	Answer     string        `json:"answer,omitempty"`
	Matches    []CatalogItem `json:"matches,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Failed reports whether the outcome carries an error.
func (o Outcome) Failed() bool {
	return o.Error != ""
}

// IsZero reports whether no field is set.
func (o Outcome) IsZero() bool {
	return o.Transcript == "" && o.Answer == "" && len(o.Matches) == 0 && o.Error == ""
}

// CatalogItem is one backend match. Its shape is owned by the backend; the
// accessors below read the fields the CLI knows how to show.
type CatalogItem map[string]any

func (c CatalogItem) Name() string {
	return c.text("name")
}

func (c CatalogItem) Images() string {
	return c.text("images")
}

// Price renders the price field as the backend sent it.
func (c CatalogItem) Price() string {
	switch v := c["price"].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
	case json.Number:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func (c CatalogItem) text(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
