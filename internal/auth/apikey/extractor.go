package apikey

import (
	"errors"
	"net/http"
	"strings"
)

// Default extraction locations.
const (
	DefaultHeader     = "X-API-Key"
	DefaultQueryParam = "api_key"
)

// ErrNoAPIKeyFound indicates that no configured source carried a key.
var ErrNoAPIKeyFound = errors.New("no API key found")

// Extractor extracts an API key from an HTTP request.
type Extractor interface {
	Extract(r *http.Request) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(r *http.Request) (string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(r *http.Request) (string, error) {
	return f(r)
}

// HeaderExtractor extracts API keys from a header.
type HeaderExtractor struct {
	header string
	prefix string
}

// NewHeaderExtractor creates a header extractor. An empty header selects
// X-API-Key. A non-empty prefix must be present and is stripped.
func NewHeaderExtractor(header, prefix string) *HeaderExtractor {
	if header == "" {
		header = DefaultHeader
	}
	return &HeaderExtractor{header: header, prefix: prefix}
}

// Extract implements Extractor.
func (e *HeaderExtractor) Extract(r *http.Request) (string, error) {
	value := strings.TrimSpace(r.Header.Get(e.header))
	if value == "" {
		return "", ErrNoAPIKeyFound
	}
	if e.prefix != "" {
		if !strings.HasPrefix(value, e.prefix) {
			return "", ErrNoAPIKeyFound
		}
		value = strings.TrimSpace(strings.TrimPrefix(value, e.prefix))
	}
	if value == "" {
		return "", ErrNoAPIKeyFound
	}
	return value, nil
}

// QueryExtractor extracts API keys from a query parameter.
type QueryExtractor struct {
	param string
}

// NewQueryExtractor creates a query extractor. An empty param selects api_key.
func NewQueryExtractor(param string) *QueryExtractor {
	if param == "" {
		param = DefaultQueryParam
	}
	return &QueryExtractor{param: param}
}

// Extract implements Extractor.
func (e *QueryExtractor) Extract(r *http.Request) (string, error) {
	if r.URL == nil {
		return "", ErrNoAPIKeyFound
	}
	key := strings.TrimSpace(r.URL.Query().Get(e.param))
	if key == "" {
		return "", ErrNoAPIKeyFound
	}
	return key, nil
}

// CompositeExtractor tries extractors in order.
type CompositeExtractor struct {
	extractors []Extractor
}

// NewCompositeExtractor creates a composite extractor.
func NewCompositeExtractor(extractors ...Extractor) *CompositeExtractor {
	return &CompositeExtractor{extractors: extractors}
}

// Extract returns the first key found.
func (e *CompositeExtractor) Extract(r *http.Request) (string, error) {
	for _, ex := range e.extractors {
		key, err := ex.Extract(r)
		if err == nil && key != "" {
			return key, nil
		}
	}
	return "", ErrNoAPIKeyFound
}

// DefaultExtractor checks the X-API-Key header, then the api_key query parameter.
func DefaultExtractor() Extractor {
	return NewCompositeExtractor(
		NewHeaderExtractor(DefaultHeader, ""),
		NewQueryExtractor(DefaultQueryParam),
	)
}

// NewExtractor builds an extractor from configured sources. No sources
// selects DefaultExtractor.
func NewExtractor(sources []ExtractionSource) Extractor {
	if len(sources) == 0 {
		return DefaultExtractor()
	}
	extractors := make([]Extractor, 0, len(sources))
	for _, src := range sources {
		switch src.Type {
		case "header":
			extractors = append(extractors, NewHeaderExtractor(src.Name, src.Prefix))
		case "query":
			extractors = append(extractors, NewQueryExtractor(src.Name))
		}
	}
	return NewCompositeExtractor(extractors...)
}
