package dpp

import "net/http"

// headerMap adapts http.Header to pluginsdk.HeaderMap, the capability
// surface plugins and scripts observe and mutate (spec.md §4.4).
type headerMap struct {
	h http.Header
}

func newHeaderMap(h http.Header) *headerMap {
	if h == nil {
		h = make(http.Header)
	}
	return &headerMap{h: h}
}

func (m *headerMap) Get(name string) string      { return m.h.Get(name) }
func (m *headerMap) Set(name, value string)      { m.h.Set(name, value) }
func (m *headerMap) Add(name, value string)      { m.h.Add(name, value) }
func (m *headerMap) Remove(name string)          { m.h.Del(name) }
func (m *headerMap) Keys() []string {
	keys := make([]string, 0, len(m.h))
	for k := range m.h {
		keys = append(keys, k)
	}
	return keys
}
