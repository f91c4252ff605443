package plugins_test

import "net/http"

// testHeaderMap is a minimal pluginsdk.HeaderMap backed by http.Header,
// used across this package's tests in place of the dpp package's
// unexported wrapper.
type testHeaderMap struct{ h http.Header }

func newTestHeaderMap() *testHeaderMap { return &testHeaderMap{h: make(http.Header)} }

func (m *testHeaderMap) Get(name string) string      { return m.h.Get(name) }
func (m *testHeaderMap) Set(name, value string)       { m.h.Set(name, value) }
func (m *testHeaderMap) Add(name, value string)       { m.h.Add(name, value) }
func (m *testHeaderMap) Remove(name string)           { m.h.Del(name) }
func (m *testHeaderMap) Keys() []string {
	keys := make([]string, 0, len(m.h))
	for k := range m.h {
		keys = append(keys, k)
	}
	return keys
}
