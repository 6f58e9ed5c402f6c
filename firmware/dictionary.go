package firmware

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"sync"

	"ee24/core"
)

// DictionaryData is the JSON document a host retrieves with identify.
type DictionaryData struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// Dictionary describes the firmware to the host: its message IDs,
// constants and enumerations.
type Dictionary struct {
	mu            sync.RWMutex
	registry      *Registry
	version       string
	buildVersions string
	constants     map[string]string
	enumerations  map[string][]string
	compress      bool
	cached        []byte
}

func NewDictionary(reg *Registry, version string) *Dictionary {
	return &Dictionary{
		registry:      reg,
		version:       version,
		buildVersions: "go",
		constants:     make(map[string]string),
		enumerations:  make(map[string][]string),
	}
}

// SetCompress selects zlib compression of the served document.
func (d *Dictionary) SetCompress(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compress = on
	d.cached = nil
}

func (d *Dictionary) AddConstant(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = value
	d.cached = nil
}

// AddEnumeration maps each non-empty value to its index.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = append([]string(nil), values...)
	d.cached = nil
}

// Data assembles the document.
func (d *Dictionary) Data() DictionaryData {
	commands, responses := d.registry.CommandsAndResponses()

	d.mu.RLock()
	defer d.mu.RUnlock()

	data := DictionaryData{
		Version:       d.version,
		BuildVersions: d.buildVersions,
		Config:        make(map[string]string, len(d.constants)),
		Commands:      commands,
		Responses:     responses,
	}
	for k, v := range d.constants {
		data.Config[k] = v
	}
	if len(d.enumerations) > 0 {
		data.Enumerations = make(map[string]map[string]int)
		for name, values := range d.enumerations {
			m := make(map[string]int)
			for i, v := range values {
				if v != "" {
					m[v] = i
				}
			}
			data.Enumerations[name] = m
		}
	}
	return data
}

// Build serializes (and optionally compresses) the document and caches it.
// Call it once every command is registered; later changes invalidate it.
func (d *Dictionary) Build() ([]byte, error) {
	raw, err := json.Marshal(d.Data())
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.compress {
		d.cached = raw
		return raw, nil
	}

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	core.Debugf("[dict] compressed %d -> %d bytes", len(raw), buf.Len())
	d.cached = buf.Bytes()
	return d.cached, nil
}

// Chunk returns up to count bytes of the served document from offset. Past
// the end it returns an empty slice, which tells the host it is done.
func (d *Dictionary) Chunk(offset uint32, count uint8) []byte {
	d.mu.RLock()
	data := d.cached
	d.mu.RUnlock()

	if data == nil {
		var err error
		if data, err = d.Build(); err != nil {
			core.Debugf("[dict] build failed: %v", err)
			return []byte{}
		}
	}

	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	return append([]byte(nil), data[offset:end]...)
}
