// Package network holds the table of Flow networks the adapter can target:
// each network's access node, core contract addresses and auditor accounts.
package network

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed networks.yaml
var defaultNetworks []byte

// Network describes one Flow network.
type Network struct {
	Name       string            `yaml:"name" json:"name"`
	AccessNode string            `yaml:"accessNode" json:"accessNode"`
	Contracts  map[string]string `yaml:"contracts" json:"contracts"`
	Auditors   map[string]string `yaml:"auditors" json:"auditors"`
}

// Contract resolves a contract name to its address. An exact match wins;
// otherwise the lookup is case-insensitive.
func (n Network) Contract(name string) (string, bool) {
	if addr, ok := n.Contracts[name]; ok {
		return addr, true
	}
	for key, addr := range n.Contracts {
		if strings.EqualFold(key, name) {
			return addr, true
		}
	}
	return "", false
}

type tableFile struct {
	Networks []Network `yaml:"networks"`
}

// Table is an immutable, ordered set of networks keyed by lower-case name.
type Table struct {
	byName map[string]Network
	names  []string
}

// Default returns the built-in network table.
func Default() *Table {
	t, err := Parse(defaultNetworks)
	if err != nil {
		panic(fmt.Sprintf("network: embedded table is invalid: %v", err))
	}
	return t
}

// Parse decodes a YAML network table.
func Parse(data []byte) (*Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("network: parse table: %w", err)
	}
	if len(file.Networks) == 0 {
		return nil, errors.New("network: table defines no networks")
	}

	t := &Table{byName: make(map[string]Network, len(file.Networks))}
	for i, n := range file.Networks {
		key := strings.ToLower(strings.TrimSpace(n.Name))
		if key == "" {
			return nil, fmt.Errorf("network: entry %d: name is required", i)
		}
		if strings.TrimSpace(n.AccessNode) == "" {
			return nil, fmt.Errorf("network %q: accessNode is required", key)
		}
		if _, dup := t.byName[key]; dup {
			return nil, fmt.Errorf("network %q: defined more than once", key)
		}
		n.Name = key
		if n.Contracts == nil {
			n.Contracts = map[string]string{}
		}
		if n.Auditors == nil {
			n.Auditors = map[string]string{}
		}
		t.byName[key] = n
		t.names = append(t.names, key)
	}
	return t, nil
}

// LoadFile reads a YAML network table from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("network: read %s: %w", path, err)
	}
	return Parse(data)
}

// Merge returns a table holding t's networks overlaid by other's. Networks
// present in both are replaced; new ones are appended in other's order.
func (t *Table) Merge(other *Table) *Table {
	merged := &Table{
		byName: maps.Clone(t.byName),
		names:  append([]string(nil), t.names...),
	}
	if other == nil {
		return merged
	}
	for _, name := range other.names {
		if _, exists := merged.byName[name]; !exists {
			merged.names = append(merged.names, name)
		}
		merged.byName[name] = other.byName[name]
	}
	return merged
}

// Lookup finds a network by name, ignoring case and surrounding space. The
// returned maps are copies.
func (t *Table) Lookup(name string) (Network, bool) {
	n, ok := t.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, false
	}
	n.Contracts = maps.Clone(n.Contracts)
	n.Auditors = maps.Clone(n.Auditors)
	return n, true
}

// Names lists the networks in table order.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Selection is the network a process is bound to, with the access node it
// actually uses.
type Selection struct {
	Network    Network
	AccessNode string
	Available  []string
}

// Select resolves name and applies an optional access node override.
func (t *Table) Select(name, accessNode string) (Selection, bool) {
	n, ok := t.Lookup(name)
	if !ok {
		return Selection{}, false
	}
	node := strings.TrimSpace(accessNode)
	if node == "" {
		node = n.AccessNode
	}
	return Selection{Network: n, AccessNode: node, Available: t.Names()}, true
}

// Info is the wire description of a Selection.
type Info struct {
	Current    string            `json:"current"`
	Available  []string          `json:"available"`
	AccessNode string            `json:"accessNode"`
	Contracts  map[string]string `json:"contracts"`
	Auditors   map[string]string `json:"auditors"`
}

// Info describes the selection for clients.
func (s Selection) Info() Info {
	return Info{
		Current:    s.Network.Name,
		Available:  append([]string(nil), s.Available...),
		AccessNode: s.AccessNode,
		Contracts:  maps.Clone(s.Network.Contracts),
		Auditors:   maps.Clone(s.Network.Auditors),
	}
}
