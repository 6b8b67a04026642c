// Package manifest reads the network file that records what an operator
// believes is deployed on one network.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/pendergraft/appstatus/internal/validation"
)

// ErrInvalid is returned for a malformed network file.
var ErrInvalid = errors.New("invalid network file")

// View is read access to the expected deployment state.
type View interface {
	Version() string
	AppAddress() string
	ProviderAddress() string
	// StdlibAddress is empty when no stdlib is linked.
	StdlibAddress() string
	HasContract(alias string) bool
	Contract(alias string) Contract
	// ContractAliases are returned in declaration order.
	ContractAliases() []string
	HasProxy(alias string) bool
	// Proxy returns the proxy records of alias in declaration order.
	Proxy(alias string) []Proxy
	ProxyAliases() []string
}

// Contract is a deployed implementation record.
type Contract struct {
	Address         string `yaml:"address" json:"address"`
	ConstructorCode string `yaml:"constructorCode" json:"constructorCode"`
	BytecodeHash    string `yaml:"bytecodeHash" json:"bytecodeHash"`
}

// Proxy is a deployed proxy record.
type Proxy struct {
	Address        string `yaml:"address" json:"address"`
	Version        string `yaml:"version" json:"version"`
	Implementation string `yaml:"implementation" json:"implementation"`
}

// Stdlib is the linked stdlib record.
type Stdlib struct {
	Address string `yaml:"address" json:"address"`
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

type addressRef struct {
	Address string `yaml:"address"`
}

type document struct {
	App       addressRef `yaml:"app"`
	Version   string     `yaml:"version"`
	Provider  addressRef `yaml:"provider"`
	Stdlib    Stdlib     `yaml:"stdlib"`
	Contracts yaml.Node  `yaml:"contracts"`
	Proxies   yaml.Node  `yaml:"proxies"`
}

// NetworkFile is a decoded network file.
type NetworkFile struct {
	Path string

	app       string
	version   string
	provider  string
	stdlib    Stdlib
	contracts map[string]Contract
	proxies   map[string][]Proxy

	contractOrder []string
	proxyOrder    []string
}

// FileName returns the network file name for network.
func FileName(network string) string {
	return fmt.Sprintf("zos.%s.json", network)
}

// LoadNetwork loads the network file of network from dir.
func LoadNetwork(dir, network string) (*NetworkFile, error) {
	if err := validation.ValidateNetworkName(network); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return Load(filepath.Join(dir, FileName(network)))
}

// Load reads and validates a network file.
func Load(path string) (*NetworkFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading network file: %w", err)
	}
	nf, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	nf.Path = path
	return nf, nil
}

// Parse decodes and validates a network file. Object key order is kept,
// since proxies are matched in the order they were recorded.
func Parse(data []byte) (*NetworkFile, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	nf := &NetworkFile{
		app:       doc.App.Address,
		version:   doc.Version,
		provider:  doc.Provider.Address,
		stdlib:    doc.Stdlib,
		contracts: make(map[string]Contract),
		proxies:   make(map[string][]Proxy),
	}

	err := eachEntry(&doc.Contracts, "contracts", func(alias string, value *yaml.Node) error {
		var c Contract
		if err := value.Decode(&c); err != nil {
			return err
		}
		nf.contracts[alias] = c
		nf.contractOrder = append(nf.contractOrder, alias)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachEntry(&doc.Proxies, "proxies", func(alias string, value *yaml.Node) error {
		var records []Proxy
		if err := value.Decode(&records); err != nil {
			return err
		}
		nf.proxies[alias] = records
		nf.proxyOrder = append(nf.proxyOrder, alias)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := nf.Validate(); err != nil {
		return nil, err
	}
	return nf, nil
}

// eachEntry walks a mapping node in document order.
func eachEntry(node *yaml.Node, field string, fn func(key string, value *yaml.Node) error) error {
	if node.Kind == 0 || (node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null") {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: %s must be an object", ErrInvalid, field)
	}
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if seen[key] {
			return fmt.Errorf("%w: duplicate %s entry %q", ErrInvalid, field, key)
		}
		seen[key] = true
		if err := fn(key, node.Content[i+1]); err != nil {
			return fmt.Errorf("%w: %s.%s: %v", ErrInvalid, field, key, err)
		}
	}
	return nil
}

// Validate checks the structure of the network file.
func (nf *NetworkFile) Validate() error {
	if nf.app == "" {
		return fmt.Errorf("%w: app address is required", ErrInvalid)
	}
	if err := validation.ValidateAddress(nf.app); err != nil {
		return fmt.Errorf("%w: app: %v", ErrInvalid, err)
	}
	if err := validation.ValidateVersion(nf.version); err != nil {
		return fmt.Errorf("%w: version: %v", ErrInvalid, err)
	}
	if nf.provider != "" {
		if err := validation.ValidateAddress(nf.provider); err != nil {
			return fmt.Errorf("%w: provider: %v", ErrInvalid, err)
		}
	}
	if nf.stdlib.Address != "" {
		if err := validation.ValidateAddress(nf.stdlib.Address); err != nil {
			return fmt.Errorf("%w: stdlib: %v", ErrInvalid, err)
		}
	}

	for _, alias := range nf.contractOrder {
		c := nf.contracts[alias]
		if err := validation.ValidateAddress(c.Address); err != nil {
			return fmt.Errorf("%w: contracts.%s: %v", ErrInvalid, alias, err)
		}
		if c.ConstructorCode != "" {
			if err := validation.ValidateHex(c.ConstructorCode); err != nil {
				return fmt.Errorf("%w: contracts.%s.constructorCode: %v", ErrInvalid, alias, err)
			}
		}
	}

	for _, alias := range nf.proxyOrder {
		for i, p := range nf.proxies[alias] {
			if err := validation.ValidateAddress(p.Address); err != nil {
				return fmt.Errorf("%w: proxies.%s[%d]: %v", ErrInvalid, alias, i, err)
			}
			if err := validation.ValidateAddress(p.Implementation); err != nil {
				return fmt.Errorf("%w: proxies.%s[%d].implementation: %v", ErrInvalid, alias, i, err)
			}
		}
	}
	return nil
}

func (nf *NetworkFile) Version() string         { return nf.version }
func (nf *NetworkFile) AppAddress() string      { return nf.app }
func (nf *NetworkFile) ProviderAddress() string { return nf.provider }
func (nf *NetworkFile) StdlibAddress() string   { return nf.stdlib.Address }

// Stdlib returns the full stdlib record.
func (nf *NetworkFile) Stdlib() Stdlib { return nf.stdlib }

func (nf *NetworkFile) HasContract(alias string) bool {
	_, ok := nf.contracts[alias]
	return ok
}

// Contract returns the record of alias, or the zero value when absent.
func (nf *NetworkFile) Contract(alias string) Contract {
	return nf.contracts[alias]
}

func (nf *NetworkFile) ContractAliases() []string {
	return append([]string(nil), nf.contractOrder...)
}

func (nf *NetworkFile) HasProxy(alias string) bool {
	_, ok := nf.proxies[alias]
	return ok
}

func (nf *NetworkFile) Proxy(alias string) []Proxy {
	return append([]Proxy(nil), nf.proxies[alias]...)
}

func (nf *NetworkFile) ProxyAliases() []string {
	return append([]string(nil), nf.proxyOrder...)
}
