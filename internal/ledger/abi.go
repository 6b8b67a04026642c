package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Contract interfaces read by the client. Only the members needed for
// reconciliation are declared.
const (
	appABIJSON = `[
	{"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"getProvider","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"factory","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getProxyImplementation","stateMutability":"view","inputs":[{"name":"proxy","type":"address"}],"outputs":[{"name":"","type":"address"}]}
]`

	directoryABIJSON = `[
	{"type":"function","name":"stdlib","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"ImplementationChanged","anonymous":false,"inputs":[
		{"name":"contractName","type":"string","indexed":false},
		{"name":"implementation","type":"address","indexed":true}
	]}
]`

	factoryABIJSON = `[
	{"type":"event","name":"ProxyCreated","anonymous":false,"inputs":[
		{"name":"proxy","type":"address","indexed":false}
	]}
]`
)

// Event names emitted by the directory and the factory.
const (
	EventImplementationChanged = "ImplementationChanged"
	EventProxyCreated          = "ProxyCreated"
)

var (
	appABI       = mustParseABI(appABIJSON)
	directoryABI = mustParseABI(directoryABIJSON)
	factoryABI   = mustParseABI(factoryABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("ledger: invalid ABI: " + err.Error())
	}
	return parsed
}
