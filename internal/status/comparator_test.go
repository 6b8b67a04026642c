package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/appstatus/internal/digest"
	"github.com/pendergraft/appstatus/internal/ledger"
	"github.com/pendergraft/appstatus/internal/manifest"
)

// mirrored returns a view and a ledger that describe the same deployment.
func mirrored() (*fakeView, *fakeLedger) {
	v := newFakeView()
	l := newFakeLedger()

	l.app.Stdlib = stdlibAddress
	v.stdlib = stdlibAddress.Hex()

	deploy(v, l, "Greeter", addr(0x201))
	deploy(v, l, "Token", addr(0x202))

	l.createProxy(addr(0x101), addr(0x201))
	l.createProxy(addr(0x102), addr(0x201))
	l.createProxy(addr(0x103), addr(0x202))
	v.addProxies("Greeter", record(addr(0x101), addr(0x201)), record(addr(0x102), addr(0x201)))
	v.addProxies("Token", record(addr(0x103), addr(0x202)))
	return v, l
}

func run(t *testing.T, v manifest.View, l Ledger, opts ...Option) []Entry {
	t.Helper()
	report, err := NewComparator(v, l, opts...).Run(context.Background())
	require.NoError(t, err)
	return report.Entries()
}

func TestComparator_MirroredStateIsClean(t *testing.T) {
	for _, mode := range []MatchMode{MatchScan, MatchSequential} {
		t.Run(string(mode), func(t *testing.T) {
			v, l := mirrored()
			report, err := NewComparator(v, l, WithMatchMode(mode)).Run(context.Background())
			require.NoError(t, err)
			assert.True(t, report.Empty(), "unexpected entries: %v", report.Entries())
		})
	}
}

func TestComparator_Version(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()
	l.app.Version = "2.0.0"

	entries := run(t, v, l)
	assert.Equal(t, []Entry{
		{Expected: Text("1.1.0"), Observed: Text("2.0.0"), Description: "App version does not match"},
	}, entries)
}

func TestComparator_Provider(t *testing.T) {
	t.Run("different address", func(t *testing.T) {
		v := newFakeView()
		v.provider = addr(0xd2).Hex()

		entries := run(t, v, newFakeLedger())
		assert.Equal(t, []Entry{
			{Expected: Text(addr(0xd2).Hex()), Observed: Text(directoryAddress.Hex()), Description: "Provider address does not match"},
		}, entries)
	})

	t.Run("case insensitive", func(t *testing.T) {
		v := newFakeView()
		v.provider = "0x00000000000000000000000000000000000000D1"

		assert.Empty(t, run(t, v, newFakeLedger()))
	})

	tests := []struct {
		name     string
		recorded string
		onChain  common.Address
		want     []Entry
	}{
		{name: "unset on both sides", recorded: "", onChain: common.Address{}},
		{name: "zero in file", recorded: ledger.ZeroAddress, onChain: common.Address{}},
		{
			name:     "unset in file",
			recorded: "",
			onChain:  directoryAddress,
			want:     []Entry{{Expected: Text(None), Observed: Text(directoryAddress.Hex()), Description: "Provider address does not match"}},
		},
		{
			name:     "zero on chain",
			recorded: directoryAddress.Hex(),
			onChain:  common.Address{},
			want:     []Entry{{Expected: Text(directoryAddress.Hex()), Observed: Text(None), Description: "Provider address does not match"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newFakeView()
			v.provider = tt.recorded
			l := newFakeLedger()
			l.app.Directory = tt.onChain

			c := NewComparator(v, l)
			require.NoError(t, c.CheckProvider(context.Background()))
			assert.Equal(t, tt.want, c.Report().Entries())
		})
	}
}

func TestComparator_Stdlib(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		onChain  common.Address
		want     []Entry
	}{
		{
			name: "both unset",
		},
		{
			name:     "both set",
			manifest: stdlibAddress.Hex(),
			onChain:  stdlibAddress,
		},
		{
			name:    "unset in manifest",
			onChain: stdlibAddress,
			want: []Entry{
				{Expected: Text(None), Observed: Text(stdlibAddress.Hex()), Description: "Stdlib address does not match"},
			},
		},
		{
			name:     "unset on chain",
			manifest: stdlibAddress.Hex(),
			want: []Entry{
				{Expected: Text(stdlibAddress.Hex()), Observed: Text(None), Description: "Stdlib address does not match"},
			},
		},
		{
			name:     "different",
			manifest: addr(0xb2).Hex(),
			onChain:  stdlibAddress,
			want: []Entry{
				{Expected: Text(addr(0xb2).Hex()), Observed: Text(stdlibAddress.Hex()), Description: "Stdlib address does not match"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newFakeView()
			v.stdlib = tt.manifest
			l := newFakeLedger()
			l.app.Stdlib = tt.onChain

			c := NewComparator(v, l)
			require.NoError(t, c.CheckStdlib(context.Background()))
			assert.Equal(t, tt.want, c.Report().Entries())
		})
	}
}

func TestComparator_ImplementationsAreSymmetric(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()

	deploy(v, l, "Shared", addr(0x201))
	l.register("OnlyOnChain", addr(0x203))
	v.addContract("OnlyInManifest", manifest.Contract{Address: addr(0x204).Hex()})

	entries := run(t, v, l)
	assert.Equal(t, []Entry{
		{Expected: Text(None), Observed: Text("OnlyOnChain"), Description: "Contract does not match"},
		{Expected: Text("OnlyInManifest"), Observed: Text(None), Description: "Contract does not match"},
	}, entries)
}

func TestComparator_ImplementationAddressMismatch(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()
	deploy(v, l, "Greeter", addr(0x201))

	c := v.contracts["Greeter"]
	c.Address = addr(0x209).Hex()
	v.contracts["Greeter"] = c

	entries := run(t, v, l)
	assert.Equal(t, []Entry{
		{Expected: Text(addr(0x209).Hex()), Observed: Text(addr(0x201).Hex()), Description: "Address for contract Greeter does not match"},
	}, entries)
}

func TestComparator_BytecodeMismatch(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()
	deploy(v, l, "Greeter", addr(0x201))

	changed := []byte{0x60, 0x80, 0xff}
	l.code[addr(0x201)] = changed

	entries := run(t, v, l)
	assert.Equal(t, []Entry{
		{
			Expected:    Text(v.contracts["Greeter"].BytecodeHash),
			Observed:    Text(digest.Digest([]byte{0x60, 0x01}, changed)),
			Description: fmt.Sprintf("Bytecode at %s for contract Greeter does not match", addr(0x201).Hex()),
		},
	}, entries)
}

func TestComparator_LastRegistrationWins(t *testing.T) {
	t.Run("manifest follows latest", func(t *testing.T) {
		v := newFakeView()
		l := newFakeLedger()
		l.register("Greeter", addr(0x201))
		deploy(v, l, "Greeter", addr(0x202))

		assert.Empty(t, run(t, v, l))
	})

	t.Run("manifest follows earlier", func(t *testing.T) {
		v := newFakeView()
		l := newFakeLedger()
		deploy(v, l, "Greeter", addr(0x201))
		l.register("Greeter", addr(0x202))

		entries := run(t, v, l)
		assert.Equal(t, []Entry{
			{Expected: Text(addr(0x201).Hex()), Observed: Text(addr(0x202).Hex()), Description: "Address for contract Greeter does not match"},
		}, entries)
	})
}

func TestComparator_UnregisteredIsAbsent(t *testing.T) {
	zero := common.HexToAddress(ledger.ZeroAddress)

	for _, inManifest := range []bool{false, true} {
		t.Run(fmt.Sprintf("in manifest %v", inManifest), func(t *testing.T) {
			build := func(unregistered bool) []Entry {
				v := newFakeView()
				l := newFakeLedger()
				if unregistered {
					l.register("Greeter", addr(0x201))
					l.register("Greeter", zero)
				}
				if inManifest {
					v.addContract("Greeter", manifest.Contract{Address: addr(0x201).Hex()})
				}
				return run(t, v, l)
			}
			assert.Equal(t, build(false), build(true))
		})
	}
}

func TestEffectiveImplementations(t *testing.T) {
	zero := common.HexToAddress(ledger.ZeroAddress)
	change := func(alias string, impl common.Address) ledger.ImplementationChanged {
		return ledger.ImplementationChanged{ContractName: alias, Implementation: impl}
	}

	tests := []struct {
		name    string
		changes []ledger.ImplementationChanged
		want    []implementation
	}{
		{
			name: "empty",
		},
		{
			name:    "ordered by last registration",
			changes: []ledger.ImplementationChanged{change("X", addr(1)), change("Y", addr(2)), change("X", addr(3))},
			want:    []implementation{{Alias: "Y", Address: addr(2)}, {Alias: "X", Address: addr(3)}},
		},
		{
			name:    "zero drops alias",
			changes: []ledger.ImplementationChanged{change("X", addr(1)), change("Y", addr(2)), change("Y", zero)},
			want:    []implementation{{Alias: "X", Address: addr(1)}},
		},
		{
			name:    "re-registered after zero",
			changes: []ledger.ImplementationChanged{change("X", addr(1)), change("X", zero), change("X", addr(4))},
			want:    []implementation{{Alias: "X", Address: addr(4)}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, effectiveImplementations(tt.changes))
		})
	}
}

func TestComparator_ProxyAmbiguity(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()
	l.register("First", addr(0x201))
	l.register("Second", addr(0x201))
	l.createProxy(addr(0x101), addr(0x201))
	l.createProxy(addr(0x102), addr(0x2ff))

	c := NewComparator(v, l)
	require.NoError(t, c.CheckProxies(context.Background()))
	assert.Equal(t, []Entry{
		{
			Expected:    Count(1),
			Observed:    Count(2),
			Description: fmt.Sprintf("The same implementation address %s was registered under many aliases", addr(0x201).Hex()),
		},
		{
			Expected:    Count(1),
			Observed:    Count(0),
			Description: fmt.Sprintf("Proxy at %s is pointing to %s but given implementation is not registered in app", addr(0x102).Hex(), addr(0x2ff).Hex()),
		},
	}, c.Report().Entries())
}

func TestComparator_ProxyNotInManifest(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()
	deploy(v, l, "Greeter", addr(0x201))
	l.createProxy(addr(0x101), addr(0x201))
	l.createProxy(addr(0x102), addr(0x201))

	entries := run(t, v, l)
	assert.Equal(t, []Entry{
		{Expected: Text(None), Observed: Text("Greeter"), Description: "Proxy does not match"},
		{Expected: Text(None), Observed: Text("Greeter"), Description: "Proxy does not match"},
	}, entries)
}

func TestComparator_ProxyNotOnChain(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()
	deploy(v, l, "Greeter", addr(0x201))
	v.addProxies("Greeter", record(addr(0x101), addr(0x201)), record(addr(0x102), addr(0x201)))

	entries := run(t, v, l)
	assert.Equal(t, []Entry{
		{Expected: Count(1), Observed: Count(0), Description: fmt.Sprintf("Proxy of Greeter at %s pointing to %s does not match", addr(0x101).Hex(), addr(0x201).Hex())},
		{Expected: Count(1), Observed: Count(0), Description: fmt.Sprintf("Proxy of Greeter at %s pointing to %s does not match", addr(0x102).Hex(), addr(0x201).Hex())},
	}, entries)
}

func TestComparator_ExtraProxyOnChain(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()
	deploy(v, l, "Greeter", addr(0x201))
	l.createProxy(addr(0x101), addr(0x201))
	l.createProxy(addr(0x102), addr(0x201))
	v.addProxies("Greeter", record(addr(0x101), addr(0x201)))

	report, err := NewComparator(v, l).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Empty())
	assert.Equal(t, []Entry{
		{Expected: Text(None), Observed: Text("Greeter"), Description: "Proxy does not match"},
	}, report.Entries())
}

func TestComparator_MatchModes(t *testing.T) {
	unmatched := func(proxy, impl common.Address) Entry {
		return Entry{
			Expected:    Count(1),
			Observed:    Count(0),
			Description: fmt.Sprintf("Proxy of Greeter at %s pointing to %s does not match", proxy.Hex(), impl.Hex()),
		}
	}
	addressMismatch := func(recorded, onChain, impl common.Address) Entry {
		return Entry{
			Expected:    Text(recorded.Hex()),
			Observed:    Text(onChain.Hex()),
			Description: fmt.Sprintf("Proxy of Greeter at %s pointing to %s does not match", recorded.Hex(), impl.Hex()),
		}
	}
	implementationMismatch := func(proxy, recorded, onChain common.Address) Entry {
		return Entry{
			Expected:    Text(recorded.Hex()),
			Observed:    Text(onChain.Hex()),
			Description: fmt.Sprintf("Proxy of Greeter at %s points to %s, which does not match", proxy.Hex(), onChain.Hex()),
		}
	}

	tests := []struct {
		name       string
		onChain    [][2]common.Address
		records    []manifest.Proxy
		scan       []Entry
		sequential []Entry
	}{
		{
			name:    "stale record before match",
			onChain: [][2]common.Address{{addr(0x101), addr(0x201)}},
			records: []manifest.Proxy{record(addr(0x109), addr(0x201)), record(addr(0x101), addr(0x201))},
			scan: []Entry{
				addressMismatch(addr(0x109), addr(0x101), addr(0x201)),
				unmatched(addr(0x109), addr(0x201)),
			},
			sequential: []Entry{
				addressMismatch(addr(0x109), addr(0x101), addr(0x201)),
				unmatched(addr(0x101), addr(0x201)),
			},
		},
		{
			name:    "wrong implementation",
			onChain: [][2]common.Address{{addr(0x101), addr(0x201)}, {addr(0x102), addr(0x201)}},
			records: []manifest.Proxy{record(addr(0x101), addr(0x201)), record(addr(0x102), addr(0x208))},
			scan: []Entry{
				implementationMismatch(addr(0x102), addr(0x208), addr(0x201)),
				unmatched(addr(0x102), addr(0x208)),
			},
			sequential: []Entry{
				implementationMismatch(addr(0x102), addr(0x208), addr(0x201)),
			},
		},
		{
			name:    "more proxies than records",
			onChain: [][2]common.Address{{addr(0x101), addr(0x201)}, {addr(0x102), addr(0x201)}},
			records: []manifest.Proxy{record(addr(0x101), addr(0x201))},
			scan: []Entry{
				{Expected: Text(None), Observed: Text("Greeter"), Description: "Proxy does not match"},
			},
			sequential: []Entry{
				{Expected: Text(None), Observed: Text("Greeter"), Description: "Proxy does not match"},
			},
		},
		{
			name:    "records in creation order",
			onChain: [][2]common.Address{{addr(0x101), addr(0x201)}, {addr(0x102), addr(0x201)}},
			records: []manifest.Proxy{record(addr(0x101), addr(0x201)), record(addr(0x102), addr(0x201))},
		},
	}

	for _, tt := range tests {
		for _, mode := range []MatchMode{MatchScan, MatchSequential} {
			t.Run(tt.name+"/"+string(mode), func(t *testing.T) {
				v := newFakeView()
				l := newFakeLedger()
				deploy(v, l, "Greeter", addr(0x201))
				for _, p := range tt.onChain {
					l.createProxy(p[0], p[1])
				}
				v.addProxies("Greeter", tt.records...)

				want := tt.scan
				if mode == MatchSequential {
					want = tt.sequential
				}

				c := NewComparator(v, l, WithMatchMode(mode))
				require.NoError(t, c.CheckProxies(context.Background()))
				assert.Equal(t, want, c.Report().Entries())
			})
		}
	}
}

func TestComparator_ProxyJoinIsDeterministic(t *testing.T) {
	build := func() (*fakeView, *fakeLedger) {
		v := newFakeView()
		l := newFakeLedger()
		deploy(v, l, "Greeter", addr(0x201))
		for i := 0; i < 30; i++ {
			impl := addr(0x201)
			if i%7 == 0 {
				impl = addr(0x300 + i)
			}
			l.createProxy(addr(0x1000+i), impl)
		}
		return v, l
	}

	v, l := build()
	serial, err := NewComparator(v, l, WithConcurrency(1)).Run(context.Background())
	require.NoError(t, err)

	v, l = build()
	parallel, err := NewComparator(v, l, WithConcurrency(16)).Run(context.Background())
	require.NoError(t, err)

	want, err := json.Marshal(serial)
	require.NoError(t, err)
	got, err := json.Marshal(parallel)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	entries := parallel.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t,
		fmt.Sprintf("Proxy at %s is pointing to %s but given implementation is not registered in app", addr(0x1000).Hex(), addr(0x300).Hex()),
		entries[0].Description)
	assert.Equal(t,
		fmt.Sprintf("Proxy at %s is pointing to %s but given implementation is not registered in app", addr(0x1007).Hex(), addr(0x307).Hex()),
		entries[1].Description)
}

func TestComparator_RunIsIdempotent(t *testing.T) {
	v, l := mirrored()
	l.app.Version = "2.0.0"
	l.register("Extra", addr(0x2aa))

	c := NewComparator(v, l)
	first, err := c.Run(context.Background())
	require.NoError(t, err)
	second, err := c.Run(context.Background())
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, 2, first.Len())
	assert.Equal(t, 1, l.resolveCalls)
}

func TestComparator_ChecksAccumulate(t *testing.T) {
	v := newFakeView()
	l := newFakeLedger()
	l.app.Version = "2.0.0"
	l.app.Stdlib = stdlibAddress

	c := NewComparator(v, l)
	require.NoError(t, c.CheckVersion(context.Background()))
	require.NoError(t, c.CheckProvider(context.Background()))
	require.NoError(t, c.CheckStdlib(context.Background()))

	entries := c.Report().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "App version does not match", entries[0].Description)
	assert.Equal(t, "Stdlib address does not match", entries[1].Description)
	assert.Equal(t, 1, l.resolveCalls)
}

func TestComparator_AppAddress(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		l := newFakeLedger()
		run(t, newFakeView(), l, WithAppAddress(addr(0xa2).Hex()))
		assert.Equal(t, []common.Address{addr(0xa2)}, l.resolvedFor)
	})

	t.Run("invalid", func(t *testing.T) {
		v := newFakeView()
		v.app = "0x1"
		l := newFakeLedger()

		report, err := NewComparator(v, l).Run(context.Background())
		assert.Nil(t, report)
		assert.ErrorIs(t, err, ErrInvalidApp)
		assert.Zero(t, l.resolveCalls)
	})
}

func TestComparator_FailuresAbortRun(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		setup   func(v *fakeView, l *fakeLedger)
		wantErr error
	}{
		{
			name:    "resolve",
			setup:   func(v *fakeView, l *fakeLedger) { l.resolveErr = boom },
			wantErr: boom,
		},
		{
			name:    "code",
			setup:   func(v *fakeView, l *fakeLedger) { l.codeErr = boom },
			wantErr: boom,
		},
		{
			name:    "proxy implementation",
			setup:   func(v *fakeView, l *fakeLedger) { l.proxyErr = boom },
			wantErr: boom,
		},
		{
			name: "constructor code",
			setup: func(v *fakeView, l *fakeLedger) {
				c := v.contracts["Greeter"]
				c.ConstructorCode = "0xzz"
				v.contracts["Greeter"] = c
			},
			wantErr: manifest.ErrInvalid,
		},
		{
			name: "odd constructor code",
			setup: func(v *fakeView, l *fakeLedger) {
				c := v.contracts["Greeter"]
				c.ConstructorCode = "0x608"
				v.contracts["Greeter"] = c
			},
			wantErr: manifest.ErrInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, l := mirrored()
			l.app.Version = "2.0.0"
			tt.setup(v, l)

			report, err := NewComparator(v, l).Run(context.Background())
			assert.Nil(t, report)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseMatchMode(t *testing.T) {
	tests := []struct {
		in      string
		want    MatchMode
		wantErr bool
	}{
		{"", MatchScan, false},
		{"scan", MatchScan, false},
		{"sequential", MatchSequential, false},
		{"best", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMatchMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
