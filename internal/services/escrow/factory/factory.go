// Package factory creates configured ledger instances at derived addresses.
package factory

import (
	"context"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/fee"
	"github.com/louisbranch/askmi/internal/services/escrow/gateway"
	"github.com/louisbranch/askmi/internal/services/escrow/ledger"
)

// Params are the constructor arguments of a new instance.
type Params struct {
	Owner        common.Address
	FeeRecipient common.Address
	InitialAsset asset.Asset
	InitialTiers []asset.Amount
	TipAmount    asset.Amount
	DevFeeBps    uint16
}

// Option configures a Factory.
type Option func(*Factory)

// WithEventSink sets the sink for factory and instance events.
func WithEventSink(sink ledger.EventSink) Option {
	return func(f *Factory) {
		if sink != nil {
			f.sink = sink
		}
	}
}

// WithTipPolicy sets the tip policy of new instances.
func WithTipPolicy(policy ledger.TipPolicy) Option {
	return func(f *Factory) {
		f.tipPolicy = policy
	}
}

// WithRemovalFeeBps overrides the removal fee of new instances.
func WithRemovalFeeBps(bps uint16) Option {
	return func(f *Factory) {
		f.removalFeeBps = bps
	}
}

// Factory creates instances and keeps them addressable.
type Factory struct {
	address       common.Address
	net           gateway.Network
	modules       *fee.Directory
	sink          ledger.EventSink
	tipPolicy     ledger.TipPolicy
	removalFeeBps uint16

	mu        sync.RWMutex
	nonce     uint64
	instances map[common.Address]*ledger.Instance
	order     []common.Address
}

// New returns a factory deployed at address.
func New(address common.Address, net gateway.Network, modules *fee.Directory, opts ...Option) (*Factory, error) {
	if address == (common.Address{}) {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration, "factory address is required")
	}
	if net == nil || modules == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration, "network and module directory are required")
	}
	f := &Factory{
		address:       address,
		net:           net,
		modules:       modules,
		sink:          ledger.EventSinkFunc(func(context.Context, ledger.Event) {}),
		tipPolicy:     ledger.TipOpenOnly,
		removalFeeBps: ledger.DefaultRemovalFeeBps,
		instances:     make(map[common.Address]*ledger.Instance),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Address returns the factory's own address.
func (f *Factory) Address() common.Address {
	return f.address
}

// Instantiate creates an instance owned by p.Owner, seeds its tiers for
// p.InitialAsset, and uses that asset for tips.
func (f *Factory) Instantiate(ctx context.Context, caller common.Address, p Params) (*ledger.Instance, error) {
	cfg := ledger.DefaultConfig()
	cfg.Owner = p.Owner
	cfg.FeeRecipient = p.FeeRecipient
	cfg.DevFeeBps = p.DevFeeBps
	cfg.RemovalFeeBps = f.removalFeeBps
	cfg.TipAsset = p.InitialAsset
	cfg.TipAmount = p.TipAmount
	cfg.TipPolicy = f.tipPolicy
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var created *ledger.Instance
	err := f.net.Atomically(ctx, func(ctx context.Context) error {
		f.mu.Lock()
		nonce := f.nonce
		address := crypto.CreateAddress(f.address, nonce)
		f.mu.Unlock()

		instance, err := ledger.New(address, f.net, f.modules, cfg, ledger.WithEventSink(f.sink))
		if err != nil {
			return err
		}

		f.mu.Lock()
		f.nonce++
		f.instances[address] = instance
		f.order = append(f.order, address)
		f.mu.Unlock()
		f.net.Journal(ctx, func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.nonce--
			delete(f.instances, address)
			f.order = f.order[:len(f.order)-1]
		})

		event := ledger.Event{
			Kind:     ledger.KindInstanceCreated,
			Instance: address,
			Actor:    caller,
			Asset:    p.InitialAsset,
			Amount:   p.TipAmount,
			Attributes: map[string]string{
				"factory":     f.address.Hex(),
				"owner":       p.Owner.Hex(),
				"nonce":       strconv.FormatUint(nonce, 10),
				"dev_fee_bps": strconv.Itoa(int(p.DevFeeBps)),
			},
		}
		publishCtx := context.WithoutCancel(ctx)
		f.net.OnCommit(ctx, func() { f.sink.Publish(publishCtx, event) })

		if len(p.InitialTiers) > 0 {
			if err := instance.UpdateTiers(ctx, ledger.Call{Caller: p.Owner}, p.InitialAsset, p.InitialTiers); err != nil {
				return err
			}
		}

		created = instance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Instance returns the instance at address.
func (f *Factory) Instance(address common.Address) (*ledger.Instance, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	instance, ok := f.instances[address]
	if !ok {
		return nil, apperrors.WithMetadata(apperrors.CodeNotFound, "instance not found",
			map[string]string{"instance": address.Hex()})
	}
	return instance, nil
}

// Modules lists the fee modules instances may trust.
func (f *Factory) Modules() []fee.ModuleID {
	return f.modules.IDs()
}

// Instances lists instance addresses in creation order.
func (f *Factory) Instances() []common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]common.Address, len(f.order))
	copy(out, f.order)
	return out
}
