// Package ledger implements an escrow instance: the tier table, the question
// state machine, and the owner-controlled configuration, with every value
// movement routed through the transfer gateway.
//
// Each operation is all-or-nothing. It runs inside one settlement unit, its
// ledger mutations are journaled into that unit, and its events are published
// only after the outermost unit commits. An operation that re-enters the same
// instance from a transfer callback is rejected; reads from a callback are
// served and observe the operation's effects so far.
package ledger

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/asset"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/fee"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/question"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/tier"
	"github.com/louisbranch/askmi/internal/services/escrow/gateway"
)

// Call describes who invokes an operation.
type Call struct {
	Caller common.Address
	// Value is the native currency attached to the call.
	Value *asset.Amount
	// Module routes the call through a trusted logic module. The zero ID
	// selects the instance default.
	Module fee.ModuleID
}

// Option configures an Instance.
type Option func(*Instance)

// WithEventSink sets where committed events go.
func WithEventSink(sink EventSink) Option {
	return func(i *Instance) {
		if sink != nil {
			i.sink = sink
		}
	}
}

// Instance is one escrow ledger. It is safe for concurrent use.
type Instance struct {
	gateway *gateway.Gateway
	modules *fee.Directory
	sink    EventSink

	mu       sync.RWMutex
	config   Config
	tiers    *tier.Registry
	book     *question.Book
	trusted  map[fee.ModuleID]bool
	disabled map[fee.ModuleID]bool
}

// New creates an instance whose escrow account is address.
func New(address common.Address, net gateway.Network, modules *fee.Directory, config Config, opts ...Option) (*Instance, error) {
	if address == (common.Address{}) {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration, "instance address is required")
	}
	if net == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration, "network is required")
	}
	if modules == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration, "module directory is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if _, err := modules.Lookup(config.DefaultModule); err != nil {
		return nil, err
	}

	i := &Instance{
		gateway:  gateway.New(net, address),
		modules:  modules,
		sink:     discardSink{},
		config:   config,
		tiers:    tier.NewRegistry(),
		book:     question.NewBook(),
		trusted:  map[fee.ModuleID]bool{config.DefaultModule: true},
		disabled: make(map[fee.ModuleID]bool),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Address returns the escrow account of the instance.
func (i *Instance) Address() common.Address {
	return i.gateway.Escrow()
}

// Ask escrows the tier amount for a new question and returns its index in the
// questioner's sequence.
func (i *Instance) Ask(ctx context.Context, call Call, a asset.Asset, contentHash common.Hash, aux1, aux2 question.Aux, tierIndex int) (int, error) {
	var index int
	err := i.mutate(ctx, "ask", func(ctx context.Context, emit func(Event)) error {
		module, err := i.module(call.Module)
		if err != nil {
			return err
		}
		if i.disabled[module.ID()] {
			return apperrors.WithMetadata(apperrors.CodeModuleDisabled, "module is disabled",
				map[string]string{"module": module.ID().Hex()})
		}
		if !i.tiers.Supported(a) {
			return apperrors.WithMetadata(apperrors.CodeUnsupportedAsset, "asset is not supported",
				map[string]string{"asset": a.String()})
		}
		amount, err := module.ValidateTier(i.tiers.Tiers(a), tierIndex)
		if err != nil {
			return err
		}
		if err := i.gateway.Collect(ctx, a, call.Caller, call.Value, &amount); err != nil {
			return err
		}

		var undo question.Undo
		index, undo = i.book.Append(question.Question{
			Questioner:  call.Caller,
			Asset:       a,
			ContentHash: contentHash,
			AuxPart1:    aux1,
			AuxPart2:    aux2,
			TierAmount:  amount,
		})
		i.journal(ctx, undo)

		emit(Event{
			Kind:        KindQuestionAsked,
			Actor:       call.Caller,
			Questioner:  call.Caller,
			Index:       index,
			ContentHash: contentHash,
			Asset:       a,
			Amount:      amount,
			Attributes:  map[string]string{"tier_index": strconv.Itoa(tierIndex)},
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// Respond pays the answered question's amount, minus the developer fee, to the
// owner and marks it answered. The supplied content reference and aux blobs
// must match the stored question.
func (i *Instance) Respond(ctx context.Context, call Call, questioner common.Address, contentHash common.Hash, aux1, aux2 question.Aux, index int) error {
	return i.mutate(ctx, "respond", func(ctx context.Context, emit func(Event)) error {
		if err := i.requireOwner(call); err != nil {
			return err
		}
		if err := requireNoValue(call); err != nil {
			return err
		}
		module, err := i.module(call.Module)
		if err != nil {
			return err
		}
		q, err := i.openQuestion(questioner, index)
		if err != nil {
			return err
		}
		if !q.Matches(contentHash, aux1, aux2) {
			return apperrors.WithMetadata(apperrors.CodeQuestionMismatch, "question fields do not match",
				map[string]string{"questioner": questioner.Hex(), "index": strconv.Itoa(index)})
		}

		parts, err := split(module, &q.TierAmount, []fee.Share{
			{Recipient: i.config.Owner},
			{Recipient: i.config.FeeRecipient, Bps: i.config.DevFeeBps},
		})
		if err != nil {
			return err
		}
		// Pay first; the question is only final once both transfers succeed.
		if err := i.gateway.PayOutSplit(ctx, q.Asset, &q.TierAmount, parts); err != nil {
			return err
		}
		undo, err := i.book.MarkAnswered(questioner, index)
		if err != nil {
			return err
		}
		i.journal(ctx, undo)

		emit(Event{
			Kind:        KindQuestionAnswered,
			Actor:       call.Caller,
			Questioner:  questioner,
			Index:       index,
			ContentHash: q.ContentHash,
			Asset:       q.Asset,
			Amount:      parts[0].Amount,
			Fee:         parts[1].Amount,
		})
		return nil
	})
}

// Remove withdraws an open question, refunding its amount minus the removal
// fee to the questioner. The last question of the sequence takes its index.
func (i *Instance) Remove(ctx context.Context, call Call, questioner common.Address, index int) error {
	return i.mutate(ctx, "remove", func(ctx context.Context, emit func(Event)) error {
		if call.Caller != questioner {
			return apperrors.WithMetadata(apperrors.CodeNotQuestioner, "caller is not the questioner",
				map[string]string{"caller": call.Caller.Hex(), "questioner": questioner.Hex()})
		}
		if err := requireNoValue(call); err != nil {
			return err
		}
		module, err := i.module(call.Module)
		if err != nil {
			return err
		}
		if _, err := i.openQuestion(questioner, index); err != nil {
			return err
		}

		// Delete first so a callback during the refund cannot see the
		// question as removable.
		q, undo, err := i.book.Remove(questioner, index)
		if err != nil {
			return err
		}
		i.journal(ctx, undo)

		parts, err := split(module, &q.TierAmount, []fee.Share{
			{Recipient: questioner},
			{Recipient: i.config.FeeRecipient, Bps: i.config.RemovalFeeBps},
		})
		if err != nil {
			return err
		}
		if err := i.gateway.PayOutSplit(ctx, q.Asset, &q.TierAmount, parts); err != nil {
			return err
		}

		emit(Event{
			Kind:        KindQuestionRemoved,
			Actor:       call.Caller,
			Questioner:  questioner,
			Index:       index,
			ContentHash: q.ContentHash,
			Asset:       q.Asset,
			Amount:      parts[0].Amount,
			Fee:         parts[1].Amount,
		})
		return nil
	})
}

// IssueTip collects the configured tip from the caller, forwards it to the
// owner, and counts it on the question.
func (i *Instance) IssueTip(ctx context.Context, call Call, questioner common.Address, index int) error {
	return i.mutate(ctx, "tip", func(ctx context.Context, emit func(Event)) error {
		module, err := i.module(call.Module)
		if err != nil {
			return err
		}
		tipAsset, tipAmount := i.config.TipAsset, i.config.TipAmount
		if tipAmount.IsZero() {
			return apperrors.New(apperrors.CodeInvalidTipAmount, "tipping is not configured")
		}
		q, err := i.book.Get(questioner, index)
		if err != nil {
			return err
		}
		if !i.config.TipPolicy.Allows(q.Answered) {
			return notOpen(questioner, index)
		}
		if err := gateway.CheckAttached(tipAsset, call.Value, &tipAmount); err != nil {
			return err
		}

		parts, err := split(module, &tipAmount, []fee.Share{{Recipient: i.config.Owner}})
		if err != nil {
			return err
		}
		if err := i.gateway.Collect(ctx, tipAsset, call.Caller, call.Value, &tipAmount); err != nil {
			return err
		}
		if err := i.gateway.PayOutSplit(ctx, tipAsset, &tipAmount, parts); err != nil {
			return err
		}
		undo, err := i.book.IncrementTips(questioner, index)
		if err != nil {
			return err
		}
		i.journal(ctx, undo)

		emit(Event{
			Kind:        KindTipIssued,
			Actor:       call.Caller,
			Questioner:  questioner,
			Index:       index,
			ContentHash: q.ContentHash,
			Asset:       tipAsset,
			Amount:      tipAmount,
			Attributes:  map[string]string{"tip_count": strconv.FormatUint(q.TipCount+1, 10)},
		})
		return nil
	})
}

// UpdateTiers replaces the tier sequence for a. An empty sequence withdraws
// support for new questions in a; existing questions are unaffected.
func (i *Instance) UpdateTiers(ctx context.Context, call Call, a asset.Asset, tiers []asset.Amount) error {
	return i.mutate(ctx, "update_tiers", func(ctx context.Context, emit func(Event)) error {
		if err := i.requireOwnerCall(call); err != nil {
			return err
		}
		for idx := range tiers {
			if tiers[idx].IsZero() {
				return apperrors.WithMetadata(apperrors.CodeInvalidTierAmount, "tier amount must be positive",
					map[string]string{"index": strconv.Itoa(idx)})
			}
		}

		saved := i.tiers.Clone()
		i.tiers.Update(a, tiers)
		i.journal(ctx, func() { i.tiers = saved })

		emit(Event{
			Kind:       KindTiersUpdated,
			Actor:      call.Caller,
			Asset:      a,
			Attributes: map[string]string{"tiers": joinAmounts(tiers)},
		})
		return nil
	})
}

// UpdateTip sets the asset and amount every tip must pay.
func (i *Instance) UpdateTip(ctx context.Context, call Call, amount asset.Amount, a asset.Asset) error {
	return i.mutate(ctx, "update_tip", func(ctx context.Context, emit func(Event)) error {
		if err := i.requireOwnerCall(call); err != nil {
			return err
		}
		previous := i.config
		i.config.TipAsset = a
		i.config.TipAmount = amount
		i.journal(ctx, func() { i.config = previous })

		emit(Event{Kind: KindTipUpdated, Actor: call.Caller, Asset: a, Amount: amount})
		return nil
	})
}

// UpdateFees sets the developer and removal fees in basis points.
func (i *Instance) UpdateFees(ctx context.Context, call Call, devFeeBps, removalFeeBps uint16) error {
	return i.mutate(ctx, "update_fees", func(ctx context.Context, emit func(Event)) error {
		if err := i.requireOwnerCall(call); err != nil {
			return err
		}
		if err := fee.ValidateBps(devFeeBps); err != nil {
			return err
		}
		if err := fee.ValidateBps(removalFeeBps); err != nil {
			return err
		}
		previous := i.config
		i.config.DevFeeBps = devFeeBps
		i.config.RemovalFeeBps = removalFeeBps
		i.journal(ctx, func() { i.config = previous })

		emit(Event{
			Kind:  KindFeesUpdated,
			Actor: call.Caller,
			Attributes: map[string]string{
				"dev_fee_bps":     strconv.Itoa(int(devFeeBps)),
				"removal_fee_bps": strconv.Itoa(int(removalFeeBps)),
			},
		})
		return nil
	})
}

// ToggleDisabled flips the disabled flag of the call's module and returns the
// new state. A disabled module rejects new questions only.
func (i *Instance) ToggleDisabled(ctx context.Context, call Call) (bool, error) {
	var disabled bool
	err := i.mutate(ctx, "toggle_disabled", func(ctx context.Context, emit func(Event)) error {
		if err := i.requireOwnerCall(call); err != nil {
			return err
		}
		module, err := i.module(call.Module)
		if err != nil {
			return err
		}
		id := module.ID()
		previous := i.disabled[id]
		disabled = !previous
		i.disabled[id] = disabled
		i.journal(ctx, func() { i.disabled[id] = previous })

		emit(Event{
			Kind:       KindDisabledToggled,
			Actor:      call.Caller,
			Attributes: map[string]string{"module": id.Hex(), "disabled": strconv.FormatBool(disabled)},
		})
		return nil
	})
	return disabled, err
}

// TrustModule lets calls route through a registered module.
func (i *Instance) TrustModule(ctx context.Context, call Call, id fee.ModuleID) error {
	return i.setTrust(ctx, call, id, true)
}

// DistrustModule stops calls from routing through a module. The default
// module cannot be distrusted.
func (i *Instance) DistrustModule(ctx context.Context, call Call, id fee.ModuleID) error {
	return i.setTrust(ctx, call, id, false)
}

func (i *Instance) setTrust(ctx context.Context, call Call, id fee.ModuleID, trusted bool) error {
	return i.mutate(ctx, "set_module_trust", func(ctx context.Context, emit func(Event)) error {
		if err := i.requireOwnerCall(call); err != nil {
			return err
		}
		if _, err := i.modules.Lookup(id); err != nil {
			return err
		}
		if !trusted && id == i.config.DefaultModule {
			return apperrors.New(apperrors.CodeInvalidConfiguration, "default module cannot be distrusted")
		}
		previous := i.trusted[id]
		i.trusted[id] = trusted
		i.journal(ctx, func() { i.trusted[id] = previous })

		emit(Event{
			Kind:       KindModuleTrustChanged,
			Actor:      call.Caller,
			Attributes: map[string]string{"module": id.Hex(), "trusted": strconv.FormatBool(trusted)},
		})
		return nil
	})
}

// mutate runs fn as one all-or-nothing operation holding the instance lock.
// Undo closures recorded through journal run, under the lock, if the
// enclosing unit reverts after fn has returned.
func (i *Instance) mutate(ctx context.Context, op string, fn func(ctx context.Context, emit func(Event)) error) error {
	if i.entered(ctx) {
		return apperrors.WithMetadata(apperrors.CodeReentrantCall, "operation re-entered the instance",
			map[string]string{"operation": op, "instance": i.Address().Hex()})
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return i.gateway.Atomically(ctx, func(ctx context.Context) error {
		ctx = i.enter(ctx)
		var events []Event
		emit := func(e Event) {
			e.Instance = i.Address()
			events = append(events, e)
		}

		err := func() error {
			i.mu.Lock()
			defer i.mu.Unlock()
			return fn(ctx, emit)
		}()
		if err != nil {
			return err
		}

		publishCtx := context.WithoutCancel(ctx)
		for _, e := range events {
			i.gateway.OnCommit(ctx, func() { i.sink.Publish(publishCtx, e) })
		}
		return nil
	})
}

func (i *Instance) journal(ctx context.Context, undo func()) {
	if undo == nil {
		return
	}
	i.gateway.Journal(ctx, func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		undo()
	})
}

// module resolves a call's module. It expects i.mu to be held.
func (i *Instance) module(id fee.ModuleID) (fee.Module, error) {
	if id == (fee.ModuleID{}) {
		id = i.config.DefaultModule
	}
	if !i.trusted[id] {
		return nil, apperrors.WithMetadata(apperrors.CodeModuleUntrusted, "module is not trusted",
			map[string]string{"module": id.Hex()})
	}
	return i.modules.Lookup(id)
}

// split asks module for the parts owed to shares and rejects any answer that
// does not name exactly those recipients in order.
func split(module fee.Module, amount *asset.Amount, shares []fee.Share) ([]fee.Part, error) {
	parts, err := module.Split(amount, shares)
	if err != nil {
		return nil, err
	}
	if len(parts) != len(shares) {
		return nil, apperrors.WithMetadata(apperrors.CodeSplitMismatch, "module returned wrong number of parts",
			map[string]string{"module": module.ID().Hex(), "parts": strconv.Itoa(len(parts)), "shares": strconv.Itoa(len(shares))})
	}
	for idx, part := range parts {
		if part.Recipient != shares[idx].Recipient {
			return nil, apperrors.WithMetadata(apperrors.CodeSplitMismatch, "module changed a split recipient",
				map[string]string{"module": module.ID().Hex(), "part": strconv.Itoa(idx), "recipient": part.Recipient.Hex()})
		}
	}
	return parts, nil
}

func (i *Instance) openQuestion(questioner common.Address, index int) (question.Question, error) {
	q, err := i.book.Get(questioner, index)
	if err != nil {
		return question.Question{}, err
	}
	if q.Answered {
		return question.Question{}, notOpen(questioner, index)
	}
	return q, nil
}

func (i *Instance) requireOwner(call Call) error {
	if call.Caller != i.config.Owner {
		return apperrors.WithMetadata(apperrors.CodeNotOwner, "caller is not the owner",
			map[string]string{"caller": call.Caller.Hex()})
	}
	return nil
}

// requireOwnerCall checks an owner-only call that takes no value.
func (i *Instance) requireOwnerCall(call Call) error {
	if err := i.requireOwner(call); err != nil {
		return err
	}
	return requireNoValue(call)
}

func requireNoValue(call Call) error {
	if call.Value != nil && !call.Value.IsZero() {
		return apperrors.WithMetadata(apperrors.CodeUnexpectedPayment, "operation does not accept value",
			map[string]string{"attached": call.Value.Dec()})
	}
	return nil
}

func notOpen(questioner common.Address, index int) error {
	return apperrors.WithMetadata(apperrors.CodeQuestionNotOpen, "question is not open",
		map[string]string{"questioner": questioner.Hex(), "index": strconv.Itoa(index)})
}

func joinAmounts(amounts []asset.Amount) string {
	parts := make([]string, len(amounts))
	for idx := range amounts {
		parts[idx] = amounts[idx].Dec()
	}
	return strings.Join(parts, ",")
}
