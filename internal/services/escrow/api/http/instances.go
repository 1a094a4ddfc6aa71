package httpapi

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/louisbranch/askmi/internal/services/escrow/domain/fee"
	"github.com/louisbranch/askmi/internal/services/escrow/domain/question"
	"github.com/louisbranch/askmi/internal/services/escrow/factory"
	"github.com/louisbranch/askmi/internal/services/escrow/ledger"
)

type createInstanceRequest struct {
	Owner        string   `json:"owner"`
	FeeRecipient string   `json:"fee_recipient"`
	InitialAsset string   `json:"initial_asset"`
	InitialTiers []string `json:"initial_tiers"`
	TipAmount    string   `json:"tip_amount"`
	DevFeeBps    uint16   `json:"dev_fee_bps"`
}

type instanceView struct {
	Address         string            `json:"address"`
	Owner           string            `json:"owner"`
	FeeRecipient    string            `json:"fee_recipient"`
	DevFeeBps       uint16            `json:"dev_fee_bps"`
	RemovalFeeBps   uint16            `json:"removal_fee_bps"`
	TipAsset        string            `json:"tip_asset"`
	TipAmount       string            `json:"tip_amount"`
	TipPolicy       string            `json:"tip_policy"`
	DefaultModule   string            `json:"default_module"`
	Disabled        bool              `json:"disabled"`
	TrustedModules  []string          `json:"trusted_modules"`
	SupportedAssets []string          `json:"supported_assets"`
	Escrowed        map[string]string `json:"escrowed"`
}

type questionView struct {
	Index       int    `json:"index"`
	Questioner  string `json:"questioner"`
	Asset       string `json:"asset"`
	ContentHash string `json:"content_hash"`
	AuxPart1    string `json:"aux_part1"`
	AuxPart2    string `json:"aux_part2"`
	TierAmount  string `json:"tier_amount"`
	Status      string `json:"status"`
	TipCount    uint64 `json:"tip_count"`
}

// callFields are the routing fields shared by every mutating request.
type callFields struct {
	Value  string `json:"value,omitempty"`
	Module string `json:"module,omitempty"`
}

type askRequest struct {
	callFields
	Asset       string `json:"asset"`
	ContentHash string `json:"content_hash"`
	AuxPart1    string `json:"aux_part1"`
	AuxPart2    string `json:"aux_part2"`
	TierIndex   int    `json:"tier_index"`
}

type respondRequest struct {
	callFields
	Questioner  string `json:"questioner"`
	ContentHash string `json:"content_hash"`
	AuxPart1    string `json:"aux_part1"`
	AuxPart2    string `json:"aux_part2"`
	Index       int    `json:"index"`
}

type questionRefRequest struct {
	callFields
	Questioner string `json:"questioner"`
	Index      int    `json:"index"`
}

type updateTiersRequest struct {
	callFields
	Tiers []string `json:"tiers"`
}

type updateTipRequest struct {
	callFields
	Amount string `json:"amount"`
	Asset  string `json:"asset"`
}

type updateFeesRequest struct {
	callFields
	DevFeeBps     uint16 `json:"dev_fee_bps"`
	RemovalFeeBps uint16 `json:"removal_fee_bps"`
}

type moduleTrustRequest struct {
	callFields
	Trusted bool `json:"trusted"`
}

func (c callFields) call(r *http.Request) (ledger.Call, error) {
	caller, err := callerOf(r)
	if err != nil {
		return ledger.Call{}, err
	}
	value, err := parseValue(c.Value)
	if err != nil {
		return ledger.Call{}, err
	}
	module, err := parseOptionalAddress("module", c.Module)
	if err != nil {
		return ledger.Call{}, err
	}
	return ledger.Call{Caller: caller, Value: value, Module: module}, nil
}

func (h *Handler) createInstance(w http.ResponseWriter, r *http.Request) error {
	caller, err := callerOf(r)
	if err != nil {
		return err
	}
	var req createInstanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	params := factory.Params{DevFeeBps: req.DevFeeBps}
	if params.Owner, err = parseAddress("owner", req.Owner); err != nil {
		return err
	}
	if params.FeeRecipient, err = parseAddress("fee_recipient", req.FeeRecipient); err != nil {
		return err
	}
	if params.InitialAsset, err = parseAsset("initial_asset", req.InitialAsset); err != nil {
		return err
	}
	if params.InitialTiers, err = parseAmounts("initial_tiers", req.InitialTiers); err != nil {
		return err
	}
	if req.TipAmount != "" {
		if params.TipAmount, err = parseAmount("tip_amount", req.TipAmount); err != nil {
			return err
		}
	}

	instance, err := h.registry.Instantiate(r.Context(), caller, params)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, viewInstance(r, instance))
	return nil
}

func (h *Handler) listInstances(w http.ResponseWriter, _ *http.Request) error {
	addresses := h.registry.Instances()
	out := make([]string, len(addresses))
	for i, address := range addresses {
		out[i] = address.Hex()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"instances": out})
	return nil
}

func (h *Handler) listModules(w http.ResponseWriter, _ *http.Request) error {
	ids := h.registry.Modules()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Hex()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"modules": out})
	return nil
}

func (h *Handler) getInstance(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewInstance(r, instance))
	return nil
}

func (h *Handler) getTiers(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	a, err := parseAsset("asset", r.PathValue("asset"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset": a.String(),
		"tiers": amountStrings(instance.Tiers(r.Context(), a)),
	})
	return nil
}

func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	assets := instance.SupportedAssets(r.Context())
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.String()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"assets": out})
	return nil
}

func (h *Handler) listQuestioners(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	questioners := instance.Questioners(r.Context())
	out := make([]string, len(questioners))
	for i, q := range questioners {
		out[i] = q.Hex()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"questioners": out})
	return nil
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	questioner, err := parseAddress("questioner", r.PathValue("questioner"))
	if err != nil {
		return err
	}
	questions := instance.Questions(r.Context(), questioner)
	out := make([]questionView, len(questions))
	for i, q := range questions {
		out[i] = viewQuestion(i, q)
	}
	writeJSON(w, http.StatusOK, map[string][]questionView{"questions": out})
	return nil
}

func (h *Handler) ask(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	var req askRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	a, err := parseAsset("asset", req.Asset)
	if err != nil {
		return err
	}
	contentHash, err := parseHash("content_hash", req.ContentHash)
	if err != nil {
		return err
	}
	aux1, err := parseAux("aux_part1", req.AuxPart1)
	if err != nil {
		return err
	}
	aux2, err := parseAux("aux_part2", req.AuxPart2)
	if err != nil {
		return err
	}

	index, err := instance.Ask(r.Context(), call, a, contentHash, aux1, aux2, req.TierIndex)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, map[string]int{"index": index})
	return nil
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	var req respondRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	questioner, err := parseAddress("questioner", req.Questioner)
	if err != nil {
		return err
	}
	contentHash, err := parseHash("content_hash", req.ContentHash)
	if err != nil {
		return err
	}
	aux1, err := parseAux("aux_part1", req.AuxPart1)
	if err != nil {
		return err
	}
	aux2, err := parseAux("aux_part2", req.AuxPart2)
	if err != nil {
		return err
	}

	if err := instance.Respond(r.Context(), call, questioner, contentHash, aux1, aux2, req.Index); err != nil {
		return err
	}
	return h.writeQuestion(w, r, instance, questioner, req.Index)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	var req questionRefRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	questioner, err := parseAddress("questioner", req.Questioner)
	if err != nil {
		return err
	}
	if err := instance.Remove(r.Context(), call, questioner, req.Index); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *Handler) tip(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	var req questionRefRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	questioner, err := parseAddress("questioner", req.Questioner)
	if err != nil {
		return err
	}
	if err := instance.IssueTip(r.Context(), call, questioner, req.Index); err != nil {
		return err
	}
	return h.writeQuestion(w, r, instance, questioner, req.Index)
}

func (h *Handler) updateTiers(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	a, err := parseAsset("asset", r.PathValue("asset"))
	if err != nil {
		return err
	}
	var req updateTiersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	tiers, err := parseAmounts("tiers", req.Tiers)
	if err != nil {
		return err
	}
	if err := instance.UpdateTiers(r.Context(), call, a, tiers); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset": a.String(),
		"tiers": amountStrings(instance.Tiers(r.Context(), a)),
	})
	return nil
}

func (h *Handler) updateTip(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	var req updateTipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return err
	}
	a, err := parseAsset("asset", req.Asset)
	if err != nil {
		return err
	}
	if err := instance.UpdateTip(r.Context(), call, amount, a); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewInstance(r, instance))
	return nil
}

func (h *Handler) updateFees(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	var req updateFeesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	if err := instance.UpdateFees(r.Context(), call, req.DevFeeBps, req.RemovalFeeBps); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewInstance(r, instance))
	return nil
}

func (h *Handler) toggleDisabled(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	var req callFields
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	disabled, err := instance.ToggleDisabled(r.Context(), call)
	if err != nil {
		return err
	}
	module := call.Module
	if module == (fee.ModuleID{}) {
		module = instance.Config(r.Context()).DefaultModule
	}
	writeJSON(w, http.StatusOK, map[string]any{"module": module.Hex(), "disabled": disabled})
	return nil
}

func (h *Handler) setModuleTrust(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	module, err := parseAddress("module", r.PathValue("module"))
	if err != nil {
		return err
	}
	var req moduleTrustRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	call, err := req.call(r)
	if err != nil {
		return err
	}
	if req.Trusted {
		err = instance.TrustModule(r.Context(), call, module)
	} else {
		err = instance.DistrustModule(r.Context(), call, module)
	}
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewInstance(r, instance))
	return nil
}

func (h *Handler) writeQuestion(w http.ResponseWriter, r *http.Request, instance *ledger.Instance, questioner common.Address, index int) error {
	q, err := instance.Question(r.Context(), questioner, index)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, viewQuestion(index, q))
	return nil
}

func viewInstance(r *http.Request, instance *ledger.Instance) instanceView {
	ctx := r.Context()
	cfg := instance.Config(ctx)
	view := instanceView{
		Address:         instance.Address().Hex(),
		Owner:           cfg.Owner.Hex(),
		FeeRecipient:    cfg.FeeRecipient.Hex(),
		DevFeeBps:       cfg.DevFeeBps,
		RemovalFeeBps:   cfg.RemovalFeeBps,
		TipAsset:        cfg.TipAsset.String(),
		TipAmount:       cfg.TipAmount.Dec(),
		TipPolicy:       cfg.TipPolicy.String(),
		DefaultModule:   cfg.DefaultModule.Hex(),
		Disabled:        instance.Disabled(ctx, fee.ModuleID{}),
		TrustedModules:  []string{},
		SupportedAssets: []string{},
		Escrowed:        map[string]string{},
	}
	for _, id := range instance.TrustedModules(ctx) {
		view.TrustedModules = append(view.TrustedModules, id.Hex())
	}
	for _, a := range instance.SupportedAssets(ctx) {
		view.SupportedAssets = append(view.SupportedAssets, a.String())
	}
	for a, amount := range instance.Escrowed(ctx) {
		view.Escrowed[a.String()] = amount.Dec()
	}
	return view
}

func viewQuestion(index int, q question.Question) questionView {
	return questionView{
		Index:       index,
		Questioner:  q.Questioner.Hex(),
		Asset:       q.Asset.String(),
		ContentHash: q.ContentHash.Hex(),
		AuxPart1:    q.AuxPart1.Hex(),
		AuxPart2:    q.AuxPart2.Hex(),
		TierAmount:  q.TierAmount.Dec(),
		Status:      q.Status().String(),
		TipCount:    q.TipCount,
	}
}
