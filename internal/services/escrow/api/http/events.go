package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
	"github.com/louisbranch/askmi/internal/platform/pagination"
	"github.com/louisbranch/askmi/internal/services/escrow/storage"
	"github.com/louisbranch/askmi/internal/services/escrow/storage/filter"
)

type eventView struct {
	Seq           int64             `json:"seq"`
	Instance      string            `json:"instance"`
	Kind          string            `json:"kind"`
	Actor         string            `json:"actor"`
	Questioner    string            `json:"questioner"`
	QuestionIndex int               `json:"question_index"`
	ContentHash   string            `json:"content_hash"`
	Asset         string            `json:"asset"`
	Amount        string            `json:"amount"`
	Fee           string            `json:"fee"`
	Attributes    map[string]string `json:"attributes"`
	RecordedAt    time.Time         `json:"recorded_at"`
}

type eventPageView struct {
	Events        []eventView `json:"events"`
	NextPageToken string      `json:"next_page_token,omitempty"`
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	query := r.URL.Query()
	pageSize, err := pagination.ParsePageSize(query.Get("page_size"), h.cfg.EventPages)
	if err != nil {
		return invalid("page_size", "%v", err)
	}
	pageToken := query.Get("page_token")
	if pageToken != "" {
		if after, err := strconv.ParseInt(pageToken, 10, 64); err != nil || after < 0 {
			return invalid("page_token", "invalid page token")
		}
	}
	cond, err := filter.ParseEventFilter(query.Get("filter"))
	if err != nil {
		return invalid("filter", "%v", err)
	}
	page, err := h.cfg.Journal.ListEvents(r.Context(), storage.EventFilter{
		Instance:     instance.Address(),
		FilterClause: cond.Clause,
		FilterParams: cond.Params,
	}, pageSize, pageToken)
	if err != nil {
		return err
	}
	out := eventPageView{Events: make([]eventView, len(page.Events)), NextPageToken: page.NextPageToken}
	for i, record := range page.Events {
		out.Events[i] = viewEvent(record)
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) error {
	instance, err := h.instance(r)
	if err != nil {
		return err
	}
	seq, err := strconv.ParseInt(r.PathValue("seq"), 10, 64)
	if err != nil || seq <= 0 {
		return invalid("seq", "seq must be a positive integer")
	}
	record, err := h.cfg.Journal.GetEvent(r.Context(), seq)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil || record.Instance != instance.Address() {
		return apperrors.WithMetadata(apperrors.CodeNotFound, "event not found",
			map[string]string{"seq": strconv.FormatInt(seq, 10)})
	}
	writeJSON(w, http.StatusOK, viewEvent(record))
	return nil
}

func viewEvent(record storage.EventRecord) eventView {
	attributes := record.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}
	return eventView{
		Seq:           record.Seq,
		Instance:      record.Instance.Hex(),
		Kind:          record.Kind,
		Actor:         record.Actor.Hex(),
		Questioner:    record.Questioner.Hex(),
		QuestionIndex: record.QuestionIndex,
		ContentHash:   record.ContentHash.Hex(),
		Asset:         record.Asset,
		Amount:        record.Amount,
		Fee:           record.Fee,
		Attributes:    attributes,
		RecordedAt:    record.RecordedAt,
	}
}
