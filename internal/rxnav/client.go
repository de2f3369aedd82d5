// Package rxnav is the typed surface over the NLM RxNav REST API. Every call
// goes through an injected cached Fetcher; this package only builds request
// URLs and decodes response bodies.
package rxnav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// DefaultBaseURL is the production service endpoint.
const DefaultBaseURL = "https://rxnav.nlm.nih.gov/REST"

// ErrNotFound reports an identifier the service has no record for.
var ErrNotFound = errors.New("rxnav: no record for identifier")

// Fetcher resolves a request URL to a raw response body, cache-first.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Client issues typed queries against the service.
type Client struct {
	fetcher Fetcher
	baseURL string
	logger  *zap.Logger
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(fetcher Fetcher, baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{fetcher: fetcher, baseURL: baseURL, logger: logger}
}

// HistoricalStatus returns every RXCUI the service has recorded with the
// given status (see the Status constants).
func (c *Client) HistoricalStatus(ctx context.Context, status string) ([]int, error) {
	url := fmt.Sprintf("%s/rxcuihistory/status.json?type=%s", c.baseURL, status)

	var env statusEnvelope
	if err := c.get(ctx, url, &env); err != nil {
		return nil, err
	}

	rxcuis := make([]int, 0, len(env.RxcuiList.Rxcuis))
	for _, s := range env.RxcuiList.Rxcuis {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.logger.Warn("non-numeric rxcui in status list",
				zap.String("status", status),
				zap.String("value", s))
			continue
		}
		rxcuis = append(rxcuis, n)
	}
	return rxcuis, nil
}

// HistoryConcept returns the history record for one RXCUI. Identifiers the
// service has never seen return ErrNotFound.
func (c *Client) HistoryConcept(ctx context.Context, rxcui int) (*HistoryConcept, error) {
	url := fmt.Sprintf("%s/rxcuihistory/concept.json?rxcui=%d", c.baseURL, rxcui)

	var env historyEnvelope
	if err := c.get(ctx, url, &env); err != nil {
		return nil, err
	}
	raw := env.RxcuiHistoryConcept.RxcuiConcept
	if raw == nil {
		return nil, fmt.Errorf("rxcui %d: %w", rxcui, ErrNotFound)
	}

	hc := &HistoryConcept{
		Rxcui:        atoiOrZero(raw.Rxcui),
		Name:         raw.Str,
		TTY:          raw.TTY,
		Status:       raw.Status,
		StartDate:    raw.StartDate,
		EndDate:      raw.EndDate,
		IsCurrent:    raw.IsCurrent == "1",
		CurrentRxcui: atoiOrZero(raw.CurrentRxcui),
		SCDRxcui:     atoiOrZero(raw.SCDRxcui),
	}
	for _, b := range env.RxcuiHistoryConcept.BossConcept {
		hc.Bosses = append(hc.Bosses, Boss{
			Rxcui:     atoiOrZero(b.BossRxcui),
			Name:      b.BossName,
			BaseRxcui: atoiOrZero(b.BaseRxcui),
			BaseName:  b.BaseName,
		})
	}
	return hc, nil
}

// AllRelated returns every concept related to the RXCUI, flattened across the
// service's per-TTY groups.
func (c *Client) AllRelated(ctx context.Context, rxcui int) ([]RelatedConcept, error) {
	url := fmt.Sprintf("%s/rxcui/%d/allrelated.json", c.baseURL, rxcui)

	var env allRelatedEnvelope
	if err := c.get(ctx, url, &env); err != nil {
		return nil, err
	}

	var related []RelatedConcept
	for _, group := range env.AllRelatedGroup.ConceptGroup {
		for _, p := range group.ConceptProperties {
			n := atoiOrZero(p.Rxcui)
			if n == 0 {
				continue
			}
			tty := p.TTY
			if tty == "" {
				tty = group.TTY
			}
			related = append(related, RelatedConcept{Rxcui: n, Name: p.Name, TTY: tty})
		}
	}
	return related, nil
}

// RelatedRxcuis returns the RXCUIs of related concepts whose TTY is in ttys,
// in response order.
func (c *Client) RelatedRxcuis(ctx context.Context, rxcui int, ttys ...string) ([]int, error) {
	related, err := c.AllRelated(ctx, rxcui)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(ttys))
	for _, tty := range ttys {
		want[tty] = true
	}

	var rxcuis []int
	for _, r := range related {
		if want[r.TTY] {
			rxcuis = append(rxcuis, r.Rxcui)
		}
	}
	return rxcuis, nil
}

// AllHistoricalNDCs returns every NDC ever associated with the RXCUI,
// flattened across the service's time-bucketed groups. An RXCUI with no
// packages returns an empty slice, not an error.
func (c *Client) AllHistoricalNDCs(ctx context.Context, rxcui int) ([]string, error) {
	url := fmt.Sprintf("%s/rxcui/%d/allhistoricalndcs/json", c.baseURL, rxcui)

	var env ndcEnvelope
	if err := c.get(ctx, url, &env); err != nil {
		return nil, err
	}
	if env.HistoricalNdcConcept == nil {
		return nil, nil
	}

	var ndcs []string
	for _, t := range env.HistoricalNdcConcept.HistoricalNdcTime {
		for _, nt := range t.NdcTime {
			ndcs = append(ndcs, nt.NDC...)
		}
	}
	return ndcs, nil
}

// ClassTree returns the classification tree rooted at classID, for example
// VA000 for the VA drug-class hierarchy.
func (c *Client) ClassTree(ctx context.Context, classID string) ([]ClassTreeItem, error) {
	url := fmt.Sprintf("%s/rxclass/classTree/json?classId=%s", c.baseURL, classID)

	var env classTreeEnvelope
	if err := c.get(ctx, url, &env); err != nil {
		return nil, err
	}
	if len(env.RxclassTree) == 0 {
		return nil, fmt.Errorf("class %s: %w", classID, ErrNotFound)
	}
	return convertTreeItems(env.RxclassTree), nil
}

// ClassMembers returns the generic drug RXCUIs curated into the class by the
// given relation source (VA for the primary taxonomy, NDFRT for the legacy
// one). The membership relation carries curation the allrelated result does
// not, so it cannot be derived locally.
func (c *Client) ClassMembers(ctx context.Context, classID, relaSource string) ([]int, error) {
	url := fmt.Sprintf("%s/rxclass/classMembers.json?classId=%s&relaSource=%s&rela=has_VAClass&ttys=SCD+GPCK",
		c.baseURL, classID, relaSource)

	var env classMembersEnvelope
	if err := c.get(ctx, url, &env); err != nil {
		return nil, err
	}

	var rxcuis []int
	for _, m := range env.DrugMemberGroup.DrugMember {
		if n := atoiOrZero(m.MinConcept.Rxcui); n != 0 {
			rxcuis = append(rxcuis, n)
		}
	}
	return rxcuis, nil
}

func (c *Client) get(ctx context.Context, url string, v interface{}) error {
	body, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func convertTreeItems(raw []classTreeItem) []ClassTreeItem {
	items := make([]ClassTreeItem, 0, len(raw))
	for _, r := range raw {
		items = append(items, ClassTreeItem{
			ClassID:   r.MinConcept.ClassID,
			ClassName: r.MinConcept.ClassName,
			ClassType: r.MinConcept.ClassType,
			Children:  convertTreeItems(r.Children),
		})
	}
	return items
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
