package orderentry

import (
	"context"
	"time"
)

// PageCheckItem is one probed element of the remote UI contract.
type PageCheckItem struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"` // "id" or "label"
	Present bool   `json:"present"`
}

// PageCheckReport lists which fixed elements the order page currently
// exposes. All present means the automation can still drive the page.
type PageCheckReport struct {
	Items     []PageCheckItem `json:"items"`
	AllOK     bool            `json:"all_ok"`
	CheckedAt time.Time       `json:"checked_at"`
}

// PageCheck opens an order tab and probes every element id and control
// label the automation depends on. It is a diagnostic for "did the broker
// change the page", run on demand, never as part of a trade.
func PageCheck(ctx context.Context, driver PageDriver) (PageCheckReport, error) {
	if err := driver.Open(ctx); err != nil {
		return PageCheckReport{}, err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		driver.Close(closeCtx)
	}()

	report := PageCheckReport{AllOK: true, CheckedAt: time.Now().UTC()}
	for _, id := range []string{SymbolInputID, QuantityInputID} {
		present, err := driver.HasID(ctx, id)
		if err != nil {
			return PageCheckReport{}, err
		}
		report.Items = append(report.Items, PageCheckItem{Name: id, Kind: "id", Present: present})
		report.AllOK = report.AllOK && present
	}

	labels := []string{
		LabelSimplifiedTicket, LabelExpandedTicket,
		LabelBuy, LabelSell,
		LabelDollars, LabelShares,
		LabelMarket, LabelCash,
	}
	ticketSeen := false
	for _, label := range labels {
		present, err := driver.HasLabel(ctx, label)
		if err != nil {
			return PageCheckReport{}, err
		}
		report.Items = append(report.Items, PageCheckItem{Name: label, Kind: "label", Present: present})
		switch label {
		case LabelSimplifiedTicket, LabelExpandedTicket:
			// Only one ticket-mode marker exists at a time.
			ticketSeen = ticketSeen || present
		default:
			report.AllOK = report.AllOK && present
		}
	}
	report.AllOK = report.AllOK && ticketSeen
	return report, nil
}
