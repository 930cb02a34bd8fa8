/*
Package reciprocity decides, one round at a time, what a BitTorrent peer requests and how it spends
its upload budget.

Each Agent owns a rarest-first piece selector, a reciprocity ledger and one allocation strategy:
proportional share, fixed-slot tit-for-tat or a ratio auction. A harness drives it:

	a, _ := reciprocity.NewAgent("me", reciprocity.NewDefaultConfig())
	for round := 0; ; round++ {
		reqs := a.Requests(round, self, view)
		// Deliver reqs, collect the requests addressed to us.
		ups := a.Uploads(round, incoming, view, history)
		// Perform the transfers, append them to history.
	}
*/
package reciprocity
