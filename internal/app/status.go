package app

import (
	"context"
	"fmt"
	"io"
)

// Status prints a one-shot report of the node and the market to w.
func (a *App) Status(ctx context.Context, w io.Writer) error {
	collab, err := a.newCollaborators()
	if err != nil {
		return err
	}
	defer collab.close()

	r := a.newReporter(collab)
	for _, section := range []string{r.Status(ctx), r.Mempool(ctx), r.Price(ctx), r.BTCInfo(ctx)} {
		if _, err := fmt.Fprintf(w, "%s\n\n", section); err != nil {
			return err
		}
	}
	return nil
}
