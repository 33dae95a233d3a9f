package app

import (
	"context"
	"flag"
	"fmt"

	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/cursorstore"
	"github.com/dmitrijs2005/sfpubsub/internal/flagx"
	"github.com/dmitrijs2005/sfpubsub/internal/pubsub"
)

// listCursors prints stored replay cursors, or removes one with -delete.
// -history prints the checkpoints kept for a key, newest first.
func (a *App) listCursors(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cursors", flag.ContinueOnError)
	del := fs.String("delete", "", "remove the cursor and history stored under key")
	history := fs.String("history", "", "show the checkpoint history of key")
	if err := fs.Parse(flagx.FilterArgs(args, []string{"-delete", "-history"})); err != nil {
		return err
	}
	if a.cursors == nil {
		return fmt.Errorf("%w: no cursor database configured", common.ErrInvalidArgument)
	}

	if *del != "" {
		if err := a.cursors.Delete(ctx, *del); err != nil {
			return err
		}
		a.logger.Info(ctx, "cursor deleted", "key", *del)
		return nil
	}

	var (
		list []cursorstore.Cursor
		err  error
	)
	if *history != "" {
		list, err = a.cursors.History(ctx, *history)
	} else {
		list, err = a.cursors.List(ctx)
	}
	if err != nil {
		return err
	}
	for _, c := range list {
		if err := a.writeJSON(cursorLine{Key: c.Key, ReplayID: pubsub.ReplayID(c.ReplayID).String(), UpdatedAt: c.UpdatedAt}); err != nil {
			return err
		}
	}
	return nil
}
